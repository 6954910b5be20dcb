package sensor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keysettle/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Bucket = "test-bucket"
	opts.Prefix = "test-prefix/path"
	opts.InactivityPeriod = 12 * time.Second
	opts.PokeInterval = 100 * time.Millisecond
	opts.MinObjects = 1
	opts.AllowDelete = true
	return opts
}

func staticLister(keys ...string) Lister {
	return ListerFunc(func(ctx context.Context, bucket, prefix string) (KeySet, error) {
		return NewKeySet(keys...), nil
	})
}

func newTestSensor(t *testing.T, opts Options, lister Lister) (*KeysUnchangedSensor, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.DefaultEpoch)
	if lister == nil {
		lister = staticLister()
	}
	s, err := New(opts, lister, clk, WithLogger(quietLogger()))
	require.NoError(t, err)
	return s, clk
}

func TestNew_RescheduleModeNotAllowed(t *testing.T) {
	opts := testOptions()
	opts.Mode = ModeReschedule

	_, err := New(opts, staticLister(), nil)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "reschedule")
}

func TestNew_RescheduleModeNeverSoftFails(t *testing.T) {
	opts := testOptions()
	opts.Mode = ModeReschedule
	opts.SoftFail = true

	_, err := New(opts, staticLister(), nil)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.False(t, IsSkip(err), "configuration errors are never degraded to skips")
}

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		field  string
	}{
		{"missing bucket", func(o *Options) { o.Bucket = "" }, "bucket"},
		{"negative inactivity period", func(o *Options) { o.InactivityPeriod = -time.Second }, "inactivity_period"},
		{"negative min objects", func(o *Options) { o.MinObjects = -1 }, "min_objects"},
		{"negative poke interval", func(o *Options) { o.PokeInterval = -time.Second }, "poke_interval"},
		{"unknown mode", func(o *Options) { o.Mode = "sometimes" }, "mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)

			_, err := New(opts, staticLister(), nil)
			require.Error(t, err)

			var se *SensorError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, ErrCodeConfigInvalid, se.Code)
			assert.Equal(t, tt.field, se.Details["field"])
		})
	}
}

func TestNew_NilLister(t *testing.T) {
	_, err := New(testOptions(), nil, nil)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestNew_FillsHostDefaults(t *testing.T) {
	opts := Options{Bucket: "b", InactivityPeriod: time.Minute, MinObjects: 1}

	s, err := New(opts, staticLister(), nil, WithLogger(quietLogger()))
	require.NoError(t, err)

	got := s.Options()
	assert.Equal(t, ModePoke, got.Mode)
	assert.Equal(t, DefaultPokeInterval, got.PokeInterval)
	assert.Equal(t, DefaultTimeout, got.Timeout)
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, 60*time.Second, opts.InactivityPeriod)
	assert.Equal(t, 1, opts.MinObjects)
	assert.False(t, opts.AllowDelete)
	assert.False(t, opts.SoftFail)
	assert.Equal(t, ModePoke, opts.Mode)
}

func TestEvaluate_FilesDeletedBetweenPokesThrowError(t *testing.T) {
	opts := testOptions()
	opts.AllowDelete = false
	s, _ := newTestSensor(t, opts, nil)

	_, err := s.Evaluate(NewKeySet("a", "b"))
	require.NoError(t, err)

	_, err = s.Evaluate(NewKeySet("a"))
	require.Error(t, err)
	assert.True(t, IsIllegalState(err))
	assert.False(t, IsSkip(err))
	assert.Contains(t, err.Error(), "objects were deleted")
}

func TestEvaluate_KeyChanges(t *testing.T) {
	tests := []struct {
		name              string
		currentObjects    []KeySet
		expectedReturns   []bool
		inactivitySeconds []int64
	}{
		{
			name:              "resetting inactivity period after key change",
			currentObjects:    []KeySet{NewKeySet("a"), NewKeySet("a", "b"), NewKeySet("a", "b", "c")},
			expectedReturns:   []bool{false, false, false},
			inactivitySeconds: []int64{0, 0, 0},
		},
		{
			name:              "item was deleted with allow_delete",
			currentObjects:    []KeySet{NewKeySet("a", "b"), NewKeySet("a"), NewKeySet("a", "c")},
			expectedReturns:   []bool{false, false, false},
			inactivitySeconds: []int64{0, 0, 0},
		},
		{
			name:              "inactivity period was exceeded",
			currentObjects:    []KeySet{NewKeySet("a"), NewKeySet("a"), NewKeySet("a")},
			expectedReturns:   []bool{false, false, true},
			inactivitySeconds: []int64{0, 10, 20},
		},
		{
			name:              "not pass if empty key is given",
			currentObjects:    []KeySet{NewKeySet(), NewKeySet(), NewKeySet()},
			expectedReturns:   []bool{false, false, false},
			inactivitySeconds: []int64{0, 10, 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clk := newTestSensor(t, testOptions(), nil)

			for i, current := range tt.currentObjects {
				got, err := s.Evaluate(current)
				require.NoError(t, err, "step %d", i)
				assert.Equal(t, tt.expectedReturns[i], got, "step %d", i)
				assert.Equal(t, tt.inactivitySeconds[i], s.InactivitySeconds(), "step %d", i)
				clk.Advance(10 * time.Second)
			}
		})
	}
}

func TestEvaluate_ConstantSetWithTwentySecondPeriod(t *testing.T) {
	opts := testOptions()
	opts.InactivityPeriod = 20 * time.Second
	s, clk := newTestSensor(t, opts, nil)

	results := []bool{}
	seconds := []int64{}
	for i := 0; i < 3; i++ {
		got, err := s.Evaluate(NewKeySet("a"))
		require.NoError(t, err)
		results = append(results, got)
		seconds = append(seconds, s.InactivitySeconds())
		clk.Advance(10 * time.Second)
	}

	assert.Equal(t, []bool{false, false, true}, results)
	assert.Equal(t, []int64{0, 10, 20}, seconds)
}

func TestEvaluate_FirstCallIsAlwaysFalse(t *testing.T) {
	opts := testOptions()
	opts.InactivityPeriod = 0
	s, _ := newTestSensor(t, opts, nil)

	got, err := s.Evaluate(NewKeySet("a", "b"))
	require.NoError(t, err)
	assert.False(t, got, "first call only records the baseline")
	assert.True(t, s.Snapshot().BaselineRecorded)
	assert.Equal(t, 2, s.Snapshot().KeyCount)
}

func TestEvaluate_DeletionCheckedBeforeChange(t *testing.T) {
	opts := testOptions()
	opts.AllowDelete = false
	s, _ := newTestSensor(t, opts, nil)

	_, err := s.Evaluate(NewKeySet("a", "b"))
	require.NoError(t, err)

	// Adds "c" and drops "b" in the same cycle.
	_, err = s.Evaluate(NewKeySet("a", "c"))
	require.Error(t, err)
	assert.True(t, IsIllegalState(err))

	var se *SensorError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "b", se.Details["deleted"])
}

func TestSnapshot_KeyCountReportsListedSetAfterDeletion(t *testing.T) {
	opts := testOptions()
	opts.AllowDelete = false
	s, _ := newTestSensor(t, opts, nil)

	_, err := s.Evaluate(NewKeySet("a", "b", "c"))
	require.NoError(t, err)

	_, err = s.Evaluate(NewKeySet("a"))
	require.Error(t, err)
	assert.True(t, IsIllegalState(err))

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.KeyCount, "count reflects the listing, not the baseline")
	assert.False(t, snap.Changed)
}

func TestEvaluate_GrowingSetWithoutDeleteIsNotAnError(t *testing.T) {
	opts := testOptions()
	opts.AllowDelete = false
	s, _ := newTestSensor(t, opts, nil)

	for _, keys := range []KeySet{NewKeySet("a"), NewKeySet("a", "b"), NewKeySet("a", "b", "c")} {
		got, err := s.Evaluate(keys)
		require.NoError(t, err)
		assert.False(t, got)
		assert.Equal(t, int64(0), s.InactivitySeconds())
	}
}

func TestEvaluate_InactivityResetsOnlyOnChange(t *testing.T) {
	s, clk := newTestSensor(t, testOptions(), nil)

	sequence := []struct {
		keys    KeySet
		seconds int64
	}{
		{NewKeySet("a"), 0},
		{NewKeySet("a"), 5},
		{NewKeySet("a", "b"), 0},
		{NewKeySet("a", "b"), 5},
		{NewKeySet("b"), 0},
		{NewKeySet("b"), 5},
	}

	for i, step := range sequence {
		_, err := s.Evaluate(step.keys)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.seconds, s.InactivitySeconds(), "step %d", i)
		clk.Advance(5 * time.Second)
	}
}

func TestEvaluate_MinObjectsZeroAllowsEmptySet(t *testing.T) {
	opts := testOptions()
	opts.MinObjects = 0
	opts.InactivityPeriod = 10 * time.Second
	s, clk := newTestSensor(t, opts, nil)

	got, err := s.Evaluate(NewKeySet())
	require.NoError(t, err)
	assert.False(t, got)

	clk.Advance(10 * time.Second)
	got, err = s.Evaluate(NewKeySet())
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluate_NotEnoughObjects(t *testing.T) {
	opts := testOptions()
	opts.MinObjects = 3
	s, clk := newTestSensor(t, opts, nil)

	for i := 0; i < 5; i++ {
		got, err := s.Evaluate(NewKeySet("a", "b"))
		require.NoError(t, err)
		assert.False(t, got)
		clk.Advance(time.Minute)
	}
	assert.Equal(t, StateAccumulating, s.Snapshot().State)
}

func TestEvaluate_StableIsRecorded(t *testing.T) {
	s, clk := newTestSensor(t, testOptions(), nil)

	_, err := s.Evaluate(NewKeySet("a"))
	require.NoError(t, err)
	clk.Advance(12 * time.Second)

	got, err := s.Evaluate(NewKeySet("a"))
	require.NoError(t, err)
	assert.True(t, got)

	snap := s.Snapshot()
	assert.Equal(t, StateStable, snap.State)
	assert.Equal(t, 12*time.Second, snap.Inactivity)
	assert.False(t, snap.Changed)
}

func TestEvaluate_ClockMovingBackwardsClampsToZero(t *testing.T) {
	s, clk := newTestSensor(t, testOptions(), nil)

	_, err := s.Evaluate(NewKeySet("a"))
	require.NoError(t, err)

	clk.Advance(-30 * time.Second)
	got, err := s.Evaluate(NewKeySet("a"))
	require.NoError(t, err)
	assert.False(t, got)
	assert.Equal(t, int64(0), s.InactivitySeconds())
}

func TestEvaluate_FailIsKeysUnchanged(t *testing.T) {
	tests := []struct {
		name     string
		softFail bool
		wantSkip bool
	}{
		{name: "hard fail", softFail: false, wantSkip: false},
		{name: "soft fail", softFail: true, wantSkip: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Bucket = "test-bucket"
			opts.Prefix = "test-prefix/path"
			opts.SoftFail = tt.softFail
			opts.AllowDelete = false
			opts.PreviousObjects = NewKeySet("1", "2", "3")
			s, _ := newTestSensor(t, opts, nil)

			_, err := s.Evaluate(NewKeySet("1", "2"))
			require.Error(t, err)
			assert.Equal(t, tt.wantSkip, IsSkip(err))
			assert.True(t, IsIllegalState(err), "illegal state survives the skip wrapper")
			assert.Contains(t, err.Error(), "Illegal behavior: objects were deleted in test-bucket/test-prefix/path")
		})
	}
}

func TestEvaluate_SeededBaselineUnchanged(t *testing.T) {
	opts := testOptions()
	opts.InactivityPeriod = 0
	opts.PreviousObjects = NewKeySet("a")
	s, _ := newTestSensor(t, opts, nil)

	got, err := s.Evaluate(NewKeySet("a"))
	require.NoError(t, err)
	assert.True(t, got, "seeded baseline is compared, not re-recorded")
}

func TestExecuteComplete_Fail(t *testing.T) {
	tests := []struct {
		name     string
		softFail bool
		wantSkip bool
	}{
		{name: "hard fail", softFail: false, wantSkip: false},
		{name: "soft fail", softFail: true, wantSkip: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Bucket = "test-bucket"
			opts.Prefix = "test-prefix/path"
			opts.SoftFail = tt.softFail
			s, _ := newTestSensor(t, opts, nil)

			err := s.ExecuteComplete(Event{Status: EventStatusError, Message: "test message"})
			require.Error(t, err)
			assert.Equal(t, tt.wantSkip, IsSkip(err))
			assert.True(t, IsExternalEventError(err))
			assert.Contains(t, err.Error(), "test message")
		})
	}
}

func TestExecuteComplete_Success(t *testing.T) {
	s, _ := newTestSensor(t, testOptions(), nil)

	assert.NoError(t, s.ExecuteComplete(Event{Status: EventStatusSuccess}))
	assert.NoError(t, s.ExecuteComplete(Event{Status: "whatever"}))
}

func TestPoke_SucceedsOnUploadComplete(t *testing.T) {
	s, clk := newTestSensor(t, testOptions(), staticLister("a"))
	ctx := context.Background()

	got, err := s.Poke(ctx)
	require.NoError(t, err)
	assert.False(t, got)

	clk.Advance(10 * time.Second)
	got, err = s.Poke(ctx)
	require.NoError(t, err)
	assert.False(t, got)

	clk.Advance(10 * time.Second)
	got, err = s.Poke(ctx)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestPoke_PassesBucketAndPrefix(t *testing.T) {
	var gotBucket, gotPrefix string
	lister := ListerFunc(func(ctx context.Context, bucket, prefix string) (KeySet, error) {
		gotBucket, gotPrefix = bucket, prefix
		return NewKeySet(), nil
	})
	s, _ := newTestSensor(t, testOptions(), lister)

	_, err := s.Poke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-bucket", gotBucket)
	assert.Equal(t, "test-prefix/path", gotPrefix)
}

func TestPoke_ListerErrorIsWrapped(t *testing.T) {
	boom := errors.New("access denied")
	lister := ListerFunc(func(ctx context.Context, bucket, prefix string) (KeySet, error) {
		return nil, boom
	})
	s, _ := newTestSensor(t, testOptions(), lister)

	got, err := s.Poke(context.Background())
	require.Error(t, err)
	assert.False(t, got)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "test-bucket/test-prefix/path")
	assert.False(t, s.Snapshot().BaselineRecorded, "failed listing must not record a baseline")
}
