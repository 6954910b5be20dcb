package sensor

import (
	"fmt"
	"time"
)

// Mode is the host execution mode for the sensor.
type Mode string

const (
	// ModePoke keeps the sensor alive between pokes.
	ModePoke Mode = "poke"

	// ModeReschedule releases the sensor between pokes. The key-set
	// baseline would be lost every cycle, so this mode is rejected.
	ModeReschedule Mode = "reschedule"
)

// Default option values.
const (
	DefaultInactivityPeriod = 60 * time.Second
	DefaultMinObjects       = 1
	DefaultPokeInterval     = 60 * time.Second
	DefaultTimeout          = 7 * 24 * time.Hour
)

// Options configures a KeysUnchangedSensor.
type Options struct {
	// Bucket and Prefix are passed through to the Lister untouched.
	Bucket string
	Prefix string

	// InactivityPeriod is how long the key set must stay unchanged.
	InactivityPeriod time.Duration

	// MinObjects is the smallest key set that may be declared stable.
	MinObjects int

	// AllowDelete treats deletions as ordinary changes instead of failures.
	AllowDelete bool

	// SoftFail degrades runtime failures into skips.
	SoftFail bool

	// PreviousObjects seeds the baseline. When set, the first poke is
	// compared against it instead of becoming the baseline.
	PreviousObjects KeySet

	// Mode, PokeInterval, Timeout and Deferrable are consumed by the host.
	Mode         Mode
	PokeInterval time.Duration
	Timeout      time.Duration
	Deferrable   bool
}

// DefaultOptions returns options with every default filled in.
func DefaultOptions() Options {
	return Options{
		InactivityPeriod: DefaultInactivityPeriod,
		MinObjects:       DefaultMinObjects,
		Mode:             ModePoke,
		PokeInterval:     DefaultPokeInterval,
		Timeout:          DefaultTimeout,
	}
}

// withDefaults fills zero-valued host fields. InactivityPeriod and MinObjects
// are left alone: zero is a meaningful value for both.
func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModePoke
	}
	if o.PokeInterval == 0 {
		o.PokeInterval = DefaultPokeInterval
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Validate checks the options for combinations the sensor cannot honour.
// Every failure is a CONFIG_INVALID SensorError.
func (o Options) Validate() error {
	switch o.Mode {
	case ModePoke, "":
	case ModeReschedule:
		return NewConfigError("mode",
			"reschedule mode is not supported: the previous key set must stay in memory between pokes")
	default:
		return NewConfigError("mode", fmt.Sprintf("unknown mode %q", o.Mode))
	}

	if o.Bucket == "" {
		return NewConfigError("bucket", "bucket is required")
	}
	if o.InactivityPeriod < 0 {
		return NewConfigError("inactivity_period",
			fmt.Sprintf("inactivity period must not be negative, got %s", o.InactivityPeriod))
	}
	if o.MinObjects < 0 {
		return NewConfigError("min_objects",
			fmt.Sprintf("min objects must not be negative, got %d", o.MinObjects))
	}
	if o.PokeInterval < 0 {
		return NewConfigError("poke_interval",
			fmt.Sprintf("poke interval must be positive, got %s", o.PokeInterval))
	}
	if o.Timeout < 0 {
		return NewConfigError("timeout",
			fmt.Sprintf("timeout must be positive, got %s", o.Timeout))
	}
	return nil
}
