package keysource

import (
	"context"
	"strings"
	"sync"

	"github.com/roach88/keysettle/internal/sensor"
)

// MemoryLister serves keys from an in-memory bucket map.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemoryLister struct {
	mu      sync.Mutex
	buckets map[string]sensor.KeySet
	calls   int
}

// NewMemoryLister creates an empty lister.
func NewMemoryLister() *MemoryLister {
	return &MemoryLister{buckets: make(map[string]sensor.KeySet)}
}

// Put adds keys to bucket.
func (m *MemoryLister) Put(bucket string, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucket]
	if !ok {
		b = sensor.NewKeySet()
		m.buckets[bucket] = b
	}
	for _, k := range keys {
		b[k] = struct{}{}
	}
}

// Delete removes keys from bucket.
func (m *MemoryLister) Delete(bucket string, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.buckets[bucket], k)
	}
}

// Replace sets the full contents of bucket.
func (m *MemoryLister) Replace(bucket string, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucket] = sensor.NewKeySet(keys...)
}

// ListKeys returns the keys in bucket that start with prefix.
func (m *MemoryLister) ListKeys(ctx context.Context, bucket, prefix string) (sensor.KeySet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	out := sensor.NewKeySet()
	for k := range m.buckets[bucket] {
		if strings.HasPrefix(k, prefix) {
			out[k] = struct{}{}
		}
	}
	return out, nil
}

// Calls returns how many times ListKeys ran.
func (m *MemoryLister) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
