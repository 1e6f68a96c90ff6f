package state

import "sync"

// Bucket is the shared key/value store scoped to one running service
// instance. It simulates persisted application state for multi-step flows
// and vanishes when the instance stops.
//
// Reads proceed concurrently; a write excludes everything only for the
// in-memory mutation. No I/O or script execution happens under the lock.
type Bucket struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewBucket creates a bucket seeded from the definition's bucket block.
func NewBucket(seed map[string]any) *Bucket {
	data := make(map[string]any, len(seed))
	for k, v := range seed {
		data[k] = deepCopy(v)
	}
	return &Bucket{data: data}
}

// Get returns the value for key and whether it exists.
func (b *Bucket) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok
}

// Set stores a value under key.
func (b *Bucket) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
}

// Remove deletes key, returning the previous value if present.
func (b *Bucket) Remove(key string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if ok {
		delete(b.data, key)
	}
	return v, ok
}

// All returns a shallow copy of the bucket contents.
func (b *Bucket) All() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.data))
	for k, v := range b.data {
		out[k] = v
	}
	return out
}

// Snapshot returns a deep copy safe to hand to script contexts.
func (b *Bucket) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.data))
	for k, v := range b.data {
		out[k] = deepCopy(v)
	}
	return out
}

// Clear removes every key.
func (b *Bucket) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = make(map[string]any)
}

// Len returns the number of stored keys.
func (b *Bucket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}
