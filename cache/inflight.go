package cache

import "sync"

// InflightRegistry tracks fetches that are outstanding but not yet
// committed to any cache tier. Unlike the memory tier it holds no TTL and
// survives nothing: the originator registers a future before fetching and
// forgets it once the future settles. Concurrent callers arriving in
// between share the registered future, including its rejection.
type InflightRegistry struct {
	mu      sync.Mutex
	entries map[string]*Future
}

// NewInflightRegistry creates an empty registry.
func NewInflightRegistry() *InflightRegistry {
	return &InflightRegistry{entries: make(map[string]*Future)}
}

// Register installs a new future under key unless one is already present.
// Exactly one caller per key gets started == true and becomes the
// originator, responsible for settling the future and calling Forget.
func (r *InflightRegistry) Register(key string) (fut *Future, started bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[key]; ok {
		return existing, false
	}
	fut = NewFuture()
	r.entries[key] = fut
	return fut, true
}

// TryDedupe returns the in-flight future for key, if any.
func (r *InflightRegistry) TryDedupe(key string) (*Future, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fut, ok := r.entries[key]
	return fut, ok
}

// Forget removes the entry for key. Called by the originator after the
// future settles; waiters already holding the future are unaffected.
func (r *InflightRegistry) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Len returns the number of outstanding entries.
func (r *InflightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
