package cache

import (
	"context"
	"sync"
)

// Future is a single-assignment result shared by every caller interested in
// the same cache key. It is stored directly as the cache entry, which makes
// "cache hit" and "await the in-flight fetch" the same lookup: whoever finds
// the entry waits on the same underlying result as the caller that created
// it. A rejected future replays its error to every waiter.
type Future struct {
	done chan struct{}
	once sync.Once
	val  *Value
	err  error
}

// NewFuture returns an unsettled future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// ResolvedFuture returns a future already settled with v.
func ResolvedFuture(v *Value) *Future {
	f := NewFuture()
	f.Resolve(v)
	return f
}

// Resolve settles the future with a value. Only the first Resolve or Reject
// takes effect.
func (f *Future) Resolve(v *Value) {
	f.once.Do(func() {
		f.val = v
		close(f.done)
	})
}

// Reject settles the future with an error.
func (f *Future) Reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (*Value, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done reports whether the future has settled.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
