package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Config carries the tier settings. It is read at construction time and
// threaded through explicitly; there are no ambient globals.
type Config struct {
	// TTL is the lifetime of every remote-tier key.
	TTL time.Duration
	// MaxChunks caps how many chunks one stream capture session may push.
	MaxChunks int
	// MaxTotalBytes caps the cumulative bytes one capture session may push.
	MaxTotalBytes int64
	// MemoryCapacity bounds the in-process tier (LRU beyond it).
	MemoryCapacity int
	// DedupeEnabled controls whether lookups consult the in-flight registry.
	DedupeEnabled bool
}

// TieredCache sequences the tiers for callers: memory, then buffered Redis,
// then streaming replay, then the in-flight registry. It stops at the first
// hit and performs no caching logic of its own beyond the ordering.
type TieredCache struct {
	store    Store
	memory   *MemoryTier
	buffered *BufferedTier
	stream   *StreamTier
	inflight *InflightRegistry
	capture  *CaptureCoordinator
	dedupe   bool
	logger   zerolog.Logger
}

// New wires the tiers around a single remote store.
func New(store Store, cfg Config, logger zerolog.Logger) *TieredCache {
	memory := NewMemoryTier(cfg.MemoryCapacity)
	stream := NewStreamTier(store, cfg.TTL, cfg.MaxChunks, cfg.MaxTotalBytes, logger)
	return &TieredCache{
		store:    store,
		memory:   memory,
		buffered: NewBufferedTier(store, memory, cfg.TTL, logger),
		stream:   stream,
		inflight: NewInflightRegistry(),
		capture:  NewCaptureCoordinator(stream, logger),
		dedupe:   cfg.DedupeEnabled,
		logger:   logger,
	}
}

// Memory exposes the in-process tier.
func (c *TieredCache) Memory() *MemoryTier { return c.memory }

// Buffered exposes the buffered Redis tier.
func (c *TieredCache) Buffered() *BufferedTier { return c.buffered }

// Stream exposes the streaming Redis tier.
func (c *TieredCache) Stream() *StreamTier { return c.stream }

// Capture exposes the stream capture coordinator.
func (c *TieredCache) Capture() *CaptureCoordinator { return c.capture }

// Lookup walks the tiers in order and returns the first hit as a future.
// Each tier records its own hit/miss attribute on the active span.
func (c *TieredCache) Lookup(ctx context.Context, key string) (*Future, bool) {
	if fut, ok := c.memory.Lookup(ctx, key); ok {
		return fut, true
	}
	if v, ok := c.buffered.TryBuffered(ctx, key); ok {
		return ResolvedFuture(v), true
	}
	if v, ok := c.stream.TryStreamReplay(ctx, key); ok {
		return ResolvedFuture(v), true
	}
	if c.dedupe {
		if fut, ok := c.inflight.TryDedupe(key); ok {
			recordBool(ctx, attrInflightDedupe, true)
			return fut, true
		}
		recordBool(ctx, attrInflightDedupe, false)
	}
	return nil, false
}

// GetOrFetch returns the cached value for key, or runs fetch exactly once
// per process to produce it. The future is installed in the memory tier and
// the in-flight registry before fetching, so concurrent callers for the
// same key all wait on the one upstream call. A successful result is
// mirrored to the buffered Redis tier in the background; a fetch error
// rejects the shared future (every waiter sees the real error) and evicts
// the memory entry so the next caller retries.
func (c *TieredCache) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (*Value, error)) (*Value, error) {
	if fut, ok := c.Lookup(ctx, key); ok {
		return fut.Wait(ctx)
	}

	var (
		fut     *Future
		started = true
	)
	if c.dedupe {
		fut, started = c.inflight.Register(key)
	} else {
		fut = NewFuture()
	}
	if !started {
		// Lost the race to another originator.
		return fut.Wait(ctx)
	}
	c.memory.Insert(key, fut)

	v, err := fetch(ctx)
	if err != nil {
		fut.Reject(err)
		c.memory.Remove(key)
		if c.dedupe {
			c.inflight.Forget(key)
		}
		return nil, err
	}

	fut.Resolve(v)
	if c.dedupe {
		c.inflight.Forget(key)
	}
	recordInt(ctx, attrStatusCode, v.StatusCode)

	go c.buffered.CacheBuffered(context.WithoutCancel(ctx), key, v)
	return v, nil
}

// Put installs an already-complete value: a resolved future in the memory
// tier now, and the buffered Redis record in the background.
func (c *TieredCache) Put(ctx context.Context, key string, v *Value) {
	c.memory.Insert(key, ResolvedFuture(v))
	go c.buffered.CacheBuffered(context.WithoutCancel(ctx), key, v)
}

// Purge drops every representation of key: the memory entry, the buffered
// record, and both streaming keys.
func (c *TieredCache) Purge(ctx context.Context, key string) {
	c.memory.Remove(key)
	if err := c.store.Delete(ctx, key, streamKey(key), streamMetaKey(key)); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("could not purge cache entry")
	}
}
