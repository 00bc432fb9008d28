package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// BufferedTier persists small, fully-buffered responses in Redis as one
// JSON record per key. Writes are best-effort: a failed write is logged and
// swallowed, never surfaced, because caching is an optimization rather than
// a correctness requirement.
type BufferedTier struct {
	store  Store
	memory *MemoryTier
	ttl    time.Duration
	logger zerolog.Logger
}

// NewBufferedTier creates the buffered Redis tier. Hits warm the given
// memory tier so the next lookup for the same key stays in-process.
func NewBufferedTier(store Store, memory *MemoryTier, ttl time.Duration, logger zerolog.Logger) *BufferedTier {
	return &BufferedTier{store: store, memory: memory, ttl: ttl, logger: logger}
}

// CacheBuffered stores v under key with the configured TTL.
func (t *BufferedTier) CacheBuffered(ctx context.Context, key string, v *Value) {
	raw, err := encodeBuffered(v)
	if err != nil {
		t.logger.Warn().Err(err).Str("key", key).Msg("could not encode buffered cache entry")
		return
	}
	if err := t.store.SetWithExpiry(ctx, key, raw, t.ttl); err != nil {
		t.logger.Warn().Err(err).Str("key", key).Msg("could not write buffered cache entry")
	}
}

// TryBuffered looks up a buffered entry. On a hit it reconstructs the value,
// warms the memory tier with an already-resolved future, and reports
// redis_hit. Remote errors and undecodable payloads read as a miss with
// redis_unavailable set; neither ever propagates.
func (t *BufferedTier) TryBuffered(ctx context.Context, key string) (*Value, bool) {
	raw, err := t.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		recordBool(ctx, attrRedisHit, false)
		return nil, false
	}
	if err != nil {
		t.logger.Warn().Err(err).Str("key", key).Msg("buffered cache read failed")
		recordBool(ctx, attrRedisHit, false)
		recordBool(ctx, attrRedisUnavailable, true)
		return nil, false
	}

	v, err := decodeBuffered(raw)
	if err != nil {
		t.logger.Warn().Err(err).Str("key", key).Msg("buffered cache entry is malformed")
		recordBool(ctx, attrRedisHit, false)
		recordBool(ctx, attrRedisUnavailable, true)
		return nil, false
	}

	t.memory.Insert(key, ResolvedFuture(v))
	recordBool(ctx, attrRedisHit, true)
	recordInt(ctx, attrStatusCode, v.StatusCode)
	return v, true
}
