package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StreamTier persists large or streamed responses in Redis as an ordered
// list of base64 chunks under <key>:stream, with headers and status under
// the sibling <key>:stream:meta. The two keys are written independently:
// there is no cross-key transaction, and a reader may observe one without
// the other. Replay handles both gaps.
type StreamTier struct {
	store     Store
	ttl       time.Duration
	maxChunks int
	maxBytes  int64
	logger    zerolog.Logger
}

// NewStreamTier creates the streaming Redis tier. maxChunks and maxBytes
// bound how much of any single stream is mirrored; whichever cap is hit
// first ends the capture session.
func NewStreamTier(store Store, ttl time.Duration, maxChunks int, maxBytes int64, logger zerolog.Logger) *StreamTier {
	return &StreamTier{store: store, ttl: ttl, maxChunks: maxChunks, maxBytes: maxBytes, logger: logger}
}

// CacheStream captures a response stream into Redis without blocking the
// caller. consumed holds bytes the caller had already read off the stream
// (e.g. for sniffing) before capture started; they are pushed first so the
// replayed body matches the original byte-for-byte. Live chunks then arrive
// on the chunks channel, which the producer closes when the stream ends.
//
// The session stops appending, silently, once either cap is reached. A
// chunk that would cross the byte cap is dropped whole rather than
// truncated. The first push failure halts pushes for the rest of the
// session. Whatever happens, the TTL is set on both keys at the end, and no
// error ever leaves the capture goroutine.
func (t *StreamTier) CacheStream(ctx context.Context, key string, chunks <-chan []byte, meta StreamMetadata, consumed [][]byte) {
	// The session outlives the request that started it; a canceled caller
	// context must not stop the remaining pushes or the final TTL sealing.
	go t.capture(context.WithoutCancel(ctx), key, chunks, meta, consumed)
}

func (t *StreamTier) capture(ctx context.Context, key string, chunks <-chan []byte, meta StreamMetadata, consumed [][]byte) {
	logger := t.logger.With().Str("key", key).Str("capture_session", uuid.NewString()).Logger()

	if raw, err := json.Marshal(meta); err != nil {
		logger.Warn().Err(err).Msg("could not encode stream metadata")
	} else if err := t.store.SetWithExpiry(ctx, streamMetaKey(key), string(raw), t.ttl); err != nil {
		logger.Warn().Err(err).Msg("could not write stream metadata")
	}

	var (
		chunkCount int
		totalBytes int64
		halted     bool
	)
	push := func(chunk []byte) {
		if halted || len(chunk) == 0 {
			return
		}
		if chunkCount >= t.maxChunks || totalBytes+int64(len(chunk)) > t.maxBytes {
			halted = true
			return
		}
		encoded := base64.StdEncoding.EncodeToString(chunk)
		if err := t.store.ListPush(ctx, streamKey(key), encoded); err != nil {
			logger.Warn().Err(err).Int("chunks", chunkCount).Msg("stream chunk push failed, halting capture")
			halted = true
			return
		}
		chunkCount++
		totalBytes += int64(len(chunk))
	}

	for _, chunk := range consumed {
		push(chunk)
	}
	for chunk := range chunks {
		push(chunk)
	}

	if err := t.store.Expire(ctx, streamKey(key), t.ttl); err != nil {
		logger.Warn().Err(err).Msg("could not set TTL on stream chunks")
	}
	if err := t.store.Expire(ctx, streamMetaKey(key), t.ttl); err != nil {
		logger.Warn().Err(err).Msg("could not set TTL on stream metadata")
	}
	logger.Debug().Int("chunks", chunkCount).Int64("bytes", totalBytes).Msg("stream capture finished")
}

// TryStreamReplay reconstructs a response from a previously captured
// stream: body is the chunk list concatenated in stored order, status and
// headers come from the metadata key. Missing metadata defaults to status
// 200 with no headers. A chunk-range read failure still yields a response
// built from whatever metadata is available; a partial or empty replay
// beats resurfacing a store error to the caller.
func (t *StreamTier) TryStreamReplay(ctx context.Context, key string) (*Value, bool) {
	n, err := t.store.ListLen(ctx, streamKey(key))
	if err != nil {
		t.logger.Warn().Err(err).Str("key", key).Msg("stream length check failed")
		recordBool(ctx, attrStreamReplay, false)
		recordBool(ctx, attrRedisUnavailable, true)
		return nil, false
	}
	if n == 0 {
		recordBool(ctx, attrStreamReplay, false)
		return nil, false
	}

	meta := StreamMetadata{StatusCode: 200}
	if raw, err := t.store.Get(ctx, streamMetaKey(key)); err != nil {
		if !errors.Is(err, ErrNotFound) {
			t.logger.Warn().Err(err).Str("key", key).Msg("stream metadata read failed")
		}
	} else if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		t.logger.Warn().Err(err).Str("key", key).Msg("stream metadata is malformed")
		meta = StreamMetadata{StatusCode: 200}
	}

	var body []byte
	encoded, err := t.store.ListRange(ctx, streamKey(key), 0, -1)
	if err != nil {
		t.logger.Warn().Err(err).Str("key", key).Msg("stream chunk read failed, replaying metadata only")
	} else {
		for _, e := range encoded {
			chunk, err := base64.StdEncoding.DecodeString(e)
			if err != nil {
				// A corrupt chunk ends the body here; appending later
				// chunks would reorder the stream.
				t.logger.Warn().Err(err).Str("key", key).Msg("stream chunk is malformed")
				break
			}
			body = append(body, chunk...)
		}
	}

	recordBool(ctx, attrStreamReplay, true)
	recordInt(ctx, attrStatusCode, meta.StatusCode)
	return &Value{Body: body, Headers: meta.Headers, StatusCode: meta.StatusCode}, true
}
