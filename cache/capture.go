package cache

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// CaptureCoordinator taps a live response stream: the primary consumer
// reads exactly the bytes the origin sent, while a copy of each read is
// handed to the streaming tier in the background. Mirroring is strictly
// best-effort: if the mirror cannot keep up or the stream is abandoned,
// capture stops and the primary read path is untouched.
type CaptureCoordinator struct {
	stream *StreamTier
	logger zerolog.Logger
}

// NewCaptureCoordinator creates a coordinator feeding the given tier.
func NewCaptureCoordinator(stream *StreamTier, logger zerolog.Logger) *CaptureCoordinator {
	return &CaptureCoordinator{stream: stream, logger: logger}
}

// mirrorBuffer is how many chunks the mirror may lag behind the consumer
// before capture gives up.
const mirrorBuffer = 32

// Tee wraps src so that bytes read from the returned reader are also
// captured under key. consumed holds chunks already read off src before Tee
// was called (sniffed prefixes); they are mirrored first. The capture
// session ends when src is exhausted or closed.
func (c *CaptureCoordinator) Tee(ctx context.Context, key string, src io.ReadCloser, meta StreamMetadata, consumed [][]byte) io.ReadCloser {
	ch := make(chan []byte, mirrorBuffer)
	c.stream.CacheStream(ctx, key, ch, meta, consumed)
	return &captureReader{src: src, ch: ch}
}

type captureReader struct {
	src io.ReadCloser

	mu     sync.Mutex // guards ch sends against Close from another goroutine
	ch     chan []byte
	closed bool
}

func (r *captureReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, p[:n])
		r.mirror(chunk)
	}
	if err != nil {
		r.finish()
	}
	return n, err
}

func (r *captureReader) Close() error {
	r.finish()
	return r.src.Close()
}

func (r *captureReader) mirror(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- chunk:
	default:
		// Mirror is lagging. Dropping just this chunk would corrupt the
		// replayed body, so stop mirroring for good instead.
		r.closed = true
		close(r.ch)
	}
}

// finish ends the capture session; the streaming tier then seals both keys
// with their TTL.
func (r *captureReader) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}
