package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client), mr
}

func testConfig() Config {
	return Config{
		TTL:            time.Minute,
		MaxChunks:      64,
		MaxTotalBytes:  1 << 20,
		MemoryCapacity: 16,
		DedupeEnabled:  true,
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// recordedSpan returns a context carrying a live span plus a function that
// ends the span and returns its attributes.
func recordedSpan(t *testing.T) (context.Context, func() map[attribute.Key]attribute.Value) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("cache_test").Start(context.Background(), "lookup")
	return ctx, func() map[attribute.Key]attribute.Value {
		span.End()
		spans := recorder.Ended()
		require.NotEmpty(t, spans)
		attrs := make(map[attribute.Key]attribute.Value)
		for _, kv := range spans[len(spans)-1].Attributes() {
			attrs[kv.Key] = kv.Value
		}
		return attrs
	}
}

// brokenStore fails every operation, standing in for an unreachable Redis.
type brokenStore struct{}

var errStoreDown = errors.New("connection refused")

func (brokenStore) Get(context.Context, string) (string, error) { return "", errStoreDown }
func (brokenStore) SetWithExpiry(context.Context, string, string, time.Duration) error {
	return errStoreDown
}
func (brokenStore) ListLen(context.Context, string) (int64, error) { return 0, errStoreDown }
func (brokenStore) ListRange(context.Context, string, int64, int64) ([]string, error) {
	return nil, errStoreDown
}
func (brokenStore) ListPush(context.Context, string, string) error { return errStoreDown }
func (brokenStore) Delete(context.Context, ...string) error { return errStoreDown }
func (brokenStore) Expire(context.Context, string, time.Duration) error { return errStoreDown }
