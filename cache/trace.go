package cache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Observability attributes recorded on the active span. Attribute names are
// shared with the dashboards and must stay stable.
const (
	attrCacheHit         = "cache_hit"
	attrRedisHit         = "redis_hit"
	attrRedisUnavailable = "redis_unavailable"
	attrStreamReplay     = "redis_stream_replay"
	attrInflightDedupe   = "inflight_dedupe"
	attrStatusCode       = "status_code"
)

func recordBool(ctx context.Context, name string, v bool) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.Bool(name, v))
}

func recordInt(ctx context.Context, name string, v int) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int(name, v))
}
