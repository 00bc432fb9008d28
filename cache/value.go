// Package cache provides a multi-tier cache for responses of outbound HTTP
// calls: an in-process memory tier holding shared futures, a Redis tier for
// buffered responses, a Redis tier for streamed responses, and in-flight
// request deduplication. Every internal failure degrades to a cache miss;
// the only error callers ever see is a genuine upstream fetch failure.
package cache

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound is returned by the store when a key is absent or expired.
	ErrNotFound = errors.New("cache entry not found or expired")
)

// Value is the canonical representation of a completed response. It is
// immutable once constructed; tiers share it through futures rather than
// copying it.
type Value struct {
	Body       []byte
	Headers    map[string]string
	StatusCode int
}

// StreamMetadata holds the non-body part of a streamed response. It is
// stored under its own key so it can be written and read independently of
// the chunk list. A replay that finds no metadata defaults to status 200.
type StreamMetadata struct {
	Headers    map[string]string `json:"headers"`
	StatusCode int               `json:"statusCode"`
}

// bufferedRecord is the wire format of a buffered entry. The field names are
// part of the Redis layout and must not change.
type bufferedRecord struct {
	BodyB64    string            `json:"bodyB64"`
	Headers    map[string]string `json:"headers"`
	StatusCode int               `json:"statusCode"`
}

func encodeBuffered(v *Value) (string, error) {
	rec := bufferedRecord{
		BodyB64:    base64.StdEncoding.EncodeToString(v.Body),
		Headers:    v.Headers,
		StatusCode: v.StatusCode,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeBuffered(raw string) (*Value, error) {
	var rec bufferedRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	body, err := base64.StdEncoding.DecodeString(rec.BodyB64)
	if err != nil {
		return nil, err
	}
	return &Value{Body: body, Headers: rec.Headers, StatusCode: rec.StatusCode}, nil
}

// streamKey and streamMetaKey derive the two sibling keys of a streaming
// entry from the caller's cache key.
func streamKey(key string) string     { return key + ":stream" }
func streamMetaKey(key string) string { return key + ":stream:meta" }
