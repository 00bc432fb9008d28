package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/seanmobrien/we-dont-need-no-education-sub012/cache"
	"github.com/seanmobrien/we-dont-need-no-education-sub012/internal/config"
	"github.com/seanmobrien/we-dont-need-no-education-sub012/internal/jobs"
)

// maxWarmBody bounds how much of a warmed response is buffered. Anything
// larger is left to the streaming tier at request time.
const maxWarmBody = 4 << 20

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration:", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	tiered := cache.New(cache.NewRedisStore(client), cache.Config{
		TTL:            cfg.Cache.TTL(),
		MaxChunks:      cfg.Cache.MaxChunks,
		MaxTotalBytes:  cfg.Cache.MaxTotalBytes,
		MemoryCapacity: cfg.Cache.MemoryCapacity,
		DedupeEnabled:  cfg.Cache.DedupeEnabled,
	}, logger)

	httpClient := &http.Client{Timeout: 30 * time.Second}

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.Redis.Addr}, asynq.Config{
		Concurrency:    8,
		StrictPriority: false,
		Queues: map[string]int{
			"warm":    10, // higher priority
			"default": 5,  // default priority
		},
	})
	mux := asynq.NewServeMux()

	mux.HandleFunc(jobs.TaskWarmFetch, func(ctx context.Context, t *asynq.Task) error {
		var p jobs.WarmFetchPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			log.Printf("[asynq] bad payload: %v", err)
			return err
		}
		log.Printf("[warm] start key=%s url=%s", p.CacheKey, p.URL)
		start := time.Now()
		err := warmFetch(ctx, tiered, httpClient, p)
		duration := time.Since(start)

		if err != nil {
			// Check if error is retryable
			if isRetryableError(err) {
				log.Printf("[warm] retryable error key=%s duration=%v: %v", p.CacheKey, duration, err)
				return err // allow retry
			}
			log.Printf("[warm] permanent error key=%s duration=%v: %v (dropping job)", p.CacheKey, duration, err)
			return nil // don't retry permanent failures
		}
		log.Printf("[warm] done key=%s duration=%v", p.CacheKey, duration)
		return nil
	})

	log.Println("Worker running...")
	log.Fatal(srv.Run(mux))
}

// warmFetch performs the upstream request and writes the result through the
// cache so subsequent lookups hit.
func warmFetch(ctx context.Context, tiered *cache.TieredCache, client *http.Client, p jobs.WarmFetchPayload) error {
	_, err := tiered.GetOrFetch(ctx, p.CacheKey, func(ctx context.Context) (*cache.Value, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("build warm request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("warm fetch: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxWarmBody))
		if err != nil {
			return nil, fmt.Errorf("read warm response: %w", err)
		}

		headers := make(map[string]string, len(resp.Header))
		for name := range resp.Header {
			headers[name] = resp.Header.Get(name)
		}
		return &cache.Value{Body: body, Headers: headers, StatusCode: resp.StatusCode}, nil
	})
	return err
}

// isRetryableError determines if an error should trigger a job retry
func isRetryableError(err error) bool {
	errStr := strings.ToLower(err.Error())

	// Network/connectivity issues - should retry
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") {
		return true
	}

	// Origin rate limiting - should retry later
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") {
		return true
	}

	// Temporary server errors - should retry
	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return true
	}

	// Everything else (auth failures, bad data, etc.) - don't retry
	return false
}
