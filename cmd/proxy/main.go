// cmd/proxy/main.go
package main

import (
	"log"
	"net/http"
	"net/url"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/seanmobrien/we-dont-need-no-education-sub012/cache"
	"github.com/seanmobrien/we-dont-need-no-education-sub012/internal/config"
	"github.com/seanmobrien/we-dont-need-no-education-sub012/internal/http/routes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.OriginURL == "" {
		log.Fatal("ORIGIN_URL is required")
	}
	origin, err := url.Parse(cfg.OriginURL)
	if err != nil || !origin.IsAbs() {
		log.Fatalf("ORIGIN_URL must be an absolute URL: %q", cfg.OriginURL)
	}

	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	log.Printf("starting proxy on :%s", cfg.Port)

	// Cache tiers
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

	// Router / server
	s := routes.New(routes.ServerOptions{
		Cache:  tiered,
		Origin: origin,
		Cfg:    cfg,
	})
	h := hlog.NewHandler(logger)(s.Router)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: h}
	log.Fatal(srv.ListenAndServe())
}
