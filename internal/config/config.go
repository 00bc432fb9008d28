// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	OriginURL string `env:"ORIGIN_URL"`

	Redis RedisConfig
	Cache CacheConfig
}

// RedisConfig holds the connection settings for the remote cache tier
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// CacheConfig holds the tier settings
type CacheConfig struct {
	TTLSeconds     int   `env:"CACHE_TTL_SECONDS" envDefault:"300"`
	MaxChunks      int   `env:"CACHE_STREAM_MAX_CHUNKS" envDefault:"256"`
	MaxTotalBytes  int64 `env:"CACHE_STREAM_MAX_BYTES" envDefault:"1048576"`
	MemoryCapacity int   `env:"CACHE_MEMORY_CAPACITY" envDefault:"512"`
	DedupeEnabled  bool  `env:"CACHE_DEDUPE_ENABLED" envDefault:"true"`
}

// TTL returns the remote-tier entry lifetime as a duration
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration values are usable
func (c *Config) Validate() error {
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive, got %d", c.Cache.TTLSeconds)
	}
	if c.Cache.MaxChunks <= 0 {
		return fmt.Errorf("CACHE_STREAM_MAX_CHUNKS must be positive, got %d", c.Cache.MaxChunks)
	}
	if c.Cache.MaxTotalBytes <= 0 {
		return fmt.Errorf("CACHE_STREAM_MAX_BYTES must be positive, got %d", c.Cache.MaxTotalBytes)
	}
	if c.Cache.MemoryCapacity <= 0 {
		return fmt.Errorf("CACHE_MEMORY_CAPACITY must be positive, got %d", c.Cache.MemoryCapacity)
	}
	return nil
}
