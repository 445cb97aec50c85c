// Package config loads process-wide historian defaults from the
// environment, once, at startup. Per-node settings (backend handle,
// strategy, polling interval) live in the gatherer registry, not here.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the historian-wide tuning surface.
type Config struct {
	// HTTPAddr is the demo front door's listen address.
	HTTPAddr string

	// DefaultMaxResponseSize caps a single HistoryRead fragment for
	// nodes registered without an explicit cap.
	DefaultMaxResponseSize uint64

	// MaxContinuationPoints bounds the continuation-point table per
	// session; overflow evicts the oldest point. Zero disables
	// continuation points entirely.
	MaxContinuationPoints int

	// ContinuationTimeout is the idle lifetime of a continuation point.
	ContinuationTimeout time.Duration

	// BackendInitialCapacity is the starting per-node store capacity of
	// the in-memory backend.
	BackendInitialCapacity int

	// Env is "dev" or "prod"; dev loosens CORS on the demo front door.
	Env string
}

// Load reads the environment, applying defaults for anything unset or
// malformed.
func Load() Config {
	return Config{
		HTTPAddr:               getString("HISTORIAN_HTTP_ADDR", "127.0.0.1:8080"),
		DefaultMaxResponseSize: uint64(getInt("HISTORIAN_MAX_RESPONSE_SIZE", 1024)),
		MaxContinuationPoints:  getInt("HISTORIAN_MAX_CONTINUATION_POINTS", 100),
		ContinuationTimeout:    getDuration("HISTORIAN_CONTINUATION_TIMEOUT", 10*time.Minute),
		BackendInitialCapacity: getInt("HISTORIAN_BACKEND_INITIAL_CAPACITY", 64),
		Env:                    getString("ENV", "prod"),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
