// Package cache provides a small cache abstraction with multi-backend
// support.
//
// Backends:
//   - Memory (in-process, development and the CLI client)
//   - Redis (shared, for multi-instance server deployments)
package cache

import (
	"context"
	"errors"
	"time"
)

// Client defines the cache operations.
type Client interface {
	// Get fetches a value. Returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with an optional TTL. A zero ttl never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Close releases the backend connection.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// ErrNotFound reports a missing key.
var ErrNotFound = errors.New("cache: key not found")

// New creates a Client for the configured driver. An unknown or empty
// driver falls back to memory.
func New(cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	default:
		return NewMemory(cfg.Prefix), nil
	}
}
