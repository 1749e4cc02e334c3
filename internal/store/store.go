// Package store persists the two churn values that survive restarts.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/churnwatch/churnwatch/internal/config"
	"github.com/churnwatch/churnwatch/pkg/logger"
)

// Persisted keys
const (
	KeyNextChurnHeight = "nextChurnHeight"
	KeyChurnInterval   = "churnInterval"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Store is a small durable integer key-value store.
type Store interface {
	// GetInt returns the value for key and whether it was present.
	GetInt(ctx context.Context, key string) (int64, bool, error)
	SetInt(ctx context.Context, key string, value int64) error
	Close() error
}

// Open builds the backend selected by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendFile, "":
		return NewFileStore(cfg.StateFilePath())
	case config.StoreBackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Prefix:   cfg.Store.RedisPrefix,
		}, log)
	case config.StoreBackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
