// Package cache stores provider response bodies for a bounded time so repeated
// detail lookups within a run (or across runs, with Redis) skip the network.
package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cinesync/internal/config"
)

// Cache is a byte-oriented TTL cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// New builds the backend selected by cfg.Cache.Backend. The "none" backend
// returns a nil Cache.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Cache, error) {
	switch cfg.Cache.Backend {
	case "none":
		return nil, nil
	case "memory":
		return NewMemory(cfg.Cache.MaxEntries, cfg.CacheTTL()), nil
	case "redis":
		c, err := NewRedis(ctx, RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Info("response cache connected", zap.String("backend", "redis"), zap.String("addr", cfg.Cache.RedisAddr))
		}
		return c, nil
	default:
		return nil, fmt.Errorf("cache backend %q not supported", cfg.Cache.Backend)
	}
}
