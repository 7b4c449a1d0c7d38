package store

import (
	"context"
	"fmt"

	"github.com/nulzo/onellm-router/internal/config"
	"github.com/nulzo/onellm-router/internal/store/cache"
	"github.com/nulzo/onellm-router/internal/store/cache/memory"
	"github.com/nulzo/onellm-router/internal/store/cache/redis"
	"github.com/nulzo/onellm-router/internal/store/sqlite"
)

// NewCache builds the model cache backend selected by cfg.Driver.
func NewCache(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.NewMemoryCache(), nil
	case "redis":
		return redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	case "sqlite":
		return sqlite.OpenKVStore(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}
