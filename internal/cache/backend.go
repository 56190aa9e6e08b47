package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/theriq/internal/config"
)

// Имена бэкендов в конфиге.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Store общий интерфейс бэкендов кеша.
type Store interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
	ClearUser(userID string) error
	Clear() error
	Close() error
}

// Open создаёт кеш выбранного в конфиге бэкенда. Кеш в памяти сразу
// запускает фоновую очистку.
func Open(ctx context.Context, cacheCfg config.Cache, redisCfg config.RedisConnection) (Store, error) {
	const op = "cache.Open"

	switch cacheCfg.Backend {
	case "", BackendMemory:
		m := NewMemory(WithDefaultTTL(cacheCfg.DefaultTTL), WithSweepInterval(cacheCfg.SweepInterval))
		m.Start()
		return m, nil
	case BackendRedis:
		c, err := InitServer(ctx, redisCfg, cacheCfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%s: unknown cache backend %q", op, cacheCfg.Backend)
	}
}
