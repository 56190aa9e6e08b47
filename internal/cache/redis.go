package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/theriq/internal/config"
	"github.com/redis/go-redis/v9"
)

const versionKey = "__cache_version"

const scanBatch = 200

// Cache кеш в Redis, общий для всех экземпляров сервиса. Все ключи живут
// в пространстве имён prefix.
type Cache struct {
	Db         *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// ErrEmptyKeyPrefix префикс ключей не задан. Очистка с пустым префиксом задела бы всю базу.
var ErrEmptyKeyPrefix = errors.New("cache key prefix must not be empty")

// InitServer подключается к Redis и сверяет версию формата кеша.
// При несовпадении версии всё пространство имён очищается.
func InitServer(ctx context.Context, redisCfg config.RedisConnection, cacheCfg config.Cache) (*Cache, error) {
	const op = "cache.InitServer"
	if cacheCfg.KeyPrefix == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyKeyPrefix)
	}

	db := redis.NewClient(&redis.Options{
		Addr:         redisCfg.AddressRedis,
		Password:     redisCfg.Password,
		DB:           redisCfg.DB,
		Username:     redisCfg.User,
		MaxRetries:   redisCfg.MaxRetries,
		DialTimeout:  redisCfg.DialTimeout,
		ReadTimeout:  redisCfg.TimeoutRedis,
		WriteTimeout: redisCfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c := &Cache{
		Db:         db,
		prefix:     cacheCfg.KeyPrefix,
		defaultTTL: cacheCfg.DefaultTTL,
	}
	if err := c.ensureVersion(ctx, cacheCfg.Version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (c *Cache) ensureVersion(ctx context.Context, version string) error {
	stored, err := c.Db.Get(ctx, c.prefix+versionKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if stored == version {
		return nil
	}
	if err := c.deleteMatching(ctx, c.prefix+"*"); err != nil {
		return err
	}
	return c.Db.Set(ctx, c.prefix+versionKey, version, 0).Err()
}

// Get пытается получить значение из кеша по ключу. Повреждённая запись
// удаляется и считается промахом.
func (c *Cache) Get(key string, result any) (bool, error) {
	const op = "cache.Get"
	val, err := c.Db.Get(context.Background(), c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err = json.Unmarshal([]byte(val), result); err != nil {
		_ = c.Invalidate(key)
		return false, nil
	}
	return true, nil
}

// Set сохраняет значение в кеш с временем жизни.
func (c *Cache) Set(key string, value any, expiration time.Duration) error {
	const op = "cache.Set"
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ttl := ttlOrDefault(expiration, c.defaultTTL)
	if err := c.Db.Set(context.Background(), c.prefix+key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Invalidate удаляет значение из кеша по ключу.
func (c *Cache) Invalidate(key string) error {
	return c.Db.Del(context.Background(), c.prefix+key).Err()
}

// ClearUser удаляет все ключи пользователя.
func (c *Cache) ClearUser(userID string) error {
	const op = "cache.ClearUser"
	if err := c.deleteMatching(context.Background(), c.prefix+UserPrefix(userID)+"*"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Clear удаляет все ключи пространства имён, кроме метки версии.
func (c *Cache) Clear() error {
	const op = "cache.Clear"
	ctx := context.Background()
	version, err := c.Db.Get(ctx, c.prefix+versionKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.deleteMatching(ctx, c.prefix+"*"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if version == "" {
		return nil
	}
	return c.Db.Set(ctx, c.prefix+versionKey, version, 0).Err()
}

// Close закрывает соединение с Redis.
func (c *Cache) Close() error {
	return c.Db.Close()
}

// Ping проверяет доступность Redis.
func (c *Cache) Ping(ctx context.Context) error {
	return c.Db.Ping(ctx).Err()
}

func (c *Cache) deleteMatching(ctx context.Context, pattern string) error {
	iter := c.Db.Scan(ctx, 0, pattern, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := c.Db.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.Db.Del(ctx, batch...).Err()
	}
	return nil
}
