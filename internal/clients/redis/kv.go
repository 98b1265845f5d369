package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("kv: key not found")

// KV is the expiring key-value collaborator backing rate windows. Callers
// treat any error as "store unreachable" and fail closed; the client never
// papers over connectivity problems.
type KV interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Incr(ctx context.Context, key string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

type kv struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewKV(log *logger.Logger) (KV, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &kv{log: log.With("service", "RedisKV"), rdb: rdb}, nil
}

func (k *kv) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if k == nil || k.rdb == nil {
		return fmt.Errorf("redis kv not initialized")
	}
	return k.rdb.Set(ctx, key, value, ttl).Err()
}

func (k *kv) Get(ctx context.Context, key string) (string, error) {
	if k == nil || k.rdb == nil {
		return "", fmt.Errorf("redis kv not initialized")
	}
	val, err := k.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (k *kv) Incr(ctx context.Context, key string) (int64, error) {
	if k == nil || k.rdb == nil {
		return 0, fmt.Errorf("redis kv not initialized")
	}
	return k.rdb.Incr(ctx, key).Result()
}

func (k *kv) TTL(ctx context.Context, key string) (time.Duration, error) {
	if k == nil || k.rdb == nil {
		return 0, fmt.Errorf("redis kv not initialized")
	}
	return k.rdb.TTL(ctx, key).Result()
}

func (k *kv) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if k == nil || k.rdb == nil {
		return fmt.Errorf("redis kv not initialized")
	}
	return k.rdb.Expire(ctx, key, ttl).Err()
}

func (k *kv) Del(ctx context.Context, key string) error {
	if k == nil || k.rdb == nil {
		return fmt.Errorf("redis kv not initialized")
	}
	return k.rdb.Del(ctx, key).Err()
}

func (k *kv) Close() error {
	if k == nil || k.rdb == nil {
		return nil
	}
	return k.rdb.Close()
}
