package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/InsulaLabs/txt2img/internal/tkv"
	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 5 * time.Second

// Redis keeps values in a redis server. A non zero ttl is applied on every
// write, which is how conversation histories age out.
type Redis struct {
	logger *slog.Logger
	rdb    *redis.Client
	ttl    time.Duration
}

var _ Store = &Redis{}

func NewRedis(logger *slog.Logger, addr string, ttl time.Duration) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return NewRedisFromClient(logger, rdb, ttl), nil
}

func NewRedisFromClient(logger *slog.Logger, rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		logger: logger.WithGroup("redis"),
		rdb:    rdb,
		ttl:    ttl,
	}
}

func (r *Redis) Get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	v, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", &tkv.ErrKeyNotFound{Key: key}
		}
		return "", &tkv.ErrInternal{Err: err}
	}
	return v, nil
}

func (r *Redis) Set(key string, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.rdb.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return &tkv.ErrInternal{Err: err}
	}
	return nil
}

func (r *Redis) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return &tkv.ErrInternal{Err: err}
	}
	return nil
}

func (r *Redis) Close() error {
	r.logger.Info("closing redis client")
	return r.rdb.Close()
}
