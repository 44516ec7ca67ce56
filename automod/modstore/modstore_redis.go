package modstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var redisPrefix = "forgeguard/"

type redisBackend struct {
	client *redis.Client
}

// NewRedisStore connects to redis and checks the connection.
func NewRedisStore(redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newStore(&redisBackend{client: rdb}), nil
}

func (r *redisBackend) get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *redisBackend) set(ctx context.Context, key string, val []byte) error {
	return r.client.Set(ctx, redisPrefix+key, val, 0).Err()
}

func (r *redisBackend) del(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisPrefix+key).Err()
}

func (r *redisBackend) scan(ctx context.Context, prefix string, fn func(key string, val []byte) error) error {
	iter := r.client.Scan(ctx, 0, redisPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		val, err := r.client.Get(ctx, full).Bytes()
		if errors.Is(err, redis.Nil) {
			// removed since the scan saw it
			continue
		} else if err != nil {
			return err
		}
		if err := fn(full[len(redisPrefix):], val); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (r *redisBackend) close() error {
	return r.client.Close()
}
