package storage

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisKV stores every key under a prefix, e.g. "ptracker:kv:@u1/last_location".
// Keys never expire.
type RedisKV struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisKV(rdb redis.UniversalClient, prefix string) *RedisKV {
	if prefix == "" {
		prefix = "ptracker:kv:"
	}
	return &RedisKV{rdb: rdb, prefix: prefix}
}

func (s *RedisKV) key(k string) string { return s.prefix + k }

func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis get %s", key)
	}
	return val, true, nil
}

func (s *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	return nil
}

func (s *RedisKV) Remove(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Wrapf(err, "redis del %s", key)
	}
	return nil
}
