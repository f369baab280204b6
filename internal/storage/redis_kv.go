package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// popOtherOrAdd runs as a single Redis script, so no other client can observe
// or take the same member in between.
var popOtherOrAdd = redis.NewScript(`
local candidates = redis.call('SRANDMEMBER', KEYS[1], 2)
for _, m in ipairs(candidates) do
  if m ~= ARGV[1] then
    redis.call('SREM', KEYS[1], m)
    return m
  end
end
redis.call('SADD', KEYS[1], ARGV[1])
return false
`)

var releaseIfOwner = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and current ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
return 1
`)

// RedisKV implements KeyValue over a go-redis client.
type RedisKV struct {
	Client *redis.Client
}

func NewRedisKV(rdb *redis.Client) *RedisKV {
	return &RedisKV{Client: rdb}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisKV) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.Client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.Client.Del(ctx, keys...).Err()
}

func (r *RedisKV) SAdd(ctx context.Context, key, member string) error {
	return r.Client.SAdd(ctx, key, member).Err()
}

func (r *RedisKV) SRem(ctx context.Context, key, member string) error {
	return r.Client.SRem(ctx, key, member).Err()
}

func (r *RedisKV) SPop(ctx context.Context, key string) (string, bool, error) {
	val, err := r.Client.SPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisKV) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return r.Client.SIsMember(ctx, key, member).Result()
}

func (r *RedisKV) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.Client.SMembers(ctx, key).Result()
}

func (r *RedisKV) SPopOtherOrAdd(ctx context.Context, key, member string) (string, bool, error) {
	val, err := popOtherOrAdd.Run(ctx, r.Client, []string{key}, member).Text()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisKV) ReleaseIfOwner(ctx context.Context, key, owner, setKey, member string) (bool, error) {
	n, err := releaseIfOwner.Run(ctx, r.Client, []string{key, setKey}, owner, member).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Ping checks the Redis connection.
func (r *RedisKV) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}
