package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisKV backs the faucet store with a shared Redis instance. Conditional
// updates run as Lua scripts so the read-compare-write is a single atomic
// round trip even with multiple faucetd replicas pointed at the same server.
type RedisKV struct {
	client *redis.Client
}

// RedisConfig carries connection settings for the Redis backend.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	OpTimeout   time.Duration
}

var casScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false or current ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

var incrScript = redis.NewScript(`
local value = redis.call("INCR", KEYS[1])
if value == 1 and tonumber(ARGV[1]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return value
`)

// NewRedisKV connects to the configured Redis server and verifies it is
// reachable before returning.
func NewRedisKV(ctx context.Context, cfg RedisConfig) (*RedisKV, error) {
	if cfg.Addr == "" {
		return nil, errors.New("storage: redis address required")
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.OpTimeout > 0 {
		opts.ReadTimeout = cfg.OpTimeout
		opts.WriteTimeout = cfg.OpTimeout
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrUnavailable, cfg.Addr, err)
	}
	return &RedisKV{client: client}, nil
}

// NewRedisKVFromClient wraps an existing client. Tests use this with
// miniredis.
func NewRedisKVFromClient(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return value, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (r *RedisKV) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	inserted, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrUnavailable, key, err)
	}
	return inserted, nil
}

func (r *RedisKV) CompareAndSwap(ctx context.Context, key string, expect, update []byte, ttl time.Duration) (bool, error) {
	result, err := casScript.Run(ctx, r.client, []string{key}, expect, update, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("%w: cas %s: %v", ErrUnavailable, key, err)
	}
	return result == 1, nil
}

func (r *RedisKV) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	value, err := incrScript.Run(ctx, r.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: incr %s: %v", ErrUnavailable, key, err)
	}
	return value, nil
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}
