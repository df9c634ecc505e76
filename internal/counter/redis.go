package counter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPoolSize    = 20
	defaultRedisMaxRetries  = 3
	defaultRedisDialTimeout = 5 * time.Second
	defaultRedisKeyPrefix   = "ratelimitd:"
)

// incrByScript adds delta and applies the ttl only when the INCRBY created
// the key, matching the Store contract of ttl-on-creation.
var incrByScript = redis.NewScript(`
local v = redis.call('INCRBY', KEYS[1], ARGV[1])
if v == tonumber(ARGV[1]) and tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return v
`)

// casScript swaps in ARGV[2] when the current value matches ARGV[1].
// An empty ARGV[1] asserts the key is absent. The ttl (ARGV[3], millis)
// is refreshed on every successful swap.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if (cur == false and ARGV[1] == '') or cur == ARGV[1] then
  if tonumber(ARGV[3]) > 0 then
    redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
  else
    redis.call('SET', KEYS[1], ARGV[2])
  end
  return 1
end
return 0
`)

// RedisConfig carries connection settings for the Redis-backed Store.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	MaxRetries  int
	DialTimeout time.Duration
	// KeyPrefix namespaces every key so several deployments can share
	// one Redis. Defaults to "ratelimitd:".
	KeyPrefix string
}

// Redis is the shared Store for multi-process deployments. Both atomic
// operations run as Lua scripts so the read-modify-write cannot interleave
// with other clients.
type Redis struct {
	client redis.UniversalClient
	prefix string

	closeOnce sync.Once
	closeErr  error
}

// NewRedis connects and verifies the endpoint with a few pings before
// returning, so a misconfigured address fails at startup rather than on
// the first request.
func NewRedis(cfg *RedisConfig) (*Redis, error) {
	conf, err := normalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:        conf.Addr,
		Password:    conf.Password,
		DB:          conf.DB,
		PoolSize:    conf.PoolSize,
		MaxRetries:  conf.MaxRetries,
		DialTimeout: conf.DialTimeout,
	})

	s := &Redis{
		client: client,
		prefix: conf.KeyPrefix,
	}

	if err := s.pingWithRetry(context.Background(), conf.MaxRetries); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

func (s *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Redis) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	n, err := incrByScript.Run(ctx, s.client, []string{s.prefix + key}, delta, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis increment: %w", err)
	}
	return n, nil
}

func (s *Redis) CompareAndSwap(ctx context.Context, key string, prev, next []byte, ttl time.Duration) (bool, error) {
	res, err := casScript.Run(ctx, s.client, []string{s.prefix + key},
		string(prev), string(next), ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-swap: %w", err)
	}
	return res == 1, nil
}

// Close releases the client. Safe to call more than once.
func (s *Redis) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func (s *Redis) pingWithRetry(ctx context.Context, maxRetries int) error {
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := s.client.Ping(ctx).Err()
		if err == nil {
			return nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

func normalizeRedisConfig(cfg *RedisConfig) (*RedisConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	conf := *cfg
	if conf.PoolSize <= 0 {
		conf.PoolSize = defaultRedisPoolSize
	}
	if conf.MaxRetries <= 0 {
		conf.MaxRetries = defaultRedisMaxRetries
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultRedisDialTimeout
	}
	if conf.KeyPrefix == "" {
		conf.KeyPrefix = defaultRedisKeyPrefix
	}
	return &conf, nil
}
