package claims

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chainsettle:claim:"

type RedisConfig struct {
	Addr string
	// TTL bounds how long a claim is held; zero keeps it forever.
	TTL time.Duration
}

// RedisGuard claims keys with SETNX so several service replicas never pay
// the same welcome bonus twice.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(cfg RedisConfig) (*RedisGuard, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisGuard{client: client, ttl: cfg.TTL}, nil
}

func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return g.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Unix(), g.ttl).Result()
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return g.client.Del(ctx, keyPrefix+key).Err()
}

func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}
