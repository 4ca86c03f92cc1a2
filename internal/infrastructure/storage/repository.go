package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chainsettle/internal/application"
	"chainsettle/internal/infrastructure/mysql"
	"chainsettle/internal/infrastructure/sqlite"
)

// Repository is the record store surface the service wires: reward records,
// reward queries and purchase grants.
type Repository interface {
	application.RewardStore
	application.RewardQuery
	application.PurchaseStore
	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	Driver    string
	DSN       string
	RedisAddr string
	CacheTTL  time.Duration
}

// Open builds the configured backend. MySQL reads go through the Redis query
// cache when RedisAddr is set.
func Open(cfg Config) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "mysql":
		base, err := mysql.NewRepository(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		cached, err := mysql.NewCachedRepository(base, mysql.CacheConfig{Addr: cfg.RedisAddr, TTL: cfg.CacheTTL})
		if err != nil {
			_ = base.Close()
			return nil, fmt.Errorf("connect reward cache: %w", err)
		}
		return cached, nil
	case "sqlite":
		repo, err := sqlite.NewRepository(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return repo, nil
	case "":
		return nil, errors.New("db driver is required")
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
}
