package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chainsettle/internal/application"
	"chainsettle/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	rewardCachePrefix = "chainsettle:rewards"
	// allRecipients scopes queries that are not filtered by address.
	allRecipients   = "*"
	defaultCacheTTL = 10 * time.Minute
)

type CacheConfig struct {
	Addr string
	TTL  time.Duration
}

// CachedRepository serves reward history reads from Redis. Pages are scoped
// by recipient: a new reward for one address only retires that address's
// pages and the unfiltered ones.
type CachedRepository struct {
	*Repository
	cache *redis.Client
	ttl   time.Duration
}

func NewCachedRepository(base *Repository, cfg CacheConfig) (*CachedRepository, error) {
	if base == nil {
		return nil, errors.New("base repository is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedRepository{Repository: base}, nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping reward cache: %w", err)
	}
	return &CachedRepository{Repository: base, cache: client, ttl: cfg.TTL}, nil
}

func (r *CachedRepository) StoreRewardRecords(ctx context.Context, records []domain.RewardRecord) error {
	if err := r.Repository.StoreRewardRecords(ctx, records); err != nil {
		return err
	}
	if r.cache == nil || len(records) == 0 {
		return nil
	}
	scopes := recipientScopes(records)
	_, _ = r.cache.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, scope := range scopes {
			pipe.Incr(ctx, scopeVersionKey(scope))
		}
		return nil
	})
	return nil
}

func (r *CachedRepository) QueryRewards(ctx context.Context, filter application.RewardQueryFilter) ([]domain.RewardRecord, error) {
	if r.cache == nil {
		return r.Repository.QueryRewards(ctx, filter)
	}
	scope := queryScope(filter)
	version, err := r.cache.Get(ctx, scopeVersionKey(scope)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		version = 0
	case err != nil:
		return r.Repository.QueryRewards(ctx, filter)
	}

	key := rewardPageKey(scope, version, filter)
	if cached, err := r.cache.Get(ctx, key).Bytes(); err == nil {
		var records []domain.RewardRecord
		if json.Unmarshal(cached, &records) == nil {
			return records, nil
		}
	}

	records, err := r.Repository.QueryRewards(ctx, filter)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(records); err == nil {
		_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	}
	return records, nil
}

func (r *CachedRepository) Close() error {
	if r.cache != nil {
		_ = r.cache.Close()
	}
	return r.Repository.Close()
}

func queryScope(filter application.RewardQueryFilter) string {
	if address := strings.ToLower(strings.TrimSpace(filter.Address)); address != "" {
		return address
	}
	return allRecipients
}

// recipientScopes lists every scope a batch of new records can appear in.
func recipientScopes(records []domain.RewardRecord) []string {
	seen := map[string]bool{allRecipients: true}
	scopes := []string{allRecipients}
	for _, record := range records {
		address := strings.ToLower(record.Address)
		if address == "" || seen[address] {
			continue
		}
		seen[address] = true
		scopes = append(scopes, address)
	}
	return scopes
}

func scopeVersionKey(scope string) string {
	return rewardCachePrefix + ":version:" + scope
}

func rewardPageKey(scope string, version int64, filter application.RewardQueryFilter) string {
	network := string(filter.Network)
	if network == "" {
		network = "all"
	}
	symbol := strings.ToUpper(strings.TrimSpace(filter.Symbol))
	if symbol == "" {
		symbol = "all"
	}
	return fmt.Sprintf("%s:page:%s:v%d:%s:%s:%d",
		rewardCachePrefix, scope, version, network, symbol, application.NormalizeLimit(filter.Limit))
}
