package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/redis/go-redis/v9"
)

// MarketCache implements domain.MarketCache using Redis hashes with JSON-
// serialized MarketRecord data and a secondary on-chain id index.
//
// Key schema (under the client prefix):
//
//	market:{id}               - hash with field "data" containing JSON
//	market:onchain:{onChainId} - string value of the market ID
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client. A zero
// ttl uses domain.CacheTTL.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = domain.CacheTTL
	}
	return &MarketCache{c: c, ttl: ttl}
}

func (mc *MarketCache) marketKey(id string) string { return mc.c.Key("market", id) }

func (mc *MarketCache) onChainKey(id int64) string {
	return mc.c.Key("market", "onchain", strconv.FormatInt(id, 10))
}

// Set stores a record and, when it is correlated with the contract, its
// on-chain index entry.
func (mc *MarketCache) Set(ctx context.Context, market domain.MarketRecord) error {
	if market.ID == "" {
		return fmt.Errorf("redis: set market: empty id")
	}
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ID, err)
	}

	key := mc.marketKey(market.ID)
	rdb := mc.c.Underlying()

	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)
	if market.OnChainID != nil {
		pipe.Set(ctx, mc.onChainKey(*market.OnChainID), market.ID, mc.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ID, err)
	}
	return nil
}

// Get retrieves a record by its backend ID.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.MarketRecord, error) {
	data, err := mc.c.Underlying().HGet(ctx, mc.marketKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketRecord{}, domain.ErrNotFound
		}
		return domain.MarketRecord{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var market domain.MarketRecord
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.MarketRecord{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return market, nil
}

// GetByOnChainID looks up a record by its contract market index.
func (mc *MarketCache) GetByOnChainID(ctx context.Context, onChainID int64) (domain.MarketRecord, error) {
	marketID, err := mc.c.Underlying().Get(ctx, mc.onChainKey(onChainID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketRecord{}, domain.ErrNotFound
		}
		return domain.MarketRecord{}, fmt.Errorf("redis: get market by onchain id %d: %w", onChainID, err)
	}
	return mc.Get(ctx, marketID)
}

// Invalidate removes a record and its index entry.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	market, err := mc.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}

	pipe := mc.c.Underlying().TxPipeline()
	pipe.Del(ctx, mc.marketKey(id))
	if err == nil && market.OnChainID != nil {
		pipe.Del(ctx, mc.onChainKey(*market.OnChainID))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
