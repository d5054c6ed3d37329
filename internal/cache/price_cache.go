// Package cache holds the resolved-price cache shared by service instances.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tariff-service/internal/domain/tariff"

	"github.com/redis/go-redis/v9"
)

// PriceCache stores resolved quotes per tariff so a tariff write can drop them all at once.
type PriceCache interface {
	Get(ctx context.Context, tariffID, locationID int64, categoryID *int64) (*tariff.PriceQuote, bool, error)
	Set(ctx context.Context, q *tariff.PriceQuote) error
	Invalidate(ctx context.Context, tariffID int64) error
}

type hashClient interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type RedisPriceCache struct {
	client hashClient
	ttl    time.Duration
}

func NewRedisPriceCache(client redis.UniversalClient, ttl time.Duration) *RedisPriceCache {
	return &RedisPriceCache{client: client, ttl: ttl}
}

func priceKey(tariffID int64) string {
	return fmt.Sprintf("price:%d", tariffID)
}

// priceField is "<location>:<category>", with "*" for the location-wide price.
func priceField(locationID int64, categoryID *int64) string {
	c := "*"
	if categoryID != nil {
		c = strconv.FormatInt(*categoryID, 10)
	}
	return strconv.FormatInt(locationID, 10) + ":" + c
}

func (c *RedisPriceCache) Get(ctx context.Context, tariffID, locationID int64, categoryID *int64) (*tariff.PriceQuote, bool, error) {
	raw, err := c.client.HGet(ctx, priceKey(tariffID), priceField(locationID, categoryID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("price cache get: %w", err)
	}

	var q tariff.PriceQuote
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return nil, false, fmt.Errorf("price cache decode: %w", err)
	}
	return &q, true, nil
}

func (c *RedisPriceCache) Set(ctx context.Context, q *tariff.PriceQuote) error {
	b, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("price cache encode: %w", err)
	}

	key := priceKey(q.TariffID)
	if err := c.client.HSet(ctx, key, priceField(q.LocationID, q.CategoryID), string(b)).Err(); err != nil {
		return fmt.Errorf("price cache set: %w", err)
	}
	if c.ttl > 0 {
		if err := c.client.Expire(ctx, key, c.ttl).Err(); err != nil {
			return fmt.Errorf("price cache expire: %w", err)
		}
	}
	return nil
}

func (c *RedisPriceCache) Invalidate(ctx context.Context, tariffID int64) error {
	if err := c.client.Del(ctx, priceKey(tariffID)).Err(); err != nil {
		return fmt.Errorf("price cache invalidate: %w", err)
	}
	return nil
}

// NopPriceCache always misses; used when Redis is not configured.
type NopPriceCache struct{}

func (NopPriceCache) Get(context.Context, int64, int64, *int64) (*tariff.PriceQuote, bool, error) {
	return nil, false, nil
}
func (NopPriceCache) Set(context.Context, *tariff.PriceQuote) error { return nil }
func (NopPriceCache) Invalidate(context.Context, int64) error       { return nil }
