// Package redis provides a Redis-backed embeds.Cache. Entries expire through
// native key TTLs, so there is no purge job and expired counts are always 0.
package redis

import (
	"VivalaTable/internal/core/embeds"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const scanBatchSize = 100

// EmbedCache stores NormalizedEmbed records as JSON strings under
// embeds.CacheKey(url).
type EmbedCache struct {
	client goredis.Cmdable
}

// NewEmbedCache wraps a go-redis client
func NewEmbedCache(client goredis.Cmdable) *EmbedCache {
	return &EmbedCache{client: client}
}

// Connect parses a redis:// URL and verifies the server is reachable
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (c *EmbedCache) Get(ctx context.Context, url string) (*embeds.NormalizedEmbed, error) {
	data, err := c.client.Get(ctx, embeds.CacheKey(url)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embed from redis: %w", err)
	}

	var embed embeds.NormalizedEmbed
	if err := json.Unmarshal(data, &embed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embed payload: %w", err)
	}
	return &embed, nil
}

func (c *EmbedCache) Set(ctx context.Context, url string, embed *embeds.NormalizedEmbed, ttl time.Duration) error {
	if embed == nil {
		return embeds.ErrNilEmbed
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: %s", embeds.ErrInvalidTTL, ttl)
	}

	data, err := json.Marshal(embed)
	if err != nil {
		return fmt.Errorf("failed to marshal embed payload: %w", err)
	}
	if err := c.client.Set(ctx, embeds.CacheKey(url), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set embed in redis: %w", err)
	}
	return nil
}

func (c *EmbedCache) Delete(ctx context.Context, url string) error {
	if err := c.client.Del(ctx, embeds.CacheKey(url)).Err(); err != nil {
		return fmt.Errorf("failed to delete embed from redis: %w", err)
	}
	return nil
}

// Clear deletes every key under the embed prefix. Keys belonging to other
// applications sharing the database are left alone.
func (c *EmbedCache) Clear(ctx context.Context) error {
	return c.scan(ctx, func(keys []string) error {
		return c.client.Del(ctx, keys...).Err()
	})
}

func (c *EmbedCache) Stats(ctx context.Context) (embeds.CacheStats, error) {
	var total int64
	err := c.scan(ctx, func(keys []string) error {
		total += int64(len(keys))
		return nil
	})
	if err != nil {
		return embeds.CacheStats{}, err
	}
	return embeds.CacheStats{TotalCached: total, Active: total}, nil
}

// scan walks the embed keyspace in batches, calling fn for each non-empty batch
func (c *EmbedCache) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, embeds.CacheKeyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan embed keys: %w", err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return fmt.Errorf("failed to process embed keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
