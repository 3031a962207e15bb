// Package db selects and opens the embed cache backend named by configuration.
package db

import (
	"VivalaTable/internal/core/embeds"
	"VivalaTable/internal/db/migrations"
	"VivalaTable/internal/db/postgres"
	"VivalaTable/internal/db/redis"
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
)

// Backend is an opened embed cache
type Backend struct {
	Cache embeds.Cache

	// Purger is nil when the backend expires entries itself (redis)
	Purger embeds.ExpiredPurger

	close func() error
}

// Close releases the backend's connections
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Options carries the connection strings for the external backends
type Options struct {
	DatabaseURL string
	RedisURL    string
}

// OpenBackend opens the cache backend selected by cfg.CacheBackend.
// The postgres backend runs pending migrations before returning.
func OpenBackend(ctx context.Context, cfg embeds.Config, opts Options) (*Backend, error) {
	switch cfg.CacheBackend {
	case embeds.CacheBackendMemory:
		cache, err := embeds.NewMemoryCache(cfg.MemoryCacheSize)
		if err != nil {
			return nil, err
		}
		return &Backend{Cache: cache, Purger: cache}, nil

	case embeds.CacheBackendPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres cache backend requires DATABASE_URL")
		}
		conn, err := sql.Open("postgres", opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := conn.PingContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := migrations.Up(conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
		slog.Info("[EMBED] using postgres cache backend")
		repo := postgres.NewEmbedCacheRepository(conn)
		return &Backend{Cache: repo, Purger: repo, close: conn.Close}, nil

	case embeds.CacheBackendRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("redis cache backend requires REDIS_URL")
		}
		client, err := redis.Connect(ctx, opts.RedisURL)
		if err != nil {
			return nil, err
		}
		slog.Info("[EMBED] using redis cache backend")
		return &Backend{Cache: redis.NewEmbedCache(client), close: client.Close}, nil

	default:
		return nil, fmt.Errorf("%w: got %q", embeds.ErrInvalidCacheBackend, cfg.CacheBackend)
	}
}
