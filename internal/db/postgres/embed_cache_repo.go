package postgres

import (
	"VivalaTable/internal/core/embeds"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EmbedCacheRepo is the PostgreSQL-backed embeds.Cache
type EmbedCacheRepo struct {
	db *sql.DB
}

// NewEmbedCacheRepository creates a new PostgreSQL embed cache repository
func NewEmbedCacheRepository(db *sql.DB) *EmbedCacheRepo {
	return &EmbedCacheRepo{db: db}
}

// Get retrieves a cached embed (or tombstone) for the given URL.
// Returns nil, nil if not found or expired (not an error condition).
// Returns error only on database failures.
func (r *EmbedCacheRepo) Get(ctx context.Context, url string) (*embeds.NormalizedEmbed, error) {
	query := `
		SELECT payload
		FROM embed_cache
		WHERE cache_key = $1 AND expires_at > NOW()
	`

	var payload []byte
	err := r.db.QueryRowContext(ctx, query, embeds.CacheKey(url)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embed cache entry: %w", err)
	}

	var embed embeds.NormalizedEmbed
	if err := json.Unmarshal(payload, &embed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embed payload: %w", err)
	}

	return &embed, nil
}

// Set stores an embed in the cache with the specified TTL.
// If an entry already exists for the URL, it will be updated.
// The expires_at is calculated as NOW() + ttl.
func (r *EmbedCacheRepo) Set(ctx context.Context, url string, embed *embeds.NormalizedEmbed, ttl time.Duration) error {
	if embed == nil {
		return embeds.ErrNilEmbed
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: %s", embeds.ErrInvalidTTL, ttl)
	}

	payload, err := json.Marshal(embed)
	if err != nil {
		return fmt.Errorf("failed to marshal embed payload: %w", err)
	}

	query := `
		INSERT INTO embed_cache (cache_key, source_url, embed_type, payload, expires_at)
		VALUES ($1, $2, $3, $4, NOW() + $5::interval)
		ON CONFLICT (cache_key) DO UPDATE
		SET source_url = EXCLUDED.source_url,
		    embed_type = EXCLUDED.embed_type,
		    payload = EXCLUDED.payload,
		    expires_at = EXCLUDED.expires_at,
		    fetched_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query, embeds.CacheKey(url), url, string(embed.Type), payload, formatInterval(ttl))
	if err != nil {
		return fmt.Errorf("failed to insert/update embed cache entry: %w", err)
	}

	return nil
}

// Delete removes the cache entry for url
func (r *EmbedCacheRepo) Delete(ctx context.Context, url string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM embed_cache WHERE cache_key = $1`, embeds.CacheKey(url))
	if err != nil {
		return fmt.Errorf("failed to delete embed cache entry: %w", err)
	}
	return nil
}

// Clear removes every cache entry
func (r *EmbedCacheRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM embed_cache`); err != nil {
		return fmt.Errorf("failed to clear embed cache: %w", err)
	}
	return nil
}

// Stats counts cached rows, split by whether they have expired
func (r *EmbedCacheRepo) Stats(ctx context.Context) (embeds.CacheStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE expires_at <= NOW())
		FROM embed_cache
	`

	var stats embeds.CacheStats
	if err := r.db.QueryRowContext(ctx, query).Scan(&stats.TotalCached, &stats.Expired); err != nil {
		return embeds.CacheStats{}, fmt.Errorf("failed to count embed cache entries: %w", err)
	}
	stats.Active = stats.TotalCached - stats.Expired
	return stats, nil
}

// PurgeExpired deletes expired rows and returns how many were removed
func (r *EmbedCacheRepo) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM embed_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired embed cache entries: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge result: %w", err)
	}
	return removed, nil
}

// formatInterval converts a Go duration to a PostgreSQL interval string.
// The largest unit that divides the duration exactly is used: 24h is
// "1 days", 90m is "90 minutes". Fractional seconds round up, so a
// sub-second TTL never becomes an already-expired zero interval.
func formatInterval(d time.Duration) string {
	seconds := int64((d + time.Second - 1) / time.Second)

	switch {
	case seconds >= 86400 && seconds%86400 == 0:
		return fmt.Sprintf("%d days", seconds/86400)
	case seconds >= 3600 && seconds%3600 == 0:
		return fmt.Sprintf("%d hours", seconds/3600)
	case seconds >= 60 && seconds%60 == 0:
		return fmt.Sprintf("%d minutes", seconds/60)
	default:
		return fmt.Sprintf("%d seconds", seconds)
	}
}
