package embeds

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheKeyPrefix namespaces embed entries in shared key spaces
const CacheKeyPrefix = "embed:"

// CacheKey derives the storage key for url. Only the source URL feeds the key.
func CacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return CacheKeyPrefix + hex.EncodeToString(sum[:])
}

type memoryEntry struct {
	embed     NormalizedEmbed
	expiresAt time.Time
}

// MemoryCache is a bounded in-process Cache. Expired entries are dropped
// lazily on read or by PurgeExpired; the least recently used entry is evicted
// when the cache is full.
type MemoryCache struct {
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
	// serializes Stats/PurgeExpired scans against each other
	scanMu sync.Mutex
}

// NewMemoryCache creates a cache holding at most size entries
func NewMemoryCache(size int) (*MemoryCache, error) {
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &MemoryCache{entries: entries, now: time.Now}, nil
}

// Get returns a copy of the cached embed, or nil when absent or expired
func (c *MemoryCache) Get(_ context.Context, url string) (*NormalizedEmbed, error) {
	key := CacheKey(url)
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.entries.Remove(key)
		return nil, nil
	}
	return entry.embed.clone(), nil
}

// Set stores a copy of embed for ttl
func (c *MemoryCache) Set(_ context.Context, url string, embed *NormalizedEmbed, ttl time.Duration) error {
	if embed == nil {
		return ErrNilEmbed
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	c.entries.Add(CacheKey(url), memoryEntry{
		embed:     *embed.clone(),
		expiresAt: c.now().Add(ttl),
	})
	return nil
}

// Delete removes the entry for url
func (c *MemoryCache) Delete(_ context.Context, url string) error {
	c.entries.Remove(CacheKey(url))
	return nil
}

// Clear removes every entry
func (c *MemoryCache) Clear(_ context.Context) error {
	c.entries.Purge()
	return nil
}

// Stats counts live and expired entries
func (c *MemoryCache) Stats(_ context.Context) (CacheStats, error) {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	now := c.now()
	var stats CacheStats
	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		stats.TotalCached++
		if now.Before(entry.expiresAt) {
			stats.Active++
		} else {
			stats.Expired++
		}
	}
	return stats, nil
}

// PurgeExpired removes expired entries and returns how many were dropped
func (c *MemoryCache) PurgeExpired(_ context.Context) (int64, error) {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	now := c.now()
	var removed int64
	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if ok && !now.Before(entry.expiresAt) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed, nil
}
