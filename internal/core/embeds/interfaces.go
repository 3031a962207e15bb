package embeds

import (
	"context"
	"time"
)

// Cache defines the interface for embed cache persistence.
// Implementations must be safe for concurrent use; concurrent writers to the
// same key are last-write-wins.
type Cache interface {
	// Get retrieves a cached embed (possibly a tombstone) for the given URL.
	// Returns nil, nil if not found or expired (not an error condition).
	Get(ctx context.Context, url string) (*NormalizedEmbed, error)

	// Set stores an embed in the cache with the specified TTL.
	// An existing entry for the URL is overwritten.
	Set(ctx context.Context, url string, embed *NormalizedEmbed, ttl time.Duration) error

	// Delete removes the entry for url. Deleting a missing entry is not an error.
	Delete(ctx context.Context, url string) error

	// Clear removes every embed entry.
	Clear(ctx context.Context) error

	// Stats counts cached entries.
	Stats(ctx context.Context) (CacheStats, error)
}

// Fetcher performs policy-checked outbound GET requests
type Fetcher interface {
	// Fetch never returns a Go error; failures are reported in FetchResult.Err.
	Fetch(ctx context.Context, url string, opts FetchOptions) *FetchResult

	// FetchJSON fetches url and decodes the body into dst. Network failures
	// wrap the fetch sentinels; decode failures wrap ErrDecodeFailed.
	FetchJSON(ctx context.Context, url string, dst any, opts FetchOptions) error
}

// Resolver turns a URL into a NormalizedEmbed. A nil embed is always paired
// with a non-nil error explaining why nothing was produced.
type Resolver interface {
	Resolve(ctx context.Context, url string) (*NormalizedEmbed, error)
}

// URLExtractor finds candidate URLs in free text, in order of appearance
type URLExtractor interface {
	ExtractURLs(text string) []string
}

// URLExtractorFunc adapts a function to URLExtractor
type URLExtractorFunc func(text string) []string

// ExtractURLs calls f(text)
func (f URLExtractorFunc) ExtractURLs(text string) []string {
	return f(text)
}

// Service is the embed pipeline façade
type Service interface {
	// Resolve returns the embed for url, or nil when there is none.
	Resolve(ctx context.Context, url string) *NormalizedEmbed

	// ProcessTextEmbeds resolves URLs found in text until maxEmbeds embeds
	// have been produced. maxEmbeds <= 0 means 1.
	ProcessTextEmbeds(ctx context.Context, text string, maxEmbeds int) []*NormalizedEmbed

	// ClearCache drops the cached entry for url
	ClearCache(ctx context.Context, url string) error

	// ClearAllCaches drops every cached entry
	ClearAllCaches(ctx context.Context) error

	// GetStats reports cache statistics
	GetStats(ctx context.Context) (CacheStats, error)

	// CircuitStats reports per strategy/host circuit breaker state
	CircuitStats() map[string]BreakerStatus
}
