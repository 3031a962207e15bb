package embeds

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config validation errors
var (
	// ErrInvalidFetchTimeout is returned when FetchTimeout or OpenGraphTimeout is not positive
	ErrInvalidFetchTimeout = errors.New("fetch timeouts must be positive")
	// ErrInvalidMaxRedirects is returned when MaxRedirects is negative
	ErrInvalidMaxRedirects = errors.New("MaxRedirects cannot be negative")
	// ErrInvalidMaxBodyBytes is returned when MaxBodyBytes is not positive
	ErrInvalidMaxBodyBytes = errors.New("MaxBodyBytes must be positive")
	// ErrInvalidCacheTTLConfig is returned when any cache TTL is not positive
	ErrInvalidCacheTTLConfig = errors.New("cache TTLs must be positive")
	// ErrInvalidCacheBackend is returned for an unknown CacheBackend
	ErrInvalidCacheBackend = errors.New("CacheBackend must be one of memory, postgres, redis")
	// ErrInvalidMemoryCacheSize is returned when MemoryCacheSize is not positive
	ErrInvalidMemoryCacheSize = errors.New("MemoryCacheSize must be positive")
)

// Cache backend names
const (
	CacheBackendMemory   = "memory"
	CacheBackendPostgres = "postgres"
	CacheBackendRedis    = "redis"
)

// DefaultMaxBodyBytes is the response size limit for all embed fetches (5 MiB)
const DefaultMaxBodyBytes = 5 * 1024 * 1024

// Config holds the configuration for the embed pipeline.
type Config struct {
	// Enabled turns embed resolution on. When false, Resolve always returns nil.
	Enabled bool

	// UserAgent is sent with every outbound request.
	UserAgent string

	// FetchTimeout bounds oEmbed and discovery fetches.
	FetchTimeout time.Duration

	// OpenGraphTimeout bounds the Open Graph page fetch.
	OpenGraphTimeout time.Duration

	// MaxRedirects caps redirect hops per fetch.
	MaxRedirects int

	// MaxBodyBytes aborts fetches whose body grows past this size.
	MaxBodyBytes int64

	// AllowPrivateNetworks disables the private-address checks. Dev/testing only.
	AllowPrivateNetworks bool

	// HostRateLimit is the outbound requests/second allowed per host. 0 disables limiting.
	HostRateLimit float64

	// HostRateBurst is the burst size for HostRateLimit.
	HostRateBurst int

	// DefaultTTL applies to oEmbed results without cache_age and to tombstones.
	DefaultTTL time.Duration

	// OpenGraphTTL applies to Open Graph results.
	OpenGraphTTL time.Duration

	// MaxCacheTTL caps provider-suggested cache lifetimes.
	MaxCacheTTL time.Duration

	// MaxEmbedWidth and MaxEmbedHeight are sent as maxwidth/maxheight. 0 omits them.
	MaxEmbedWidth  int
	MaxEmbedHeight int

	// CacheBackend selects the cache implementation: memory, postgres or redis.
	CacheBackend string

	// MemoryCacheSize bounds the in-memory cache entry count.
	MemoryCacheSize int

	// CleanupInterval is how often expired entries are purged. 0 disables the job.
	CleanupInterval time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		UserAgent:        "VivalaTableBot/1.0 (+https://vivalatable.com)",
		FetchTimeout:     10 * time.Second,
		OpenGraphTimeout: 5 * time.Second,
		MaxRedirects:     3,
		MaxBodyBytes:     DefaultMaxBodyBytes,
		HostRateLimit:    0,
		HostRateBurst:    5,
		DefaultTTL:       DefaultOEmbedCacheAge * time.Second,
		OpenGraphTTL:     DefaultOpenGraphCacheAge * time.Second,
		MaxCacheTTL:      30 * 24 * time.Hour,
		CacheBackend:     CacheBackendMemory,
		MemoryCacheSize:  10000,
		CleanupInterval:  1 * time.Hour,
	}
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.FetchTimeout <= 0 || c.OpenGraphTimeout <= 0 {
		return fmt.Errorf("%w: got %v / %v", ErrInvalidFetchTimeout, c.FetchTimeout, c.OpenGraphTimeout)
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxRedirects, c.MaxRedirects)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxBodyBytes, c.MaxBodyBytes)
	}
	if c.DefaultTTL <= 0 || c.OpenGraphTTL <= 0 || c.MaxCacheTTL <= 0 {
		return ErrInvalidCacheTTLConfig
	}
	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendPostgres, CacheBackendRedis:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidCacheBackend, c.CacheBackend)
	}
	if c.CacheBackend == CacheBackendMemory && c.MemoryCacheSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMemoryCacheSize, c.MemoryCacheSize)
	}
	return nil
}

// FetcherOptions translates the fetch-related settings into SafeFetcher options
func (c Config) FetcherOptions() []FetcherOption {
	opts := []FetcherOption{
		WithUserAgent(c.UserAgent),
		WithMaxBodyBytes(c.MaxBodyBytes),
		WithDefaultTimeout(c.FetchTimeout),
		WithDefaultMaxRedirects(c.MaxRedirects),
	}
	if c.AllowPrivateNetworks {
		opts = append(opts, WithAllowPrivateNetworks())
	}
	if c.HostRateLimit > 0 {
		opts = append(opts, WithHostRateLimit(c.HostRateLimit, c.HostRateBurst))
	}
	return opts
}

// OEmbedOptions translates the oEmbed settings into resolver options
func (c Config) OEmbedOptions() []OEmbedOption {
	return []OEmbedOption{
		WithOEmbedTimeout(c.FetchTimeout),
		WithMaxSize(c.MaxEmbedWidth, c.MaxEmbedHeight),
	}
}

// OpenGraphOptions translates the Open Graph settings into resolver options
func (c Config) OpenGraphOptions() []OpenGraphOption {
	return []OpenGraphOption{WithOpenGraphTimeout(c.OpenGraphTimeout)}
}

// ConfigFromEnv creates a Config from environment variables.
// Uses defaults for any missing environment variables.
//
// Environment variables:
//   - EMBED_ENABLED: "true"/"1" to enable, "false"/"0" to disable (default: true)
//   - EMBED_USER_AGENT: outbound User-Agent
//   - EMBED_FETCH_TIMEOUT_SECONDS: oEmbed fetch timeout (default: 10)
//   - EMBED_OPENGRAPH_TIMEOUT_SECONDS: Open Graph fetch timeout (default: 5)
//   - EMBED_MAX_REDIRECTS: redirect cap (default: 3)
//   - EMBED_MAX_BODY_BYTES: response size limit (default: 5242880)
//   - EMBED_ALLOW_PRIVATE_NETWORKS: dev only, disables SSRF address checks (default: false)
//   - EMBED_HOST_RATE_LIMIT: outbound requests/second per host, 0 disables (default: 0)
//   - EMBED_HOST_RATE_BURST: burst for the per-host limiter (default: 5)
//   - EMBED_DEFAULT_TTL_SECONDS: oEmbed/tombstone TTL (default: 86400)
//   - EMBED_OPENGRAPH_TTL_SECONDS: Open Graph TTL (default: 604800)
//   - EMBED_MAX_CACHE_TTL_SECONDS: cap on provider cache_age (default: 2592000)
//   - EMBED_MAX_WIDTH / EMBED_MAX_HEIGHT: oEmbed maxwidth/maxheight (default: unset)
//   - EMBED_CACHE_BACKEND: memory, postgres or redis (default: memory)
//   - EMBED_MEMORY_CACHE_SIZE: in-memory entry bound (default: 10000)
//   - EMBED_CLEANUP_INTERVAL_MINUTES: expired-entry purge interval, 0 disables (default: 60)
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("EMBED_ENABLED"); v != "" {
		cfg.Enabled = parseBoolEnv("EMBED_ENABLED", v, cfg.Enabled)
	}
	if v := os.Getenv("EMBED_USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}
	if v := os.Getenv("EMBED_FETCH_TIMEOUT_SECONDS"); v != "" {
		cfg.FetchTimeout = time.Duration(parsePositiveIntEnv("EMBED_FETCH_TIMEOUT_SECONDS", v, int(cfg.FetchTimeout.Seconds()))) * time.Second
	}
	if v := os.Getenv("EMBED_OPENGRAPH_TIMEOUT_SECONDS"); v != "" {
		cfg.OpenGraphTimeout = time.Duration(parsePositiveIntEnv("EMBED_OPENGRAPH_TIMEOUT_SECONDS", v, int(cfg.OpenGraphTimeout.Seconds()))) * time.Second
	}
	if v := os.Getenv("EMBED_MAX_REDIRECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRedirects = n
		} else {
			slog.Warn("[EMBED] invalid EMBED_MAX_REDIRECTS value, using default",
				"value", v,
				"default", cfg.MaxRedirects,
				"error", err,
			)
		}
	}
	if v := os.Getenv("EMBED_MAX_BODY_BYTES"); v != "" {
		cfg.MaxBodyBytes = int64(parsePositiveIntEnv("EMBED_MAX_BODY_BYTES", v, int(cfg.MaxBodyBytes)))
	}
	if v := os.Getenv("EMBED_ALLOW_PRIVATE_NETWORKS"); v != "" {
		cfg.AllowPrivateNetworks = parseBoolEnv("EMBED_ALLOW_PRIVATE_NETWORKS", v, cfg.AllowPrivateNetworks)
	}
	if v := os.Getenv("EMBED_HOST_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.HostRateLimit = f
		} else {
			slog.Warn("[EMBED] invalid EMBED_HOST_RATE_LIMIT value, using default",
				"value", v,
				"default", cfg.HostRateLimit,
				"error", err,
			)
		}
	}
	if v := os.Getenv("EMBED_HOST_RATE_BURST"); v != "" {
		cfg.HostRateBurst = parsePositiveIntEnv("EMBED_HOST_RATE_BURST", v, cfg.HostRateBurst)
	}
	if v := os.Getenv("EMBED_DEFAULT_TTL_SECONDS"); v != "" {
		cfg.DefaultTTL = time.Duration(parsePositiveIntEnv("EMBED_DEFAULT_TTL_SECONDS", v, int(cfg.DefaultTTL.Seconds()))) * time.Second
	}
	if v := os.Getenv("EMBED_OPENGRAPH_TTL_SECONDS"); v != "" {
		cfg.OpenGraphTTL = time.Duration(parsePositiveIntEnv("EMBED_OPENGRAPH_TTL_SECONDS", v, int(cfg.OpenGraphTTL.Seconds()))) * time.Second
	}
	if v := os.Getenv("EMBED_MAX_CACHE_TTL_SECONDS"); v != "" {
		cfg.MaxCacheTTL = time.Duration(parsePositiveIntEnv("EMBED_MAX_CACHE_TTL_SECONDS", v, int(cfg.MaxCacheTTL.Seconds()))) * time.Second
	}
	if v := os.Getenv("EMBED_MAX_WIDTH"); v != "" {
		cfg.MaxEmbedWidth = parsePositiveIntEnv("EMBED_MAX_WIDTH", v, cfg.MaxEmbedWidth)
	}
	if v := os.Getenv("EMBED_MAX_HEIGHT"); v != "" {
		cfg.MaxEmbedHeight = parsePositiveIntEnv("EMBED_MAX_HEIGHT", v, cfg.MaxEmbedHeight)
	}
	if v := os.Getenv("EMBED_CACHE_BACKEND"); v != "" {
		cfg.CacheBackend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("EMBED_MEMORY_CACHE_SIZE"); v != "" {
		cfg.MemoryCacheSize = parsePositiveIntEnv("EMBED_MEMORY_CACHE_SIZE", v, cfg.MemoryCacheSize)
	}
	if v := os.Getenv("EMBED_CLEANUP_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.CleanupInterval = time.Duration(n) * time.Minute
		} else {
			slog.Warn("[EMBED] invalid EMBED_CLEANUP_INTERVAL_MINUTES value, using default",
				"value", v,
				"default_minutes", int(cfg.CleanupInterval.Minutes()),
				"error", err,
			)
		}
	}

	return cfg
}

func parseBoolEnv(name, v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	slog.Warn("[EMBED] invalid boolean env value, using default",
		"name", name,
		"value", v,
		"default", def,
	)
	return def
}

func parsePositiveIntEnv(name, v string, def int) int {
	n, err := strconv.Atoi(v)
	if err == nil && n > 0 {
		return n
	}
	slog.Warn("[EMBED] invalid env value, using default",
		"name", name,
		"value", v,
		"default", def,
		"error", err,
	)
	return def
}
