package embeds

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Strategy names used for circuit breaking and metrics
const (
	strategyOEmbed    = "oembed"
	strategyOpenGraph = "opengraph"
)

type service struct {
	cache        Cache
	oembed       Resolver
	opengraph    Resolver
	extractor    URLExtractor
	breaker      *circuitBreaker
	metrics      *Metrics
	inflight     singleflight.Group
	enabled      bool
	allowPrivate bool
	defaultTTL   time.Duration
	openGraphTTL time.Duration
	maxTTL       time.Duration
}

// NewService creates the embed orchestrator. oembed is always tried before
// opengraph; either may be nil to disable that strategy.
func NewService(cache Cache, oembed, opengraph Resolver, opts ...ServiceOption) Service {
	s := &service{
		cache:        cache,
		oembed:       oembed,
		opengraph:    opengraph,
		extractor:    URLExtractorFunc(ExtractURLs),
		breaker:      newCircuitBreaker(),
		enabled:      true,
		defaultTTL:   DefaultOEmbedCacheAge * time.Second,
		openGraphTTL: DefaultOpenGraphCacheAge * time.Second,
		maxTTL:       30 * 24 * time.Hour,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ServiceOption configures the service
type ServiceOption func(*service)

// WithExtractor replaces the URL extractor used by ProcessTextEmbeds
func WithExtractor(extractor URLExtractor) ServiceOption {
	return func(s *service) {
		s.extractor = extractor
	}
}

// WithMetrics records resolution outcomes to m
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *service) {
		s.metrics = m
	}
}

// WithTTLs sets the tombstone/oEmbed default, Open Graph, and maximum cache lifetimes
func WithTTLs(defaultTTL, openGraphTTL, maxTTL time.Duration) ServiceOption {
	return func(s *service) {
		s.defaultTTL = defaultTTL
		s.openGraphTTL = openGraphTTL
		s.maxTTL = maxTTL
	}
}

// WithEnabled turns resolution on or off
func WithEnabled(enabled bool) ServiceOption {
	return func(s *service) {
		s.enabled = enabled
	}
}

// WithPrivateNetworksAllowed relaxes the up-front URL check to syntax only.
// Pair it with a fetcher built WithAllowPrivateNetworks.
func WithPrivateNetworksAllowed(allowed bool) ServiceOption {
	return func(s *service) {
		s.allowPrivate = allowed
	}
}

// WithConfig applies the service-level fields of cfg
func WithConfig(cfg Config) ServiceOption {
	return func(s *service) {
		s.enabled = cfg.Enabled
		s.allowPrivate = cfg.AllowPrivateNetworks
		s.defaultTTL = cfg.DefaultTTL
		s.openGraphTTL = cfg.OpenGraphTTL
		s.maxTTL = cfg.MaxCacheTTL
	}
}

// Resolve returns the embed for urlStr, or nil when there is none.
// Concurrent calls for the same URL share one resolution.
func (s *service) Resolve(ctx context.Context, urlStr string) *NormalizedEmbed {
	if urlStr == "" {
		return nil
	}
	if !s.enabled {
		s.metrics.observeResolution(outcomeDisabled)
		return nil
	}

	validate := ValidateURL
	if s.allowPrivate {
		validate = parseFetchableURL
	}
	if _, err := validate(urlStr); err != nil {
		slog.Debug("[EMBED] rejected URL", "url", urlStr, "error", err)
		s.metrics.observeResolution(outcomeRejected)
		return nil
	}

	if ctx.Err() != nil {
		return nil
	}

	// The flight is detached from the caller that started it so one caller
	// going away does not fail the others. Fetch timeouts still bound it.
	flight := s.inflight.DoChan(urlStr, func() (any, error) {
		return s.resolve(context.WithoutCancel(ctx), urlStr), nil
	})

	select {
	case res := <-flight:
		embed, _ := res.Val.(*NormalizedEmbed)
		// callers sharing a flight each get their own copy
		return embed.clone()
	case <-ctx.Done():
		return nil
	}
}

func (s *service) resolve(ctx context.Context, urlStr string) *NormalizedEmbed {
	cached, err := s.cache.Get(ctx, urlStr)
	if err != nil {
		slog.Warn("[EMBED] cache read failed", "url", urlStr, "error", err)
		s.metrics.observeCacheError("get")
	} else if cached != nil {
		if cached.IsNone() {
			s.metrics.observeResolution(outcomeCacheNegative)
			return nil
		}
		s.metrics.observeResolution(outcomeCacheHit)
		return cached
	}

	oembed, oembedSkipped := s.attempt(ctx, strategyOEmbed, s.oembed, urlStr)
	if oembed != nil {
		oembed.SourceURL = urlStr
		s.store(ctx, urlStr, oembed, s.oembedTTL(oembed))
		s.metrics.observeResolution(outcomeOEmbed)
		return oembed
	}

	og, ogSkipped := s.attempt(ctx, strategyOpenGraph, s.opengraph, urlStr)
	if og != nil {
		og.SourceURL = urlStr
		s.store(ctx, urlStr, og, s.openGraphTTL)
		s.metrics.observeResolution(outcomeOpenGraph)
		return og
	}

	s.metrics.observeResolution(outcomeNone)

	// A skipped strategy says nothing about the URL itself.
	if oembedSkipped || ogSkipped || ctx.Err() != nil {
		return nil
	}
	s.store(ctx, urlStr, NewTombstone(urlStr), s.defaultTTL)
	return nil
}

// attempt runs one strategy behind its circuit breaker. skipped is true when
// the breaker refused the attempt.
func (s *service) attempt(ctx context.Context, strategy string, r Resolver, urlStr string) (embed *NormalizedEmbed, skipped bool) {
	if r == nil {
		return nil, false
	}

	key := breakerKey(strategy, extractDomain(urlStr))
	if ok, err := s.breaker.canAttempt(key); !ok {
		slog.Debug("[EMBED] skipping strategy", "strategy", strategy, "url", urlStr, "error", err)
		s.metrics.observeBreakerSkip(strategy)
		return nil, true
	}

	embed, err := r.Resolve(ctx, urlStr)
	switch {
	case err != nil && ctx.Err() != nil:
		// abandoned, not a verdict on the host
		return nil, false
	case err != nil && isNetworkFailure(err):
		s.breaker.recordFailure(key, err)
		return nil, false
	case err != nil:
		// the host answered; the page just had nothing usable
		s.breaker.recordSuccess(key)
		slog.Debug("[EMBED] strategy produced no embed", "strategy", strategy, "url", urlStr, "error", err)
		return nil, false
	case embed == nil:
		return nil, false
	}

	s.breaker.recordSuccess(key)
	return embed, false
}

// oembedTTL honours the provider cache hint, capped at maxTTL
func (s *service) oembedTTL(embed *NormalizedEmbed) time.Duration {
	ttl := s.defaultTTL
	if embed.CacheAgeSeconds > 0 {
		ttl = time.Duration(embed.CacheAgeSeconds) * time.Second
	}
	if s.maxTTL > 0 && ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	return ttl
}

func (s *service) store(ctx context.Context, urlStr string, embed *NormalizedEmbed, ttl time.Duration) {
	if err := s.cache.Set(ctx, urlStr, embed, ttl); err != nil {
		slog.Warn("[EMBED] failed to cache embed",
			"url", urlStr,
			"type", embed.Type,
			"error", err,
		)
		s.metrics.observeCacheError("set")
	}
}

// ProcessTextEmbeds resolves URLs found in text, in order, until maxEmbeds
// embeds have been produced. URLs that yield nothing do not count.
func (s *service) ProcessTextEmbeds(ctx context.Context, text string, maxEmbeds int) []*NormalizedEmbed {
	if text == "" || s.extractor == nil {
		return nil
	}
	if maxEmbeds <= 0 {
		maxEmbeds = 1
	}

	var embeds []*NormalizedEmbed
	for _, u := range s.extractor.ExtractURLs(text) {
		if ctx.Err() != nil {
			break
		}
		embed := s.Resolve(ctx, u)
		if embed == nil {
			continue
		}
		embeds = append(embeds, embed)
		if len(embeds) >= maxEmbeds {
			break
		}
	}
	return embeds
}

// ClearCache drops the cached entry for urlStr
func (s *service) ClearCache(ctx context.Context, urlStr string) error {
	if urlStr == "" {
		return ErrInvalidURL
	}
	if err := s.cache.Delete(ctx, urlStr); err != nil {
		return fmt.Errorf("failed to clear cache for %s: %w", urlStr, err)
	}
	return nil
}

// ClearAllCaches drops every cached entry
func (s *service) ClearAllCaches(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear embed cache: %w", err)
	}
	slog.Info("[EMBED] cleared all cached embeds")
	return nil
}

// GetStats reports cache statistics
func (s *service) GetStats(ctx context.Context) (CacheStats, error) {
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return CacheStats{}, fmt.Errorf("failed to read cache stats: %w", err)
	}
	return stats, nil
}

// CircuitStats reports the state of every tracked strategy/host circuit
func (s *service) CircuitStats() map[string]BreakerStatus {
	return s.breaker.stats()
}

// NewServiceFromConfig builds the full pipeline described by cfg: one shared
// SafeFetcher feeding the oEmbed and Open Graph resolvers. metrics may be nil.
func NewServiceFromConfig(cfg Config, cache Cache, metrics *Metrics) Service {
	fetcher := NewSafeFetcher(append(cfg.FetcherOptions(), WithFetcherMetrics(metrics))...)
	return NewService(cache,
		NewOEmbedResolver(fetcher, cfg.OEmbedOptions()...),
		NewOpenGraphResolver(fetcher, cfg.OpenGraphOptions()...),
		WithConfig(cfg),
		WithMetrics(metrics),
	)
}
