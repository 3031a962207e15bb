package embeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// FetchOptions tunes a single fetch. Zero values use the fetcher defaults.
type FetchOptions struct {
	Timeout time.Duration
	// MaxRedirects caps redirect hops; a negative value disables following redirects.
	MaxRedirects int
}

// FetchResult is the tagged outcome of a fetch. Success is true only for a
// 2xx response whose body was read completely within the size limit.
type FetchResult struct {
	Success     bool
	StatusCode  int
	Body        []byte
	ContentType string
	FinalURL    string
	Err         error
}

// SafeFetcher implements Fetcher with SSRF protection, size and time limits,
// and a redirect cap.
type SafeFetcher struct {
	client              *http.Client
	userAgent           string
	maxBodyBytes        int64
	defaultTimeout      time.Duration
	defaultMaxRedirects int
	allowPrivate        bool
	base                http.RoundTripper
	lookup              lookupFunc
	limiters            *hostLimiters
	metrics             *Metrics
}

// FetcherOption configures a SafeFetcher
type FetcherOption func(*SafeFetcher)

// WithUserAgent sets the User-Agent header for outbound requests
func WithUserAgent(userAgent string) FetcherOption {
	return func(f *SafeFetcher) {
		f.userAgent = userAgent
	}
}

// WithMaxBodyBytes sets the response size limit
func WithMaxBodyBytes(n int64) FetcherOption {
	return func(f *SafeFetcher) {
		if n > 0 {
			f.maxBodyBytes = n
		}
	}
}

// WithDefaultTimeout sets the timeout used when FetchOptions.Timeout is zero
func WithDefaultTimeout(d time.Duration) FetcherOption {
	return func(f *SafeFetcher) {
		if d > 0 {
			f.defaultTimeout = d
		}
	}
}

// WithDefaultMaxRedirects sets the redirect cap used when FetchOptions.MaxRedirects is zero
func WithDefaultMaxRedirects(n int) FetcherOption {
	return func(f *SafeFetcher) {
		f.defaultMaxRedirects = n
	}
}

// WithAllowPrivateNetworks disables the address checks. Dev/testing only.
func WithAllowPrivateNetworks() FetcherOption {
	return func(f *SafeFetcher) {
		f.allowPrivate = true
	}
}

// WithHostRateLimit limits outbound requests per host
func WithHostRateLimit(perSecond float64, burst int) FetcherOption {
	return func(f *SafeFetcher) {
		f.limiters = newHostLimiters(perSecond, burst)
	}
}

// WithTransport replaces the underlying RoundTripper. The SSRF checks still wrap it.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *SafeFetcher) {
		f.base = rt
	}
}

// WithLookup replaces the DNS lookup used by the address policy
func WithLookup(lookup func(ctx context.Context, host string) ([]net.IP, error)) FetcherOption {
	return func(f *SafeFetcher) {
		f.lookup = lookup
	}
}

// WithFetcherMetrics records fetch outcomes
func WithFetcherMetrics(m *Metrics) FetcherOption {
	return func(f *SafeFetcher) {
		f.metrics = m
	}
}

// NewSafeFetcher creates a fetcher with a 10s timeout, 3 redirects and a 5 MiB body limit
func NewSafeFetcher(opts ...FetcherOption) *SafeFetcher {
	f := &SafeFetcher{
		userAgent:           DefaultConfig().UserAgent,
		maxBodyBytes:        DefaultMaxBodyBytes,
		defaultTimeout:      10 * time.Second,
		defaultMaxRedirects: 3,
		lookup:              defaultLookup,
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.base == nil {
		f.base = &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
		}
	}

	f.client = &http.Client{
		Transport: &ssrfSafeTransport{
			base:         f.base,
			lookup:       f.lookup,
			allowPrivate: f.allowPrivate,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			max := maxRedirectsFromContext(req.Context(), f.defaultMaxRedirects)
			if max < 0 {
				return http.ErrUseLastResponse
			}
			if len(via) > max {
				return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, max)
			}
			return nil
		},
	}

	return f
}

type maxRedirectsKey struct{}

func maxRedirectsFromContext(ctx context.Context, def int) int {
	if v, ok := ctx.Value(maxRedirectsKey{}).(int); ok {
		return v
	}
	return def
}

// Fetch performs a GET request. It never returns an error directly; network,
// policy, status and size failures are all reported through FetchResult.Err.
func (f *SafeFetcher) Fetch(ctx context.Context, rawURL string, opts FetchOptions) *FetchResult {
	start := time.Now()
	result := f.fetch(ctx, rawURL, opts)
	f.metrics.observeFetch(result, time.Since(start))
	if result.Err != nil {
		slog.Debug("[EMBED] fetch failed",
			"url", rawURL,
			"status", result.StatusCode,
			"error", result.Err,
		)
	}
	return result
}

func (f *SafeFetcher) fetch(ctx context.Context, rawURL string, opts FetchOptions) *FetchResult {
	validate := ValidateURL
	if f.allowPrivate {
		validate = parseFetchableURL
	}
	u, err := validate(rawURL)
	if err != nil {
		return &FetchResult{Err: err}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = f.defaultTimeout
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = f.defaultMaxRedirects
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx = context.WithValue(ctx, maxRedirectsKey{}, maxRedirects)

	if f.limiters != nil {
		if err := f.limiters.wait(ctx, u.Hostname()); err != nil {
			return &FetchResult{Err: fmt.Errorf("%w: rate limit wait: %v", ErrTimeout, err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &FetchResult{Err: fmt.Errorf("%w: failed to create request: %v", ErrInvalidURL, err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return &FetchResult{Err: classifyFetchError(ctx, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	result := &FetchResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    rawURL,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		result.FinalURL = resp.Request.URL.String()
	}

	if resp.ContentLength > f.maxBodyBytes {
		result.Err = fmt.Errorf("%w: content length %d exceeds maximum %d bytes",
			ErrBodyTooLarge, resp.ContentLength, f.maxBodyBytes)
		return result
	}

	// Read one byte past the limit to detect oversized bodies without buffering them.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		result.Err = classifyFetchError(ctx, err)
		return result
	}
	if int64(len(body)) > f.maxBodyBytes {
		result.Err = fmt.Errorf("%w: response body exceeds maximum %d bytes", ErrBodyTooLarge, f.maxBodyBytes)
		return result
	}
	result.Body = body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Err = fmt.Errorf("%w: status %d", ErrBadStatus, resp.StatusCode)
		return result
	}

	result.Success = true
	return result
}

// FetchJSON fetches rawURL and decodes the body into dst
func (f *SafeFetcher) FetchJSON(ctx context.Context, rawURL string, dst any, opts FetchOptions) error {
	result := f.Fetch(ctx, rawURL, opts)
	if !result.Success {
		return result.Err
	}
	return decodeJSON(result.Body, dst)
}

func decodeJSON(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return nil
}

// classifyFetchError maps client errors onto the fetch sentinels.
// A caller cancellation keeps context.Canceled in the chain so it is not
// mistaken for an upstream failure.
func classifyFetchError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrBlockedURL), errors.Is(err, ErrTooManyRedirects), errors.Is(err, ErrInvalidURL):
		return err
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: %w", ErrFetchFailed, context.Canceled)
	case errors.Is(ctx.Err(), context.DeadlineExceeded), isTimeoutError(err):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
}

// isTimeoutError checks if the error is a timeout-related error.
func isTimeoutError(err error) bool {
	var te interface{ Timeout() bool }
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}

// hostLimiters hands out one token bucket per host, bounded by an LRU
type hostLimiters struct {
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

func newHostLimiters(perSecond float64, burst int) *hostLimiters {
	if burst <= 0 {
		burst = 1
	}
	cache, err := lru.New[string, *rate.Limiter](1024)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &hostLimiters{
		limiters: cache,
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (h *hostLimiters) wait(ctx context.Context, host string) error {
	limiter, ok := h.limiters.Get(host)
	if !ok {
		limiter = rate.NewLimiter(h.limit, h.burst)
		// a racing insert just loses one limiter's state
		h.limiters.Add(host, limiter)
	}
	return limiter.Wait(ctx)
}
