package embeds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// mockResponse is a canned reply for one URL
type mockResponse struct {
	status   int
	body     string
	err      error
	finalURL string
}

// mockFetcher implements Fetcher for testing. Unknown URLs fail like an
// unreachable host.
type mockFetcher struct {
	mu        sync.Mutex
	responses map[string]mockResponse
	calls     map[string]int
	total     int
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		responses: make(map[string]mockResponse),
		calls:     make(map[string]int),
	}
}

func (m *mockFetcher) on(url string, status int, body string) *mockFetcher {
	m.responses[url] = mockResponse{status: status, body: body}
	return m
}

func (m *mockFetcher) fail(url string, err error) *mockFetcher {
	m.responses[url] = mockResponse{err: err}
	return m
}

func (m *mockFetcher) callCount(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[url]
}

func (m *mockFetcher) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *mockFetcher) Fetch(ctx context.Context, url string, opts FetchOptions) *FetchResult {
	m.mu.Lock()
	m.calls[url]++
	m.total++
	resp, ok := m.responses[url]
	m.mu.Unlock()

	if !ok {
		return &FetchResult{Err: fmt.Errorf("%w: connection refused", ErrFetchFailed)}
	}
	if resp.err != nil {
		return &FetchResult{Err: resp.err}
	}

	status := resp.status
	if status == 0 {
		status = http.StatusOK
	}
	finalURL := resp.finalURL
	if finalURL == "" {
		finalURL = url
	}
	result := &FetchResult{StatusCode: status, Body: []byte(resp.body), FinalURL: finalURL}
	if status < 200 || status > 299 {
		result.Err = fmt.Errorf("%w: status %d", ErrBadStatus, status)
		return result
	}
	result.Success = true
	return result
}

func (m *mockFetcher) FetchJSON(ctx context.Context, url string, dst any, opts FetchOptions) error {
	result := m.Fetch(ctx, url, opts)
	if !result.Success {
		return result.Err
	}
	return decodeJSON(result.Body, dst)
}

// mockCache implements Cache for testing
type mockCache struct {
	mu       sync.Mutex
	storage  map[string]*NormalizedEmbed
	ttls     map[string]time.Duration
	getErr   error
	setErr   error
	getCalls int
	setCalls int
}

func newMockCache() *mockCache {
	return &mockCache{
		storage: make(map[string]*NormalizedEmbed),
		ttls:    make(map[string]time.Duration),
	}
}

func (m *mockCache) Get(ctx context.Context, url string) (*NormalizedEmbed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	embed, ok := m.storage[url]
	if !ok {
		return nil, nil
	}
	cp := *embed
	return &cp, nil
}

func (m *mockCache) Set(ctx context.Context, url string, embed *NormalizedEmbed, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	cp := *embed
	m.storage[url] = &cp
	m.ttls[url] = ttl
	return nil
}

func (m *mockCache) Delete(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.storage, url)
	delete(m.ttls, url)
	return nil
}

func (m *mockCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storage = make(map[string]*NormalizedEmbed)
	m.ttls = make(map[string]time.Duration)
	return nil
}

func (m *mockCache) Stats(ctx context.Context) (CacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.storage))
	return CacheStats{TotalCached: n, Active: n}, nil
}

func (m *mockCache) entry(url string) (*NormalizedEmbed, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	embed, ok := m.storage[url]
	return embed, m.ttls[url], ok
}

var errCacheDown = errors.New("cache unavailable")

// oembedEndpoint returns the request URL the default table builds for target
func oembedEndpoint(target string) string {
	p, ok := DefaultProviders().Match(target)
	if !ok {
		panic("no provider for " + target)
	}
	endpoint, err := buildOEmbedURL(p.Endpoint, target, 0, 0)
	if err != nil {
		panic(err)
	}
	return endpoint
}
