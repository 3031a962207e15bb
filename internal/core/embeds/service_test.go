package embeds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	youtubeOEmbedBody = `{"type":"video","version":"1.0","title":"Test","html":"<iframe src=\"https://youtube.com/embed/abc123\"></iframe>","thumbnail_url":"https://i.ytimg.com/abc123.jpg"}`
	ogPageBody        = `<html><head><meta property="og:title" content="Example Page"><meta property="og:image" content="https://img.example/cover.jpg"></head></html>`
)

// newTestService wires real resolvers to a mock fetcher and cache
func newTestService(fetcher *mockFetcher, cache *mockCache, opts ...ServiceOption) Service {
	return NewService(cache, NewOEmbedResolver(fetcher), NewOpenGraphResolver(fetcher), opts...)
}

// stubResolver implements Resolver with a fixed answer
type stubResolver struct {
	embed *NormalizedEmbed
	err   error
	calls int32
	delay time.Duration
}

func (s *stubResolver) Resolve(ctx context.Context, url string) (*NormalizedEmbed, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrFetchFailed, ctx.Err())
		}
	}
	if s.embed == nil {
		return nil, s.err
	}
	cp := *s.embed
	return &cp, s.err
}

func TestService_Resolve_YouTubeEndToEnd(t *testing.T) {
	fetcher := newMockFetcher().on(oembedEndpoint(youtubeURL), 200, youtubeOEmbedBody)
	cache := newMockCache()
	svc := newTestService(fetcher, cache)

	embed := svc.Resolve(context.Background(), youtubeURL)
	require.NotNil(t, embed)
	assert.Equal(t, TypeOEmbed, embed.Type)
	assert.Equal(t, OEmbedVideo, embed.OEmbedType)
	assert.Equal(t, "Test", embed.Title)
	assert.Equal(t, youtubeURL, embed.SourceURL)
	assert.Equal(t, "https://i.ytimg.com/abc123.jpg", embed.ImageURL)
	assert.Contains(t, embed.HTML, `src="https://youtube.com/embed/abc123"`)

	html := NewRenderer().Render(embed)
	assert.Contains(t, html, `<iframe src="https://youtube.com/embed/abc123"`)
	assert.Contains(t, html, `width="100%"`)
	assert.Contains(t, html, `height="450"`)

	cached, ttl, ok := cache.entry(youtubeURL)
	require.True(t, ok)
	assert.Equal(t, TypeOEmbed, cached.Type)
	assert.Equal(t, 24*time.Hour, ttl)
}

func TestService_Resolve_EmptyURL(t *testing.T) {
	fetcher := newMockFetcher()
	cache := newMockCache()
	svc := newTestService(fetcher, cache)

	assert.Nil(t, svc.Resolve(context.Background(), ""))
	assert.Equal(t, 0, fetcher.totalCalls())
	assert.Equal(t, 0, cache.getCalls)
}

func TestService_Resolve_SSRFRejectedWithoutFetch(t *testing.T) {
	fetcher := newMockFetcher()
	cache := newMockCache()
	svc := newTestService(fetcher, cache)

	for _, target := range []string{
		"http://127.0.0.1/admin",
		"http://localhost:8080/",
		"http://10.0.0.1/",
		"http://169.254.169.254/latest/meta-data/",
		"ftp://example.com/file",
		"not a url",
	} {
		assert.Nil(t, svc.Resolve(context.Background(), target), target)
	}
	assert.Equal(t, 0, fetcher.totalCalls())
	assert.Equal(t, 0, cache.setCalls, "rejected URLs are not tombstoned")
}

func TestService_Resolve_FallsBackToOpenGraph(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *mockFetcher)
	}{
		{
			name: "endpoint returns invalid JSON",
			setup: func(f *mockFetcher) {
				f.on(oembedEndpoint(youtubeURL), 200, "<html>definitely not json</html>")
			},
		},
		{
			name: "endpoint lacks version",
			setup: func(f *mockFetcher) {
				f.on(oembedEndpoint(youtubeURL), 200, `{"type":"video"}`)
			},
		},
		{
			name: "endpoint unreachable",
			setup: func(f *mockFetcher) {
				f.fail(oembedEndpoint(youtubeURL), fmt.Errorf("%w: dial tcp", ErrFetchFailed))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newMockFetcher().on(youtubeURL, 200, ogPageBody)
			tt.setup(fetcher)
			cache := newMockCache()
			svc := newTestService(fetcher, cache)

			embed := svc.Resolve(context.Background(), youtubeURL)
			require.NotNil(t, embed)
			assert.Equal(t, TypeLink, embed.Type)
			assert.Equal(t, "Potluck Night", embed.Title)
			assert.Equal(t, youtubeURL, embed.SourceURL)

			// oEmbed strictly before Open Graph, one fetch each
			assert.Equal(t, 1, fetcher.callCount(oembedEndpoint(youtubeURL)))
			assert.Equal(t, 1, fetcher.callCount(youtubeURL))

			_, ttl, ok := cache.entry(youtubeURL)
			require.True(t, ok)
			assert.Equal(t, 7*24*time.Hour, ttl)
		})
	}
}

func TestService_Resolve_NegativeCaching(t *testing.T) {
	fetcher := newMockFetcher() // every URL unreachable
	cache := newMockCache()
	svc := newTestService(fetcher, cache)
	ctx := context.Background()
	target := "https://nothing.example/page"

	assert.Nil(t, svc.Resolve(ctx, target))
	callsAfterFirst := fetcher.totalCalls()
	assert.Equal(t, 2, callsAfterFirst, "discovery page fetch plus Open Graph page fetch")

	tomb, ttl, ok := cache.entry(target)
	require.True(t, ok)
	assert.True(t, tomb.IsNone())
	assert.Equal(t, target, tomb.SourceURL)
	assert.Empty(t, tomb.Title)
	assert.Equal(t, 24*time.Hour, ttl)

	assert.Nil(t, svc.Resolve(ctx, target))
	assert.Equal(t, callsAfterFirst, fetcher.totalCalls(), "tombstone short-circuits network calls")
}

func TestService_Resolve_Idempotent(t *testing.T) {
	fetcher := newMockFetcher().on(oembedEndpoint(youtubeURL), 200, youtubeOEmbedBody)
	cache := newMockCache()
	svc := newTestService(fetcher, cache)
	ctx := context.Background()

	first := svc.Resolve(ctx, youtubeURL)
	second := svc.Resolve(ctx, youtubeURL)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fetcher.totalCalls())
}

func TestService_Resolve_CacheErrorsDoNotChangeOutcome(t *testing.T) {
	fetcher := newMockFetcher().on(oembedEndpoint(youtubeURL), 200, youtubeOEmbedBody)
	cache := newMockCache()
	cache.getErr = errCacheDown
	cache.setErr = errCacheDown
	svc := newTestService(fetcher, cache)

	embed := svc.Resolve(context.Background(), youtubeURL)
	require.NotNil(t, embed)
	assert.Equal(t, "Test", embed.Title)
}

func TestService_Resolve_SourceURLNotOverwritten(t *testing.T) {
	oembed := &stubResolver{embed: &NormalizedEmbed{
		Type:       TypeOEmbed,
		OEmbedType: OEmbedLink,
		SourceURL:  "https://canonical.example/other",
		URL:        "https://canonical.example/other",
		Title:      "T",
	}}
	cache := newMockCache()
	svc := NewService(cache, oembed, nil)

	embed := svc.Resolve(context.Background(), "https://short.example/x")
	require.NotNil(t, embed)
	assert.Equal(t, "https://short.example/x", embed.SourceURL)
	assert.Equal(t, "https://canonical.example/other", embed.URL)

	_, _, ok := cache.entry("https://short.example/x")
	assert.True(t, ok, "cached under the requested URL")
}

func TestService_Resolve_CacheTTLFromProvider(t *testing.T) {
	tests := []struct {
		name     string
		cacheAge int
		want     time.Duration
	}{
		{name: "provider hint", cacheAge: 3600, want: time.Hour},
		{name: "no hint", cacheAge: 0, want: 24 * time.Hour},
		{name: "capped", cacheAge: 365 * 24 * 3600, want: 30 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oembed := &stubResolver{embed: &NormalizedEmbed{Type: TypeOEmbed, OEmbedType: OEmbedLink, CacheAgeSeconds: tt.cacheAge}}
			cache := newMockCache()
			svc := NewService(cache, oembed, nil)

			require.NotNil(t, svc.Resolve(context.Background(), "https://ttl.example/"))
			_, ttl, _ := cache.entry("https://ttl.example/")
			assert.Equal(t, tt.want, ttl)
		})
	}
}

func TestService_Resolve_Disabled(t *testing.T) {
	fetcher := newMockFetcher().on(oembedEndpoint(youtubeURL), 200, youtubeOEmbedBody)
	svc := newTestService(fetcher, newMockCache(), WithEnabled(false))

	assert.Nil(t, svc.Resolve(context.Background(), youtubeURL))
	assert.Equal(t, 0, fetcher.totalCalls())
}

func TestService_Resolve_CircuitBreakerSkipsWithoutTombstone(t *testing.T) {
	oembed := &stubResolver{err: fmt.Errorf("%w: connection reset", ErrFetchFailed)}
	og := &stubResolver{err: fmt.Errorf("%w: deadline", ErrTimeout)}
	cache := newMockCache()
	svc := NewService(cache, oembed, og)
	ctx := context.Background()

	// three network failures open both circuits for the host
	for i := 0; i < 3; i++ {
		target := fmt.Sprintf("https://flaky.example/%d", i)
		assert.Nil(t, svc.Resolve(ctx, target))
		tomb, _, ok := cache.entry(target)
		require.True(t, ok)
		assert.True(t, tomb.IsNone())
	}
	require.Equal(t, int32(3), atomic.LoadInt32(&oembed.calls))

	assert.Nil(t, svc.Resolve(ctx, "https://flaky.example/next"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&oembed.calls), "open circuit skips the strategy")
	assert.Equal(t, int32(3), atomic.LoadInt32(&og.calls))

	_, _, ok := cache.entry("https://flaky.example/next")
	assert.False(t, ok, "a skipped attempt says nothing about the URL")

	stats := svc.CircuitStats()
	assert.Equal(t, "open", stats["oembed:flaky.example"].State)
	assert.Equal(t, "open", stats["opengraph:flaky.example"].State)
}

func TestService_Resolve_ProtocolFailuresDoNotOpenCircuit(t *testing.T) {
	oembed := &stubResolver{err: ErrNoProvider}
	og := &stubResolver{err: ErrNoMetadata}
	svc := NewService(newMockCache(), oembed, og)

	for i := 0; i < 5; i++ {
		svc.Resolve(context.Background(), fmt.Sprintf("https://plain.example/%d", i))
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&oembed.calls))
	assert.Equal(t, int32(5), atomic.LoadInt32(&og.calls))
}

func TestService_Resolve_CancelledContextNotTombstoned(t *testing.T) {
	og := &stubResolver{err: fmt.Errorf("%w: context canceled", ErrTimeout)}
	cache := newMockCache()
	svc := NewService(cache, nil, og)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Nil(t, svc.Resolve(ctx, "https://slow.example/"))
	_, _, ok := cache.entry("https://slow.example/")
	assert.False(t, ok)
}

func TestService_Resolve_CancelledCallersDoNotOpenCircuit(t *testing.T) {
	oembed := &stubResolver{err: fmt.Errorf("%w: %w", ErrFetchFailed, context.Canceled)}
	svc := NewService(newMockCache(), oembed, nil)

	for i := 0; i < 5; i++ {
		svc.Resolve(context.Background(), fmt.Sprintf("https://healthy.example/%d", i))
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&oembed.calls), "cancellations never skip the strategy")
	assert.NotEqual(t, "open", svc.CircuitStats()["oembed:healthy.example"].State)
}

func TestService_Resolve_HealthyHostAfterCancelledCallers(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(ogPageBody))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.AllowPrivateNetworks = true
	cache, err := NewMemoryCache(16)
	require.NoError(t, err)
	svc := NewServiceFromConfig(cfg, cache, nil)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Nil(t, svc.Resolve(ctx, fmt.Sprintf("%s/gone/%d", server.URL, i)))
	}

	embed := svc.Resolve(context.Background(), server.URL+"/live")
	require.NotNil(t, embed, "a healthy host still resolves after clients disconnect")
	assert.Equal(t, "Example Page", embed.Title)
	assert.Positive(t, atomic.LoadInt32(&hits))
	for key, status := range svc.CircuitStats() {
		assert.NotEqual(t, "open", status.State, key)
	}
}

func TestService_Resolve_SharedFlightOutlivesFirstCaller(t *testing.T) {
	og := &stubResolver{
		embed: &NormalizedEmbed{Type: TypeLink, Title: "Shared"},
		delay: 200 * time.Millisecond,
	}
	cache := newMockCache()
	svc := NewService(cache, nil, og)
	const target = "https://busy.example/event"

	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var first *NormalizedEmbed
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = svc.Resolve(shortCtx, target)
	}()

	// join the flight the short-deadline caller started
	time.Sleep(10 * time.Millisecond)
	second := svc.Resolve(context.Background(), target)
	wg.Wait()

	assert.Nil(t, first, "the impatient caller gives up")
	require.NotNil(t, second, "the patient caller still gets the result")
	assert.Equal(t, "Shared", second.Title)
	assert.Equal(t, int32(1), atomic.LoadInt32(&og.calls))

	cached, _, ok := cache.entry(target)
	require.True(t, ok, "the detached flight still writes the cache")
	assert.Equal(t, "Shared", cached.Title)
}

func TestService_Resolve_CallersDoNotShareVideoMeta(t *testing.T) {
	og := &stubResolver{embed: &NormalizedEmbed{
		Type:   TypeLink,
		Title:  "Clip",
		OGType: "video.other",
		Video:  &VideoMeta{URL: "https://video.example/clip.mp4", Width: 640, Height: 360},
	}}
	cache, err := NewMemoryCache(16)
	require.NoError(t, err)
	svc := NewService(cache, nil, og)
	ctx := context.Background()
	const target = "https://video.example/clip"

	first := svc.Resolve(ctx, target)
	require.NotNil(t, first)
	require.NotNil(t, first.Video)
	first.Video.Width = 1

	second := svc.Resolve(ctx, target)
	require.NotNil(t, second)
	assert.Equal(t, 640, second.Video.Width)
	assert.NotSame(t, first.Video, second.Video)
	assert.Equal(t, int32(1), atomic.LoadInt32(&og.calls), "second call is a cache hit")
}

func TestService_Resolve_ConcurrentCallsShareOneFlight(t *testing.T) {
	oembed := &stubResolver{
		embed: &NormalizedEmbed{Type: TypeOEmbed, OEmbedType: OEmbedLink, Title: "Shared"},
		delay: 50 * time.Millisecond,
	}
	svc := NewService(newMockCache(), oembed, nil)

	var wg sync.WaitGroup
	results := make([]*NormalizedEmbed, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Resolve(context.Background(), "https://popular.example/")
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		require.NotNil(t, r, "result %d", i)
		assert.Equal(t, "Shared", r.Title)
	}
	assert.Less(t, atomic.LoadInt32(&oembed.calls), int32(10))

	// each caller owns its copy
	results[0].Title = "changed"
	assert.Equal(t, "Shared", results[1].Title)
}

func TestService_ProcessTextEmbeds(t *testing.T) {
	good1 := "https://one.example/a"
	good2 := "https://two.example/b"
	bad := "https://bad.example/c"

	fetcher := newMockFetcher().
		on(good1, 200, ogPageBody).
		on(good2, 200, ogPageBody)

	t.Run("failed URLs do not count against the cap", func(t *testing.T) {
		f := newMockFetcher().on(good1, 200, ogPageBody).on(good2, 200, ogPageBody)
		svc := newTestService(f, newMockCache())

		text := fmt.Sprintf("first %s then %s and %s.", bad, good1, good2)
		embeds := svc.ProcessTextEmbeds(context.Background(), text, 1)

		require.Len(t, embeds, 1)
		assert.Equal(t, good1, embeds[0].SourceURL)
		assert.Equal(t, 0, f.callCount(good2), "stops once the cap is reached")
		assert.Greater(t, f.callCount(bad), 0)
	})

	t.Run("collects up to max", func(t *testing.T) {
		svc := newTestService(fetcher, newMockCache())
		embeds := svc.ProcessTextEmbeds(context.Background(), good1+" "+good2, 5)
		require.Len(t, embeds, 2)
		assert.Equal(t, good1, embeds[0].SourceURL)
		assert.Equal(t, good2, embeds[1].SourceURL)
	})

	t.Run("non-positive max means one", func(t *testing.T) {
		svc := newTestService(fetcher, newMockCache())
		assert.Len(t, svc.ProcessTextEmbeds(context.Background(), good1+" "+good2, 0), 1)
		assert.Len(t, svc.ProcessTextEmbeds(context.Background(), good1+" "+good2, -3), 1)
	})

	t.Run("no urls", func(t *testing.T) {
		svc := newTestService(fetcher, newMockCache())
		assert.Empty(t, svc.ProcessTextEmbeds(context.Background(), "just words", 3))
		assert.Empty(t, svc.ProcessTextEmbeds(context.Background(), "", 3))
	})

	t.Run("custom extractor", func(t *testing.T) {
		extractor := URLExtractorFunc(func(text string) []string { return []string{good2} })
		svc := newTestService(fetcher, newMockCache(), WithExtractor(extractor))
		embeds := svc.ProcessTextEmbeds(context.Background(), "anything", 1)
		require.Len(t, embeds, 1)
		assert.Equal(t, good2, embeds[0].SourceURL)
	})
}

func TestService_AdminOperations(t *testing.T) {
	cache := newMockCache()
	fetcher := newMockFetcher().on(oembedEndpoint(youtubeURL), 200, youtubeOEmbedBody)
	svc := newTestService(fetcher, cache)
	ctx := context.Background()

	require.NotNil(t, svc.Resolve(ctx, youtubeURL))
	assert.Nil(t, svc.Resolve(ctx, "https://down.example/"))

	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalCached)

	require.NoError(t, svc.ClearCache(ctx, youtubeURL))
	_, _, ok := cache.entry(youtubeURL)
	assert.False(t, ok)

	// clearing lets the URL resolve again
	require.NotNil(t, svc.Resolve(ctx, youtubeURL))
	assert.Equal(t, 2, fetcher.callCount(oembedEndpoint(youtubeURL)))

	assert.ErrorIs(t, svc.ClearCache(ctx, ""), ErrInvalidURL)

	require.NoError(t, svc.ClearAllCaches(ctx))
	stats, _ = svc.GetStats(ctx)
	assert.Equal(t, int64(0), stats.TotalCached)
}

func TestService_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	fetcher := newMockFetcher().on(oembedEndpoint(youtubeURL), 200, youtubeOEmbedBody)
	svc := newTestService(fetcher, newMockCache(), WithMetrics(metrics))
	ctx := context.Background()

	svc.Resolve(ctx, youtubeURL)
	svc.Resolve(ctx, youtubeURL)
	svc.Resolve(ctx, "http://127.0.0.1/")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.resolutions.WithLabelValues(outcomeOEmbed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.resolutions.WithLabelValues(outcomeCacheHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.resolutions.WithLabelValues(outcomeRejected)))
}

func TestNewService_WithConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultTTL = time.Minute
	cfg.AllowPrivateNetworks = true

	og := &stubResolver{err: errors.New("nothing here")}
	cache := newMockCache()
	svc := NewService(cache, nil, og, WithConfig(cfg))

	assert.Nil(t, svc.Resolve(context.Background(), "http://127.0.0.1:8080/dev"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&og.calls), "private URLs pass the pre-check when allowed")

	_, ttl, ok := cache.entry("http://127.0.0.1:8080/dev")
	require.True(t, ok)
	assert.Equal(t, time.Minute, ttl)
}

func TestNewServiceFromConfig_OpenGraphOverHTTP(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head>
			<title>Fallback</title>
			<meta property="og:title" content="Potluck Night">
			<meta property="og:description" content="Bring a dish">
			<meta property="og:image" content="/cover.jpg">
		</head><body></body></html>`))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.AllowPrivateNetworks = true
	cache, err := NewMemoryCache(16)
	require.NoError(t, err)

	svc := NewServiceFromConfig(cfg, cache, NewMetrics(prometheus.NewRegistry()))
	pageURL := server.URL + "/events/42"

	embed := svc.Resolve(context.Background(), pageURL)
	require.NotNil(t, embed)
	assert.Equal(t, TypeLink, embed.Type)
	assert.Equal(t, "Potluck Night", embed.Title)
	assert.Equal(t, server.URL+"/cover.jpg", embed.ImageURL)
	assert.Equal(t, pageURL, embed.SourceURL)

	// oEmbed discovery and the Open Graph fetch each hit the page once
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	again := svc.Resolve(context.Background(), pageURL)
	require.NotNil(t, again)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "second resolve is served from cache")
}
