package embeds

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// OpenGraphResolver builds link-preview records from Open Graph and Twitter
// Card meta tags.
type OpenGraphResolver struct {
	fetcher Fetcher
	timeout time.Duration
}

// OpenGraphOption configures an OpenGraphResolver
type OpenGraphOption func(*OpenGraphResolver)

// WithOpenGraphTimeout sets the page fetch timeout
func WithOpenGraphTimeout(d time.Duration) OpenGraphOption {
	return func(r *OpenGraphResolver) {
		r.timeout = d
	}
}

// NewOpenGraphResolver creates a resolver with a 5 second page budget
func NewOpenGraphResolver(fetcher Fetcher, opts ...OpenGraphOption) *OpenGraphResolver {
	r := &OpenGraphResolver{
		fetcher: fetcher,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches urlStr and normalizes its meta tags
func (r *OpenGraphResolver) Resolve(ctx context.Context, urlStr string) (*NormalizedEmbed, error) {
	if urlStr == "" {
		return nil, ErrInvalidURL
	}

	result := r.fetcher.Fetch(ctx, urlStr, FetchOptions{Timeout: r.timeout})
	if !result.Success {
		return nil, fmt.Errorf("failed to fetch page: %w", result.Err)
	}

	base := result.FinalURL
	if base == "" {
		base = urlStr
	}
	return parseOpenGraph(result.Body, urlStr, base)
}

// pageMeta is the flat view of a document's meta tags
type pageMeta struct {
	tags  map[string]string
	title string
}

// get returns the first non-empty value among keys
func (m pageMeta) get(keys ...string) string {
	for _, k := range keys {
		if v := m.tags[k]; v != "" {
			return v
		}
	}
	return ""
}

func (m pageMeta) getInt(key string) int {
	n, err := strconv.Atoi(m.tags[key])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// collectMeta gathers <meta property> and <meta name> tags into one map.
// The first occurrence of a key wins.
func collectMeta(body []byte) (pageMeta, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pageMeta{}, fmt.Errorf("%w: %v", ErrNoMetadata, err)
	}

	meta := pageMeta{tags: make(map[string]string)}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		for _, attr := range []string{"property", "name"} {
			key := strings.ToLower(strings.TrimSpace(s.AttrOr(attr, "")))
			if key == "" {
				continue
			}
			if _, exists := meta.tags[key]; !exists {
				meta.tags[key] = content
			}
		}
	})
	meta.title = strings.TrimSpace(doc.Find("title").First().Text())

	return meta, nil
}

// parseOpenGraph normalizes the meta tags of body. sourceURL is the identity
// of the record; base is used to resolve relative image and video URLs.
func parseOpenGraph(body []byte, sourceURL, base string) (*NormalizedEmbed, error) {
	meta, err := collectMeta(body)
	if err != nil {
		return nil, err
	}

	title := meta.get("og:title", "twitter:title")
	if title == "" {
		title = meta.title
	}
	if title == "" {
		return nil, fmt.Errorf("%w: no title", ErrNoMetadata)
	}

	embed := &NormalizedEmbed{
		Type:            TypeLink,
		SourceURL:       sourceURL,
		Title:           title,
		Description:     meta.get("og:description", "twitter:description", "description"),
		URL:             meta.get("og:url"),
		ProviderName:    meta.get("og:site_name"),
		OGType:          strings.ToLower(meta.get("og:type")),
		CacheAgeSeconds: DefaultOpenGraphCacheAge,
	}
	if embed.URL == "" {
		embed.URL = sourceURL
	}
	if embed.ProviderName == "" {
		embed.ProviderName = extractDomain(sourceURL)
	}

	if image := meta.get("og:image", "og:image:url", "og:image:secure_url", "twitter:image", "twitter:image:src"); image != "" {
		embed.ImageURL = resolveReference(base, image)
		embed.ImageWidth = meta.getInt("og:image:width")
		embed.ImageHeight = meta.getInt("og:image:height")
	}

	switch {
	case embed.OGType == "article":
		embed.AuthorName = meta.get("article:author", "author")
		embed.PublishedTime = meta.get("article:published_time")
	case strings.HasPrefix(embed.OGType, "video"):
		video := &VideoMeta{
			URL:       meta.get("og:video", "og:video:url"),
			SecureURL: meta.get("og:video:secure_url"),
			Type:      meta.get("og:video:type"),
			Width:     meta.getInt("og:video:width"),
			Height:    meta.getInt("og:video:height"),
		}
		if video.URL != "" {
			video.URL = resolveReference(base, video.URL)
		}
		if video.URL != "" || video.SecureURL != "" {
			embed.Video = video
		}
	}

	return embed, nil
}
