package embeds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// oEmbedResponse represents a standard oEmbed response. Providers disagree on
// whether numbers are strings, so the numeric and version fields are lenient.
type oEmbedResponse struct {
	Type            flexString `json:"type"`
	Version         flexString `json:"version"`
	Title           flexString `json:"title"`
	Description     flexString `json:"description"`
	AuthorName      flexString `json:"author_name"`
	AuthorURL       flexString `json:"author_url"`
	ProviderName    flexString `json:"provider_name"`
	ProviderURL     flexString `json:"provider_url"`
	URL             flexString `json:"url"`
	HTML            flexString `json:"html"`
	ThumbnailURL    flexString `json:"thumbnail_url"`
	ThumbnailWidth  flexInt    `json:"thumbnail_width"`
	ThumbnailHeight flexInt    `json:"thumbnail_height"`
	Width           flexInt    `json:"width"`
	Height          flexInt    `json:"height"`
	CacheAge        flexInt    `json:"cache_age"`
}

// flexString accepts a JSON string or number; anything else decodes to ""
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexString(strings.TrimSpace(str))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*s = flexString(num.String())
		return nil
	}
	*s = ""
	return nil
}

// flexInt accepts a JSON number or numeric string; anything else decodes to 0
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = flexInt(f)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(str)); err == nil {
			*n = flexInt(v)
			return nil
		}
	}
	*n = 0
	return nil
}

// OEmbedResolver resolves URLs through known oEmbed providers, falling back
// to <link rel="alternate" type="application/json+oembed"> discovery.
type OEmbedResolver struct {
	fetcher   Fetcher
	providers ProviderTable
	timeout   time.Duration
	maxWidth  int
	maxHeight int
}

// OEmbedOption configures an OEmbedResolver
type OEmbedOption func(*OEmbedResolver)

// WithProviders replaces the provider table
func WithProviders(providers ProviderTable) OEmbedOption {
	return func(r *OEmbedResolver) {
		r.providers = append(ProviderTable(nil), providers...)
	}
}

// WithOEmbedTimeout sets the fetch timeout for discovery and endpoint requests
func WithOEmbedTimeout(d time.Duration) OEmbedOption {
	return func(r *OEmbedResolver) {
		r.timeout = d
	}
}

// WithMaxSize sets the maxwidth/maxheight hints sent to known providers
func WithMaxSize(width, height int) OEmbedOption {
	return func(r *OEmbedResolver) {
		r.maxWidth = width
		r.maxHeight = height
	}
}

// NewOEmbedResolver creates a resolver using the default provider table
func NewOEmbedResolver(fetcher Fetcher, opts ...OEmbedOption) *OEmbedResolver {
	r := &OEmbedResolver{
		fetcher:   fetcher,
		providers: DefaultProviders(),
		timeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// endpointFor returns the oEmbed request URL for urlStr and a short provider
// key used for circuit breaking. ok is false when the URL has no known provider.
func (r *OEmbedResolver) endpointFor(urlStr string) (endpoint, provider string, ok bool) {
	p, found := r.providers.Match(urlStr)
	if !found {
		return "", "", false
	}
	endpoint, err := buildOEmbedURL(p.Endpoint, urlStr, r.maxWidth, r.maxHeight)
	if err != nil {
		return "", "", false
	}
	return endpoint, strings.ToLower(p.Name), true
}

// Resolve fetches and normalizes oEmbed data for urlStr
func (r *OEmbedResolver) Resolve(ctx context.Context, urlStr string) (*NormalizedEmbed, error) {
	if urlStr == "" {
		return nil, ErrInvalidURL
	}

	endpoint, _, ok := r.endpointFor(urlStr)
	if !ok {
		discovered, err := r.discover(ctx, urlStr)
		if err != nil {
			return nil, err
		}
		endpoint = discovered
	}

	var raw oEmbedResponse
	if err := r.fetcher.FetchJSON(ctx, endpoint, &raw, FetchOptions{Timeout: r.timeout}); err != nil {
		return nil, fmt.Errorf("failed to fetch oEmbed data: %w", err)
	}
	if raw.Type == "" || raw.Version == "" {
		return nil, fmt.Errorf("%w: missing type or version", ErrInvalidOEmbed)
	}

	return normalizeOEmbed(&raw, urlStr), nil
}

// discover looks for an oEmbed JSON <link> in the page at urlStr
func (r *OEmbedResolver) discover(ctx context.Context, urlStr string) (string, error) {
	result := r.fetcher.Fetch(ctx, urlStr, FetchOptions{Timeout: r.timeout})
	if !result.Success {
		return "", fmt.Errorf("oEmbed discovery fetch: %w", result.Err)
	}

	href := findOEmbedLink(bytes.NewReader(result.Body))
	if href == "" {
		return "", ErrNoProvider
	}

	base := result.FinalURL
	if base == "" {
		base = urlStr
	}
	return resolveReference(base, href), nil
}

// findOEmbedLink scans HTML for a <link> with rel containing "alternate" and
// type application/json+oembed. Attribute order does not matter and the
// tokenizer has already decoded entities in the href.
func findOEmbedLink(r io.Reader) string {
	z := html.NewTokenizer(r)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "link" || !hasAttr {
				continue
			}
			var rel, typ, href string
			for {
				key, val, more := z.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = string(val)
				case "type":
					typ = string(val)
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}
			if href != "" && hasToken(rel, "alternate") &&
				strings.EqualFold(strings.TrimSpace(typ), "application/json+oembed") {
				return strings.TrimSpace(href)
			}
		}
	}
}

// hasToken reports whether the space-separated list contains token (case-insensitive)
func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}

// resolveReference resolves ref against base, returning ref unchanged on parse errors
func resolveReference(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// normalizeOEmbed converts a raw oEmbed response to a NormalizedEmbed
func normalizeOEmbed(raw *oEmbedResponse, sourceURL string) *NormalizedEmbed {
	embed := &NormalizedEmbed{
		Type:            TypeOEmbed,
		SourceURL:       sourceURL,
		URL:             sourceURL,
		Title:           string(raw.Title),
		Description:     string(raw.Description),
		AuthorName:      string(raw.AuthorName),
		AuthorURL:       string(raw.AuthorURL),
		ProviderName:    string(raw.ProviderName),
		ProviderURL:     string(raw.ProviderURL),
		CacheAgeSeconds: DefaultOEmbedCacheAge,
	}
	if raw.CacheAge > 0 {
		embed.CacheAgeSeconds = int(raw.CacheAge)
	}

	switch OEmbedType(strings.ToLower(string(raw.Type))) {
	case OEmbedPhoto:
		embed.OEmbedType = OEmbedPhoto
		embed.ImageURL = string(raw.URL)
		embed.ImageWidth = int(raw.Width)
		embed.ImageHeight = int(raw.Height)
	case OEmbedVideo, OEmbedRich:
		embed.OEmbedType = OEmbedType(strings.ToLower(string(raw.Type)))
		embed.HTML = sanitizeEmbedHTML(string(raw.HTML))
		embed.ImageURL = string(raw.ThumbnailURL)
		embed.ImageWidth = int(raw.ThumbnailWidth)
		embed.ImageHeight = int(raw.ThumbnailHeight)
	default:
		// "link" and unknown types carry only title and url
		embed.OEmbedType = OEmbedLink
		embed.Description = ""
		embed.AuthorName = ""
		embed.AuthorURL = ""
		if raw.URL != "" {
			embed.URL = string(raw.URL)
		}
	}

	return embed
}

// isNetworkFailure reports whether err came from the transport rather than from
// a well-formed response that simply had nothing to embed
func isNetworkFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrFetchFailed) || errors.Is(err, ErrTimeout)
}
