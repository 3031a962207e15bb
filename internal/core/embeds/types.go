package embeds

// EmbedType discriminates how a NormalizedEmbed is rendered
type EmbedType string

const (
	// TypeOEmbed is a record built from an oEmbed provider response
	TypeOEmbed EmbedType = "oembed"
	// TypeLink is a link-preview card built from Open Graph / Twitter Card tags
	TypeLink EmbedType = "link"
	// TypeNone is a tombstone: resolution failed and the failure is cached
	TypeNone EmbedType = "none"
)

// OEmbedType is the oEmbed "type" field
type OEmbedType string

const (
	OEmbedPhoto OEmbedType = "photo"
	OEmbedVideo OEmbedType = "video"
	OEmbedRich  OEmbedType = "rich"
	OEmbedLink  OEmbedType = "link"
)

// Default cache lifetimes in seconds
const (
	DefaultOEmbedCacheAge    = 86400  // 1 day
	DefaultOpenGraphCacheAge = 604800 // 7 days
)

// NormalizedEmbed is the single shape both oEmbed and Open Graph results are
// converted into. Type decides which of the optional fields are meaningful:
//
//   - TypeOEmbed: OEmbedType is set; HTML only for video/rich
//   - TypeLink:   ImageURL and URL drive the preview card
//   - TypeNone:   only SourceURL is set (cache tombstone)
type NormalizedEmbed struct {
	Type       EmbedType  `json:"type"`
	SourceURL  string     `json:"sourceUrl"`
	OEmbedType OEmbedType `json:"oembedType,omitempty"`

	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	AuthorName   string `json:"authorName,omitempty"`
	AuthorURL    string `json:"authorUrl,omitempty"`
	ProviderName string `json:"providerName,omitempty"`
	ProviderURL  string `json:"providerUrl,omitempty"`

	// URL is the link target shown to users. Providers may report a canonical
	// URL here; it never replaces SourceURL.
	URL string `json:"url,omitempty"`

	// HTML is sanitized provider markup (oEmbed video/rich only)
	HTML string `json:"html,omitempty"`

	ImageURL    string `json:"imageUrl,omitempty"`
	ImageWidth  int    `json:"imageWidth,omitempty"`
	ImageHeight int    `json:"imageHeight,omitempty"`

	// Open Graph type-specific data
	OGType        string     `json:"ogType,omitempty"`
	PublishedTime string     `json:"publishedTime,omitempty"`
	Video         *VideoMeta `json:"video,omitempty"`

	CacheAgeSeconds int `json:"cacheAgeSeconds,omitempty"`
}

// VideoMeta holds the og:video:* block of a video page
type VideoMeta struct {
	URL       string `json:"url,omitempty"`
	SecureURL string `json:"secureUrl,omitempty"`
	Type      string `json:"type,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// NewTombstone returns the negative cache record for url
func NewTombstone(url string) *NormalizedEmbed {
	return &NormalizedEmbed{Type: TypeNone, SourceURL: url}
}

// clone returns a deep copy of e
func (e *NormalizedEmbed) clone() *NormalizedEmbed {
	if e == nil {
		return nil
	}
	out := *e
	if e.Video != nil {
		video := *e.Video
		out.Video = &video
	}
	return &out
}

// IsNone reports whether e is absent or a tombstone
func (e *NormalizedEmbed) IsNone() bool {
	return e == nil || e.Type == TypeNone
}

// IsIframeCandidate reports whether e should be rendered through the iframe path
func (e *NormalizedEmbed) IsIframeCandidate() bool {
	if e == nil || e.Type != TypeOEmbed || e.HTML == "" {
		return false
	}
	return e.OEmbedType == OEmbedVideo || e.OEmbedType == OEmbedRich
}

// LinkURL returns the URL a preview card should point at
func (e *NormalizedEmbed) LinkURL() string {
	if e == nil {
		return ""
	}
	if e.URL != "" {
		return e.URL
	}
	return e.SourceURL
}

// CacheStats summarizes the embed cache for operational tooling
type CacheStats struct {
	TotalCached int64 `json:"totalCached"`
	Expired     int64 `json:"expired"`
	Active      int64 `json:"active"`
}
