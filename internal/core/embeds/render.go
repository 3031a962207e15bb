package embeds

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/rivo/uniseg"
)

// DefaultDescriptionLimit is the card description length in grapheme clusters
const DefaultDescriptionLimit = 200

// iframeAllow is the only permission set granted to embedded players
const iframeAllow = "accelerometer; autoplay; clipboard-write; encrypted-media; gyroscope; picture-in-picture"

var (
	iframeTagPattern = regexp.MustCompile(`(?is)<iframe\b[^>]*>`)
	srcAttrPattern   = regexp.MustCompile(`(?i)\ssrc\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s>]+))`)
	widthAttrPattern = regexp.MustCompile(`(?i)\swidth\s*=\s*["']?(\d{1,5}%?)`)
	heightPattern    = regexp.MustCompile(`(?i)\sheight\s*=\s*["']?(\d{1,5}%?)`)
)

// Renderer turns NormalizedEmbed records into HTML fragments. It never
// returns an error; anything it cannot render safely becomes "".
type Renderer struct {
	descriptionLimit int
}

// RendererOption configures a Renderer
type RendererOption func(*Renderer)

// WithDescriptionLimit sets the card description length in grapheme clusters
func WithDescriptionLimit(n int) RendererOption {
	return func(r *Renderer) {
		if n > 0 {
			r.descriptionLimit = n
		}
	}
}

// NewRenderer creates a Renderer
func NewRenderer(opts ...RendererOption) *Renderer {
	r := &Renderer{descriptionLimit: DefaultDescriptionLimit}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// iframeAttrs is what survives of provider embed markup
type iframeAttrs struct {
	src, width, height string
}

// extractIframe pulls src, width and height from the first <iframe> in raw.
// ok is false when there is no iframe or its src is not an http(s) URL.
func extractIframe(raw string) (iframeAttrs, bool) {
	tag := iframeTagPattern.FindString(raw)
	if tag == "" {
		return iframeAttrs{}, false
	}

	m := srcAttrPattern.FindStringSubmatch(tag)
	if m == nil {
		return iframeAttrs{}, false
	}
	src := html.UnescapeString(strings.TrimSpace(m[1] + m[2] + m[3]))
	if !isSafeURL(src) {
		return iframeAttrs{}, false
	}

	attrs := iframeAttrs{src: src, width: "100%", height: "450"}
	if m := widthAttrPattern.FindStringSubmatch(tag); m != nil {
		attrs.width = m[1]
	}
	if m := heightPattern.FindStringSubmatch(tag); m != nil {
		attrs.height = m[1]
	}
	return attrs, true
}

// isSafeURL accepts absolute http(s) URLs only
func isSafeURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// ShouldRender reports whether Render would produce any markup for embed
func (r *Renderer) ShouldRender(embed *NormalizedEmbed) bool {
	if embed.IsNone() {
		return false
	}
	if embed.IsIframeCandidate() {
		if _, ok := extractIframe(embed.HTML); ok {
			return true
		}
	}
	return canRenderCard(embed)
}

func canRenderCard(embed *NormalizedEmbed) bool {
	return isSafeURL(embed.ImageURL) && isSafeURL(embed.LinkURL())
}

// Render returns the HTML fragment for embed, or "" when nothing can be shown
func (r *Renderer) Render(embed *NormalizedEmbed) string {
	if embed.IsNone() {
		return ""
	}
	if embed.IsIframeCandidate() {
		if attrs, ok := extractIframe(embed.HTML); ok {
			return r.renderIframe(embed, attrs)
		}
	}
	if !canRenderCard(embed) {
		return ""
	}
	return r.renderCard(embed)
}

func (r *Renderer) renderIframe(embed *NormalizedEmbed, attrs iframeAttrs) string {
	var b strings.Builder
	b.WriteString(`<div class="embed embed-oembed embed-`)
	b.WriteString(escapeAttribute(string(embed.OEmbedType)))
	b.WriteString(`"><iframe src="`)
	b.WriteString(escapeAttribute(attrs.src))
	b.WriteString(`" width="`)
	b.WriteString(escapeAttribute(attrs.width))
	b.WriteString(`" height="`)
	b.WriteString(escapeAttribute(attrs.height))
	b.WriteString(`" frameborder="0" allow="`)
	b.WriteString(iframeAllow)
	b.WriteString(`" allowfullscreen loading="lazy"`)
	if embed.Title != "" {
		b.WriteString(` title="`)
		b.WriteString(escapeAttribute(embed.Title))
		b.WriteString(`"`)
	}
	b.WriteString(`></iframe></div>`)
	return b.String()
}

func (r *Renderer) renderCard(embed *NormalizedEmbed) string {
	var b strings.Builder
	b.WriteString(`<div class="embed embed-card"><a href="`)
	b.WriteString(escapeAttribute(embed.LinkURL()))
	b.WriteString(`" target="_blank" rel="noopener noreferrer nofollow">`)

	b.WriteString(`<div class="embed-card-image"><img src="`)
	b.WriteString(escapeAttribute(embed.ImageURL))
	b.WriteString(`" alt="`)
	b.WriteString(escapeAttribute(embed.Title))
	b.WriteString(`" loading="lazy"></div>`)

	b.WriteString(`<div class="embed-card-body">`)
	if embed.Title != "" {
		b.WriteString(`<div class="embed-card-title">`)
		b.WriteString(escapeHTML(embed.Title))
		b.WriteString(`</div>`)
	}
	if embed.Description != "" {
		b.WriteString(`<div class="embed-card-description">`)
		b.WriteString(escapeHTML(Truncate(embed.Description, r.descriptionLimit)))
		b.WriteString(`</div>`)
	}
	if embed.ProviderName != "" {
		b.WriteString(`<div class="embed-card-provider">`)
		b.WriteString(escapeHTML(embed.ProviderName))
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div></a></div>`)
	return b.String()
}

// Truncate shortens s to max grapheme clusters, appending "..." when cut
func Truncate(s string, max int) string {
	if max <= 0 || uniseg.GraphemeClusterCount(s) <= max {
		return s
	}

	g := uniseg.NewGraphemes(s)
	end := 0
	for i := 0; i < max && g.Next(); i++ {
		_, end = g.Positions()
	}
	return strings.TrimRight(s[:end], " \t\n") + "..."
}

func escapeHTML(s string) string {
	return html.EscapeString(s)
}

// escapeAttribute escapes a value for a double-quoted attribute
func escapeAttribute(s string) string {
	return html.EscapeString(s)
}
