package embeds

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var dimensionPattern = regexp.MustCompile(`^\d{1,5}(%|px)?$`)

// newEmbedHTMLPolicy builds the policy applied to provider markup before it
// is cached. Only iframes and the plain blockquote fallback some providers
// ship survive; scripts, styles and event handlers are dropped.
func newEmbedHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements("iframe")
	p.AllowAttrs("src", "title", "allow", "frameborder", "allowfullscreen").OnElements("iframe")
	p.AllowAttrs("width", "height").Matching(dimensionPattern).OnElements("iframe")

	p.AllowElements("blockquote", "p", "br", "a")
	p.AllowAttrs("href").OnElements("a")

	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)

	return p
}

// htmlSanitizer is shared; bluemonday policies are safe for concurrent use once built
var htmlSanitizer = newEmbedHTMLPolicy()

// sanitizeEmbedHTML strips everything but the allowed embed markup
func sanitizeEmbedHTML(raw string) string {
	if raw == "" {
		return ""
	}
	return htmlSanitizer.Sanitize(raw)
}
