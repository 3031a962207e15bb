package embeds

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderer_Iframe(t *testing.T) {
	r := NewRenderer()

	tests := []struct {
		name        string
		embed       *NormalizedEmbed
		contains    []string
		notContains []string
	}{
		{
			name: "defaults applied",
			embed: &NormalizedEmbed{
				Type: TypeOEmbed, OEmbedType: OEmbedVideo, Title: "Clip",
				HTML: `<iframe src="https://www.youtube.com/embed/abc123"></iframe>`,
			},
			contains: []string{
				`<iframe src="https://www.youtube.com/embed/abc123"`,
				`width="100%"`,
				`height="450"`,
				`loading="lazy"`,
				`allowfullscreen`,
				`frameborder="0"`,
				`allow="` + iframeAllow + `"`,
				`title="Clip"`,
			},
		},
		{
			name: "dimensions carried over",
			embed: &NormalizedEmbed{
				Type: TypeOEmbed, OEmbedType: OEmbedRich,
				HTML: `<iframe width="560" height='315' src='https://player.example/e?a=1&amp;b=2'></iframe>`,
			},
			contains: []string{
				`src="https://player.example/e?a=1&amp;b=2"`,
				`width="560"`,
				`height="315"`,
			},
		},
		{
			name: "everything else discarded",
			embed: &NormalizedEmbed{
				Type: TypeOEmbed, OEmbedType: OEmbedVideo,
				HTML: `<script>alert(1)</script><iframe src="https://v.example/e" onload="steal()" sandbox="" style="display:none" allow="camera; microphone"></iframe>`,
			},
			contains:    []string{`src="https://v.example/e"`},
			notContains: []string{"<script", "onload", "steal", "style=", "camera", "sandbox"},
		},
		{
			name: "title escaped",
			embed: &NormalizedEmbed{
				Type: TypeOEmbed, OEmbedType: OEmbedVideo, Title: `"><script>x</script>`,
				HTML: `<iframe src="https://v.example/e"></iframe>`,
			},
			contains:    []string{`title="&#34;&gt;&lt;script&gt;x&lt;/script&gt;"`},
			notContains: []string{"<script"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, r.ShouldRender(tt.embed))
			out := r.Render(tt.embed)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, out, s)
			}
			assert.Equal(t, 1, strings.Count(out, "<iframe"))
		})
	}
}

func TestRenderer_IframeFallsBackToCard(t *testing.T) {
	r := NewRenderer()

	tests := []struct {
		name string
		html string
	}{
		{name: "no iframe", html: `<blockquote class="twitter-tweet"><p>hello</p></blockquote>`},
		{name: "javascript src", html: `<iframe src="javascript:alert(1)"></iframe>`},
		{name: "data src", html: `<iframe src="data:text/html;base64,PHNjcmlwdD4="></iframe>`},
		{name: "relative src", html: `<iframe src="/embed/1"></iframe>`},
		{name: "src only in data attribute", html: `<iframe data-src="https://v.example/e"></iframe>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withImage := &NormalizedEmbed{
				Type: TypeOEmbed, OEmbedType: OEmbedRich, HTML: tt.html,
				Title: "Post", ImageURL: "https://img.example/t.jpg", SourceURL: "https://social.example/p/1",
			}
			out := r.Render(withImage)
			assert.NotContains(t, out, "<iframe")
			assert.Contains(t, out, `href="https://social.example/p/1"`)
			assert.True(t, r.ShouldRender(withImage))

			withoutImage := *withImage
			withoutImage.ImageURL = ""
			assert.Empty(t, r.Render(&withoutImage))
			assert.False(t, r.ShouldRender(&withoutImage))
		})
	}
}

func TestRenderer_Card(t *testing.T) {
	r := NewRenderer()
	embed := &NormalizedEmbed{
		Type:         TypeLink,
		SourceURL:    "https://www.example.com/post",
		URL:          "https://example.com/canonical?a=1&b=2",
		Title:        `Tom & Jerry <live>`,
		Description:  `He said "hi" & left`,
		ProviderName: "Example",
		ImageURL:     "https://img.example/cover.jpg",
	}

	out := r.Render(embed)

	assert.Contains(t, out, `href="https://example.com/canonical?a=1&amp;b=2"`)
	assert.Contains(t, out, `src="https://img.example/cover.jpg"`)
	assert.Contains(t, out, `alt="Tom &amp; Jerry &lt;live&gt;"`)
	assert.Contains(t, out, `>Tom &amp; Jerry &lt;live&gt;<`)
	assert.Contains(t, out, `He said &#34;hi&#34; &amp; left`)
	assert.Contains(t, out, `>Example<`)
	assert.Contains(t, out, `rel="noopener noreferrer nofollow"`)
	assert.NotContains(t, out, "<live>")
}

func TestRenderer_CardRequiresImageAndLink(t *testing.T) {
	r := NewRenderer()

	tests := []struct {
		name  string
		embed *NormalizedEmbed
		want  bool
	}{
		{name: "nil", embed: nil, want: false},
		{name: "tombstone", embed: NewTombstone("https://example.com/"), want: false},
		{name: "no image", embed: &NormalizedEmbed{Type: TypeLink, SourceURL: "https://example.com/", Title: "T"}, want: false},
		{name: "no link", embed: &NormalizedEmbed{Type: TypeLink, ImageURL: "https://img.example/x.jpg"}, want: false},
		{name: "javascript link", embed: &NormalizedEmbed{Type: TypeLink, URL: "javascript:alert(1)", ImageURL: "https://img.example/x.jpg"}, want: false},
		{name: "data image", embed: &NormalizedEmbed{Type: TypeLink, SourceURL: "https://example.com/", ImageURL: "data:image/png;base64,AAAA"}, want: false},
		{name: "source url as link", embed: &NormalizedEmbed{Type: TypeLink, SourceURL: "https://example.com/", ImageURL: "https://img.example/x.jpg"}, want: true},
		{name: "oembed photo", embed: &NormalizedEmbed{Type: TypeOEmbed, OEmbedType: OEmbedPhoto, SourceURL: "https://flickr.com/p/1", ImageURL: "https://img.example/p.jpg"}, want: true},
		{name: "video without html or image", embed: &NormalizedEmbed{Type: TypeOEmbed, OEmbedType: OEmbedVideo, SourceURL: "https://v.example/"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.ShouldRender(tt.embed))
			out := r.Render(tt.embed)
			if tt.want {
				assert.NotEmpty(t, out)
			} else {
				assert.Empty(t, out)
			}
		})
	}
}

func TestRenderer_DescriptionTruncated(t *testing.T) {
	embed := &NormalizedEmbed{
		Type:        TypeLink,
		SourceURL:   "https://example.com/",
		ImageURL:    "https://img.example/x.jpg",
		Description: strings.Repeat("a", 250),
	}

	out := NewRenderer().Render(embed)
	assert.Contains(t, out, strings.Repeat("a", 200)+"...")
	assert.NotContains(t, out, strings.Repeat("a", 201))

	short := NewRenderer(WithDescriptionLimit(10)).Render(embed)
	assert.Contains(t, short, strings.Repeat("a", 10)+"...<")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{name: "short unchanged", input: "hello", max: 10, expected: "hello"},
		{name: "exact length unchanged", input: "hello", max: 5, expected: "hello"},
		{name: "cut with ellipsis", input: "hello world", max: 5, expected: "hello..."},
		{name: "trailing space trimmed", input: "hello world", max: 6, expected: "hello..."},
		{name: "emoji kept whole", input: "👍🏽👍🏽👍🏽", max: 2, expected: "👍🏽👍🏽..."},
		{name: "combining marks kept whole", input: "ééé", max: 1, expected: "é..."},
		{name: "zero max disables", input: "hello", max: 0, expected: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Truncate(tt.input, tt.max))
		})
	}
}
