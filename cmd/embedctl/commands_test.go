package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = `<html><head>
<meta property="og:title" content="Taco Tuesday">
<meta property="og:image" content="https://img.example/tacos.jpg">
</head></html>`

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(context.Background(), append([]string{"embedctl"}, args...))
	return out.String(), err
}

func newPageServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(testPage))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestResolveCommand(t *testing.T) {
	t.Setenv("EMBED_ALLOW_PRIVATE_NETWORKS", "true")
	t.Setenv("EMBED_CACHE_BACKEND", "memory")
	server := newPageServer(t)

	out, err := runApp(t, "resolve", server.URL+"/event")
	require.NoError(t, err)
	assert.Contains(t, out, `"title": "Taco Tuesday"`)
	assert.Contains(t, out, `"type": "link"`)
}

func TestRenderCommand(t *testing.T) {
	t.Setenv("EMBED_ALLOW_PRIVATE_NETWORKS", "true")
	t.Setenv("EMBED_CACHE_BACKEND", "memory")
	server := newPageServer(t)

	out, err := runApp(t, "render", server.URL+"/event")
	require.NoError(t, err)
	assert.Contains(t, out, `class="embed embed-card"`)
	assert.Contains(t, out, "Taco Tuesday")
}

func TestPreviewCommand(t *testing.T) {
	t.Setenv("EMBED_ALLOW_PRIVATE_NETWORKS", "true")
	t.Setenv("EMBED_CACHE_BACKEND", "memory")
	server := newPageServer(t)

	out, err := runApp(t, "preview", "dinner at", server.URL+"/event", "tonight")
	require.NoError(t, err)
	assert.Contains(t, out, server.URL+"/event")
	assert.Contains(t, out, "embed-card")
}

func TestResolveCommand_BlockedURLPrintsNull(t *testing.T) {
	t.Setenv("EMBED_ALLOW_PRIVATE_NETWORKS", "false")
	t.Setenv("EMBED_CACHE_BACKEND", "memory")

	out, err := runApp(t, "resolve", "http://127.0.0.1/admin")
	require.NoError(t, err)
	assert.Equal(t, "null\n", out)
}

func TestCommands_MissingArguments(t *testing.T) {
	t.Setenv("EMBED_CACHE_BACKEND", "memory")

	for _, name := range []string{"resolve", "render", "preview"} {
		_, err := runApp(t, name)
		assert.ErrorIs(t, err, errMissingArgument, name)
	}
}

func TestStatsAndClearCommands(t *testing.T) {
	t.Setenv("EMBED_CACHE_BACKEND", "memory")

	out, err := runApp(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Total cached: 0")

	out, err = runApp(t, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared all cached embeds")

	out, err = runApp(t, "clear", "--url", "https://example.com/a")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared https://example.com/a")
}

func TestBackendFlagRejectsUnknown(t *testing.T) {
	t.Setenv("EMBED_CACHE_BACKEND", "memory")

	_, err := runApp(t, "--backend", "memcached", "stats")
	assert.Error(t, err)
}
