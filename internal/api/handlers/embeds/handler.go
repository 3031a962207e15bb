// Package embeds provides HTTP handlers for resolving and previewing link embeds.
package embeds

import (
	"VivalaTable/internal/api/handlers"
	"VivalaTable/internal/core/embeds"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

const (
	maxPreviewTextBytes = 64 << 10
	maxPreviewEmbeds    = 5
)

// Handler serves the embed resolve/preview endpoints and the cache admin endpoints
type Handler struct {
	service  embeds.Service
	renderer *embeds.Renderer
}

// NewHandler creates a new embed handler
func NewHandler(service embeds.Service, renderer *embeds.Renderer) *Handler {
	if renderer == nil {
		renderer = embeds.NewRenderer()
	}
	return &Handler{service: service, renderer: renderer}
}

// EmbedView pairs a resolved embed with its rendered HTML fragment
type EmbedView struct {
	Embed *embeds.NormalizedEmbed `json:"embed"`
	HTML  string                  `json:"html"`
}

// PreviewRequest is the body of POST /api/embeds/preview
type PreviewRequest struct {
	Text      string `json:"text"`
	MaxEmbeds int    `json:"maxEmbeds"`
}

// PreviewResponse is the body returned by POST /api/embeds/preview
type PreviewResponse struct {
	Embeds []EmbedView `json:"embeds"`
}

func (h *Handler) view(embed *embeds.NormalizedEmbed) EmbedView {
	return EmbedView{Embed: embed, HTML: h.renderer.Render(embed)}
}

// HandleResolve handles GET /api/embeds/resolve?url=
// A URL that yields nothing is still a 200 with a null embed.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "url parameter is required")
		return
	}

	embed := h.service.Resolve(r.Context(), rawURL)
	handlers.WriteJSON(w, http.StatusOK, h.view(embed))
}

// HandlePreview handles POST /api/embeds/preview
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPreviewTextBytes)

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			handlers.WriteError(w, http.StatusRequestEntityTooLarge, "InvalidRequest", "request body too large")
			return
		}
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "invalid JSON body")
		return
	}

	maxEmbeds := req.MaxEmbeds
	if maxEmbeds > maxPreviewEmbeds {
		maxEmbeds = maxPreviewEmbeds
	}

	resolved := h.service.ProcessTextEmbeds(r.Context(), req.Text, maxEmbeds)
	resp := PreviewResponse{Embeds: make([]EmbedView, 0, len(resolved))}
	for _, embed := range resolved {
		resp.Embeds = append(resp.Embeds, h.view(embed))
	}

	handlers.WriteJSON(w, http.StatusOK, resp)
}

// HandleCacheStats handles GET /api/embeds/cache/stats
func (h *Handler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		slog.Error("[EMBED] failed to read cache stats", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "failed to read cache stats")
		return
	}

	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"cache":    stats,
		"circuits": h.service.CircuitStats(),
	})
}

// HandleClearCache handles DELETE /api/embeds/cache?url=
func (h *Handler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if err := h.service.ClearCache(r.Context(), rawURL); err != nil {
		if errors.Is(err, embeds.ErrInvalidURL) {
			handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "url parameter is required")
			return
		}
		slog.Error("[EMBED] failed to clear cache entry", "url", rawURL, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "failed to clear cache entry")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleClearAllCaches handles DELETE /api/embeds/cache/all
func (h *Handler) HandleClearAllCaches(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearAllCaches(r.Context()); err != nil {
		slog.Error("[EMBED] failed to clear cache", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "failed to clear cache")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
