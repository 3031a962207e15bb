package routes

import (
	"github.com/go-chi/chi/v5"

	embedhandlers "VivalaTable/internal/api/handlers/embeds"
	"VivalaTable/internal/api/middleware"
)

// RegisterEmbedRoutes registers the embed endpoints on the router.
//
// Public routes:
//   - GET  /api/embeds/resolve?url=
//   - POST /api/embeds/preview
//
// Admin routes are mounted only when adminToken is non-empty and require
// "Authorization: Bearer <adminToken>":
//   - GET    /api/embeds/cache/stats
//   - DELETE /api/embeds/cache?url=
//   - DELETE /api/embeds/cache/all
func RegisterEmbedRoutes(r chi.Router, handler *embedhandlers.Handler, adminToken string) {
	r.Route("/api/embeds", func(r chi.Router) {
		r.Get("/resolve", handler.HandleResolve)
		r.Post("/preview", handler.HandlePreview)

		if adminToken == "" {
			return
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdminToken(adminToken))
			r.Get("/cache/stats", handler.HandleCacheStats)
			r.Delete("/cache", handler.HandleClearCache)
			r.Delete("/cache/all", handler.HandleClearAllCaches)
		})
	})
}
