package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	embedhandlers "VivalaTable/internal/api/handlers/embeds"
	"VivalaTable/internal/api/middleware"
	"VivalaTable/internal/api/routes"
	"VivalaTable/internal/core/embeds"
	"VivalaTable/internal/db"
)

func main() {
	cfg := embeds.ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid embed configuration:", err)
	}

	ctx := context.Background()

	// Cache backend (memory by default; postgres and redis need their URLs)
	backend, err := db.OpenBackend(ctx, cfg, db.Options{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
	})
	if err != nil {
		log.Fatal("Failed to open embed cache:", err)
	}
	defer backend.Close()

	log.Printf("Embed cache backend: %s", cfg.CacheBackend)

	if backend.Purger != nil && cfg.CleanupInterval > 0 {
		stopCleanup := embeds.StartCleanupJob(backend.Purger, cfg.CleanupInterval)
		defer stopCleanup()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := embeds.NewMetrics(registry)

	embedService := embeds.NewServiceFromConfig(cfg, backend.Cache, metrics)
	embedHandler := embedhandlers.NewHandler(embedService, embeds.NewRenderer())

	r := chi.NewRouter()

	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)

	// Rate limiting: 100 requests per minute per IP
	rateLimiter := middleware.NewRateLimiter(100, 1*time.Minute)
	defer rateLimiter.Stop()

	r.Group(func(r chi.Router) {
		r.Use(rateLimiter.Middleware)

		adminToken := os.Getenv("EMBED_ADMIN_TOKEN")
		if adminToken == "" {
			log.Println("EMBED_ADMIN_TOKEN not set; embed cache admin routes disabled")
		}
		routes.RegisterEmbedRoutes(r, embedHandler, adminToken)
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Warn("failed to write health response", "error", err)
		}
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		fmt.Printf("VivalaTable embed service starting on port %s\n", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed:", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
}
