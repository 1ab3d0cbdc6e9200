// Package api exposes the scraping service over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterConfig struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:*", "https://localhost:*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	r.Get("/stores", h.ListStores)

	r.Post("/keyword", h.SubmitKeyword)
	r.Group(func(r chi.Router) {
		r.Use(h.RateLimitByClient)
		r.Get("/status", h.GetStatus)
		r.Get("/results", h.GetResults)
	})

	return r
}
