// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/connlens/connlens/internal/middleware"
)

// RouterConfig tunes the middleware chain.
type RouterConfig struct {
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	RateLimitDisabled  bool
}

// DefaultRouterConfig returns the defaults: no cross-origin access and
// 300 requests per minute per client IP.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RateLimitRequests: 300,
		RateLimitWindow:   time.Minute,
	}
}

// NewRouter assembles the HTTP routes.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.AccessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Tenant-ID", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// The WebSocket route skips the rate limiter: one upgrade holds the
	// connection for its lifetime.
	r.With(middleware.PrometheusMetrics).Get("/ws", h.WebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(rateLimit(cfg))

		r.Post("/connections", h.IngestConnections)
		r.Get("/connections", h.ListConnections)
		r.Delete("/connections/{id}", h.DeleteConnection)

		r.Post("/metrics", h.IngestMetrics)
		r.Get("/metrics", h.GetMetrics)

		r.Get("/statistics", h.GetStatistics)
		r.Get("/flows", h.GetFlows)
	})

	return r
}

func rateLimit(cfg RouterConfig) func(http.Handler) http.Handler {
	if cfg.RateLimitDisabled || cfg.RateLimitRequests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		cfg.RateLimitRequests,
		cfg.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	)
}
