// Package http assembles the route tree and the shared middleware chain.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kwscope/internal/keywords/handler"
	"kwscope/internal/platform/config"
	"kwscope/internal/platform/middleware/metadata"
	"kwscope/internal/platform/middleware/request"
	ratelimitmw "kwscope/internal/ratelimit/middleware"
)

// NewRouter wires the middleware chain and routes. Ordering matters: the
// global throttle sits first so an overloaded instance sheds load before
// doing any per-request work, then request identity and client metadata,
// then the per-IP burst guard in front of the research endpoint.
func NewRouter(cfg config.Config, h *handler.Handler, limits *ratelimitmw.Middleware) http.Handler {
	r := chi.NewRouter()

	r.Use(ratelimitmw.GlobalThrottle(cfg.Limits.GlobalRPS, cfg.Limits.GlobalBurst))
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(chimiddleware.Recoverer)

	r.Route("/v1/keywords", func(r chi.Router) {
		r.Use(limits.Limit(cfg.Limits.Burst))
		r.Get("/research", h.Research)
	})

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
