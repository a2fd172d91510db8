package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured. metrics, when
// non-nil, is served at /metrics without auth.
func NewRouter(h *Handler, metrics http.Handler, extra ...func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(extra...)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Post("/devices", h.RegisterDevice)

			r.Route("/{kind}", func(r chi.Router) {
				r.Use(KindMiddleware)
				r.Get("/", h.List)
				r.Post("/", h.Upsert)
				r.Patch("/{id}", h.Patch)
				r.Delete("/{id}", h.Delete)
			})
		})
	})

	return r
}
