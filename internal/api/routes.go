// Package api is the JSON sync API the desktop client polls for tracked
// email state.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins is used when config lists none.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080", "app://*"}

// Options configures the API router.
type Options struct {
	// Key is the static bearer token. Empty disables the check.
	Key            string
	AllowedOrigins []string
}

// SetupRoutes builds the API router. Paths are relative; the caller mounts
// it under /api.
func SetupRoutes(h *Handlers, opts Options) chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Use(requireKey(opts.Key))

	r.Route("/emails", func(r chi.Router) {
		r.Post("/", h.RegisterEmail)
		r.Get("/", h.ListEmails)
		r.Get("/{id}", h.GetEmail)
		r.Get("/{id}/opens", h.ListOpens)
		r.Get("/{id}/clicks", h.ListClicks)
	})

	return r
}
