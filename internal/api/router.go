package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/marcom/internal/catalog"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *catalog.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/components", func(r chi.Router) {
		r.Get("/", h.ListComponents)
		r.Post("/", h.Upload)
		r.Get("/{key}", h.GetComponent)
		r.Get("/{key}/tags", h.ComponentTags)
		r.Post("/{key}/link", h.LinkComponent)
	})

	r.Get("/properties/{field}", h.PropertyValues)

	r.Get("/tags", h.ListTags)
	r.Post("/tags", h.RegisterTag)

	r.Post("/ingest", h.Ingest)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
