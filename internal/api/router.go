package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/leetlab/internal/demoservice"
	"github.com/starford/leetlab/internal/session"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *demoservice.Service, sessions *session.Manager, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, sessions)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Catalog.
	r.Get("/demos", h.ListDemos)
	r.Get("/demos/{id}", h.GetDemo)
	r.Get("/demos/{id}/view", h.GetView)
	r.Post("/demos/{id}/invoke", h.Invoke)
	r.Get("/tags", h.ListTags)

	// Sessions.
	r.Post("/sessions", h.CreateSession)
	r.Route("/sessions/{sid}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Delete("/", h.DeleteSession)
		r.Put("/query", h.SetQuery)
		r.Put("/tag", h.SetTag)
		r.Put("/active", h.SetActive)
		r.Post("/reload", h.Reload)
	})

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
