package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/leetlab/internal/apperr"
	"github.com/starford/leetlab/internal/demoservice"
	"github.com/starford/leetlab/internal/sandbox"
	"github.com/starford/leetlab/internal/session"
)

// Handler holds API route handlers.
type Handler struct {
	svc      *demoservice.Service
	sessions *session.Manager
}

// NewHandler creates a new Handler.
func NewHandler(svc *demoservice.Service, sessions *session.Manager) *Handler {
	return &Handler{svc: svc, sessions: sessions}
}

// ListDemos handles GET /api/demos.
//
//	@Summary		List demos filtered by query and tag
//	@Tags			demos
//	@Produce		json
//	@Param			q	query		string	false	"Search text"
//	@Param			tag	query		string	false	"Tag filter"	default(all)
//	@Success		200	{object}	DemoListResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/demos [get]
func (h *Handler) ListDemos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.svc.ListDemos(r.Context(), q.Get("q"), q.Get("tag"))
	if err != nil {
		writeError(w, "list demos", err)
		return
	}
	writeJSON(w, http.StatusOK, DemoListResponse{Demos: items, Total: len(items)})
}

// GetDemo handles GET /api/demos/{id}.
//
//	@Summary		Get a demo's catalog entry
//	@Tags			demos
//	@Produce		json
//	@Param			id	path		string	true	"Demo id"
//	@Success		200	{object}	DemoDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/demos/{id} [get]
func (h *Handler) GetDemo(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetDemo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get demo", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GetView handles GET /api/demos/{id}/view.
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := h.svc.LoadView(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		slog.Error("load view failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Invoke handles POST /api/demos/{id}/invoke.
//
//	@Summary		Run a demo's closure factory
//	@Tags			demos
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Demo id"
//	@Param			body	body		InvokeRequest	true	"Factory, arguments and calls"
//	@Success		200		{object}	InvokeResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/demos/{id}/invoke [post]
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	res, err := h.svc.Invoke(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrNoScript):
			writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
		case errors.Is(err, sandbox.ErrTimeout):
			writeJSON(w, http.StatusBadRequest, errorBody("script timed out"))
		default:
			// unknown function or a script error
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListTags handles GET /api/tags.
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TagsResponse{Tags: h.svc.Tags(r.Context())})
}

// CreateSession handles POST /api/sessions.
//
//	@Summary		Start a browsing session
//	@Tags			sessions
//	@Produce		json
//	@Success		201	{object}	SessionSnapshot
//	@Security		BearerAuth
//	@Router			/sessions [post]
func (h *Handler) CreateSession(w http.ResponseWriter, _ *http.Request) {
	s := h.sessions.Create()
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

// GetSession handles GET /api/sessions/{sid}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// DeleteSession handles DELETE /api/sessions/{sid}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(chi.URLParam(r, "sid")); err != nil {
		writeError(w, "delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetQuery handles PUT /api/sessions/{sid}/query.
func (h *Handler) SetQuery(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req QueryRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	writeJSON(w, http.StatusOK, s.SetQuery(req.Query))
}

// SetTag handles PUT /api/sessions/{sid}/tag.
//
//	@Summary		Change a session's tag filter
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			sid		path		string		true	"Session id"
//	@Param			body	body		TagRequest	true	"Tag"
//	@Success		200		{object}	SessionSnapshot
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/tag [put]
func (h *Handler) SetTag(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req TagRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	snap, err := s.SetTag(req.Tag)
	if err != nil {
		writeError(w, "set tag", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SetActive handles PUT /api/sessions/{sid}/active.
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ActiveRequest
	if err := readJSON(w, r, &req); err != nil || req.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	snap, err := s.Select(req.ID)
	if err != nil {
		writeError(w, "select demo", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Reload handles POST /api/sessions/{sid}/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Reload())
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, "get session", err)
		return nil, false
	}
	return s, true
}

// writeError maps sentinel errors to status codes and logs the rest.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrInvalidTag):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
