package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/starford/leetlab/internal/apperr"
	"github.com/starford/leetlab/internal/demoservice"
)

// AssetHandler serves files from a demo's assets folder.
type AssetHandler struct {
	svc *demoservice.Service
}

// NewAssetHandler creates an AssetHandler.
func NewAssetHandler(svc *demoservice.Service) *AssetHandler {
	return &AssetHandler{svc: svc}
}

// ServeFile handles GET /demos/{id}/assets/*.
func (h *AssetHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	abs, err := h.svc.AssetPath(chi.URLParam(r, "id"), chi.URLParam(r, "*"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	info, statErr := os.Stat(abs)
	if statErr != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}
