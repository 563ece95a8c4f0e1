package api

import (
	"context"
	"net/http"

	"github.com/okian/reciperage/internal/domain/model"
)

// ProgressionDependencies reads a player's long-lived record.
type ProgressionDependencies interface {
	Progression(ctx context.Context, playerID string) (model.Progression, error)
}

// ProgressionHandler handles progression requests.
type ProgressionHandler struct {
	deps ProgressionDependencies
}

// NewProgressionHandler creates a new progression handler.
func NewProgressionHandler(deps ProgressionDependencies) *ProgressionHandler {
	return &ProgressionHandler{deps: deps}
}

// HandleGetProgression handles GET /progression/{player_id} requests.
func (h *ProgressionHandler) HandleGetProgression(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_progression"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id, ok := pathParam(r.URL.Path, "/progression/")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	p, err := h.deps.Progression(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}
