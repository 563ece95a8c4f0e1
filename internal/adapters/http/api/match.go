package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/recipe"
	"github.com/okian/reciperage/internal/replication"
)

// MatchDependencies starts matches and reads their state.
type MatchDependencies interface {
	StartMatch(ctx context.Context, levelID string) (string, error)
	Snapshot(ctx context.Context) (replication.Snapshot, error)
	MatchResult(ctx context.Context, matchID string) (model.MatchResult, error)
}

// MatchHandler handles match requests.
type MatchHandler struct {
	deps MatchDependencies
}

// NewMatchHandler creates a new match handler.
func NewMatchHandler(deps MatchDependencies) *MatchHandler {
	return &MatchHandler{deps: deps}
}

type startMatchRequest struct {
	Level string `json:"level"`
}

type startMatchResponse struct {
	MatchID string `json:"match_id"`
}

type stationResponse struct {
	ID       string                `json:"id"`
	Kind     string                `json:"kind"`
	State    string                `json:"state"`
	Item     *model.InventoryItem  `json:"item,omitempty"`
	Tray     []model.InventoryItem `json:"tray,omitempty"`
	RecipeID string                `json:"recipe_id,omitempty"`
	Progress float64               `json:"progress"`
	Quality  float64               `json:"quality"`
}

type orderResponse struct {
	ID            string `json:"id"`
	RecipeID      string `json:"recipe_id"`
	TimeRemaining int64  `json:"time_remaining_ms"`
	TimeLimit     int64  `json:"time_limit_ms"`
}

type matchResponse struct {
	MatchID     string            `json:"match_id"`
	LevelID     string            `json:"level_id"`
	Seq         uint64            `json:"seq"`
	Phase       string            `json:"phase"`
	RemainingMS int64             `json:"remaining_ms"`
	Scores      []model.TeamScore `json:"scores"`
	Stations    []stationResponse `json:"stations"`
	Orders      []orderResponse   `json:"orders"`
}

func newMatchResponse(s replication.Snapshot) matchResponse {
	st := s.State
	out := matchResponse{
		MatchID:     st.MatchID,
		LevelID:     st.LevelID,
		Seq:         s.Seq,
		Phase:       st.View.Phase.String(),
		RemainingMS: st.View.Remaining.Milliseconds(),
		Scores:      append([]model.TeamScore{}, st.View.Scores...),
		Stations:    make([]stationResponse, 0, len(st.Stations)),
		Orders:      make([]orderResponse, 0, len(st.Orders)),
	}
	for _, ss := range st.Stations {
		sr := stationResponse{
			ID: ss.ID, Kind: string(ss.Kind), State: ss.State.String(),
			Tray: ss.Tray, RecipeID: ss.RecipeID,
			Progress: ss.Progress, Quality: ss.Quality,
		}
		if ss.HasItem {
			item := ss.Item
			sr.Item = &item
		}
		out.Stations = append(out.Stations, sr)
	}
	for _, o := range st.Orders {
		out.Orders = append(out.Orders, orderResponse{
			ID:            o.ID,
			RecipeID:      o.RecipeID,
			TimeRemaining: o.TimeRemaining.Milliseconds(),
			TimeLimit:     o.TimeLimit.Milliseconds(),
		})
	}
	return out
}

// HandleMatch handles GET /match (current state) and POST /match (start a match).
func (h *MatchHandler) HandleMatch(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodPost:
		h.handleStart(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *MatchHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_match"
	snap, err := h.deps.Snapshot(r.Context())
	if err != nil {
		writeMatchError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newMatchResponse(snap))
}

func (h *MatchHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	const op = "api.start_match"
	var req startMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	id, err := h.deps.StartMatch(r.Context(), req.Level)
	if err != nil {
		writeMatchError(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, startMatchResponse{MatchID: id})
}

// HandleGetResult handles GET /results/{match_id} requests.
func (h *MatchHandler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_result"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id, ok := pathParam(r.URL.Path, "/results/")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	res, err := h.deps.MatchResult(r.Context(), id)
	if err != nil {
		writeMatchError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeMatchError(w http.ResponseWriter, op string, err error) {
	switch {
	case isNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case errors.Is(err, recipe.ErrUnknownLevel):
		writeError(w, http.StatusBadRequest, "unknown_level", WrapKind(op, ErrBadRequest, err))
	case isConflict(err):
		writeError(w, http.StatusConflict, "conflict", WrapKind(op, ErrConflict, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}
