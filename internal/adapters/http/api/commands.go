package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	service "github.com/okian/reciperage/internal/app"
	"github.com/okian/reciperage/internal/replication"
)

// CommandDependencies accepts player commands for the current match.
type CommandDependencies interface {
	Submit(ctx context.Context, env replication.Envelope) error
}

// CommandsHandler handles command requests from clients that do not hold a WebSocket.
type CommandsHandler struct {
	deps CommandDependencies
}

// NewCommandsHandler creates a new commands handler.
func NewCommandsHandler(deps CommandDependencies) *CommandsHandler {
	return &CommandsHandler{deps: deps}
}

// commandRequest mirrors the OpenAPI schema for POST /commands.
type commandRequest struct {
	ClientID string              `json:"client_id"`
	Team     string              `json:"team"`
	Command  replication.Command `json:"command"`
}

func (c commandRequest) validate() error {
	switch {
	case strings.TrimSpace(c.ClientID) == "":
		return errors.New("missing client_id")
	case strings.TrimSpace(c.Command.ID) == "":
		return errors.New("missing command.id")
	}
	return c.Command.Validate()
}

// HandlePostCommand handles POST /commands requests. Acks for accepted
// commands travel over the client's WebSocket, if any.
func (h *CommandsHandler) HandlePostCommand(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_command"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	err := h.deps.Submit(r.Context(), replication.Envelope{
		ClientID:   req.ClientID,
		Team:       req.Team,
		Command:    req.Command,
		ReceivedAt: time.Now(),
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
	case errors.Is(err, replication.ErrDuplicateCommand):
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
	case errors.Is(err, replication.ErrInboxFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", WrapKind(op, ErrBackpressure, err))
	case errors.Is(err, replication.ErrInvalidCommand), errors.Is(err, replication.ErrUnknownCommand):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case isConflict(err):
		writeError(w, http.StatusConflict, "conflict", WrapKind(op, ErrConflict, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}

// isConflict reports errors caused by the match lifecycle rather than the request.
func isConflict(err error) bool {
	return errors.Is(err, service.ErrNoMatch) ||
		errors.Is(err, service.ErrMatchInProgress) ||
		errors.Is(err, service.ErrNotStarted) ||
		errors.Is(err, replication.ErrMatchOver)
}
