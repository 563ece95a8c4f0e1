// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/reciperage/internal/adapters/persistence"
	repository "github.com/okian/reciperage/internal/adapters/repository"
	"github.com/okian/reciperage/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	MatchDependencies
	CommandDependencies
	LeaderboardDependencies
	RankDependencies
	ProgressionDependencies
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Server wires HTTP routes for the kitchen API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	matchHandler       *MatchHandler
	commandsHandler    *CommandsHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	progressionHandler *ProgressionHandler
	ws                 http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithWebSocket serves h on /ws.
func WithWebSocket(h http.Handler) Option {
	return func(s *Server) { s.ws = h }
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLeaderboardLimit int, opts ...Option) *Server {
	s := &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		matchHandler:       NewMatchHandler(deps),
		commandsHandler:    NewCommandsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLeaderboardLimit),
		rankHandler:        NewRankHandler(deps),
		progressionHandler: NewProgressionHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/match", MetricsMiddleware(s.matchHandler.HandleMatch, "match"))
	mux.HandleFunc("/results/", MetricsMiddleware(s.matchHandler.HandleGetResult, "results"))
	mux.HandleFunc("/commands", MetricsMiddleware(s.commandsHandler.HandlePostCommand, "commands"))
	mux.HandleFunc("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/rank/", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("/progression/", MetricsMiddleware(s.progressionHandler.HandleGetProgression, "progression"))
	if s.ws != nil {
		mux.Handle("/ws", s.ws)
	}
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// isNotFound translates upstream not-found errors to 404.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, persistence.ErrNotFound)
}
