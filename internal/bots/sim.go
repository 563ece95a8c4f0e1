package bots

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/okian/reciperage/internal/clock"
	"github.com/okian/reciperage/internal/domain/match"
	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/order"
	"github.com/okian/reciperage/internal/domain/recipe"
	"github.com/okian/reciperage/internal/replication"
	"github.com/okian/reciperage/pkg/logger"
)

// ErrNoResult is returned when a simulated match runs past its length without ending.
var ErrNoResult = errors.New("simulation ended without a result")

// SimOption configures a Simulation.
type SimOption func(*Simulation)

// WithBots sets how many bots play. They are spread over the level's teams.
func WithBots(n int) SimOption {
	return func(s *Simulation) {
		if n > 0 {
			s.bots = n
		}
	}
}

// WithStep sets the simulated time advanced per tick.
func WithStep(dt time.Duration) SimOption {
	return func(s *Simulation) {
		if dt > 0 {
			s.step = dt
		}
	}
}

// WithSeed seeds order spawning, player names and ingredient quality.
func WithSeed(seed int64) SimOption {
	return func(s *Simulation) { s.seed = seed }
}

// WithValidation selects how deliveries are checked.
func WithValidation(v order.Validation) SimOption {
	return func(s *Simulation) { s.validation = v }
}

// WithProgress registers fn, called after every tick with the simulated time played.
func WithProgress(fn func(played time.Duration)) SimOption {
	return func(s *Simulation) { s.progress = fn }
}

// WithSimLogger sets the logger.
func WithSimLogger(l logger.Logger) SimOption {
	return func(s *Simulation) {
		if l != nil {
			s.logger = l
		}
	}
}

// Simulation plays one match in process on a manual clock, as fast as the
// CPU allows.
type Simulation struct {
	catalog    *recipe.Catalog
	level      *recipe.Level
	bots       int
	step       time.Duration
	seed       int64
	validation order.Validation
	progress   func(time.Duration)
	logger     logger.Logger

	players []*Bot
}

// NewSimulation prepares a match on levelID.
func NewSimulation(catalog *recipe.Catalog, levelID string, opts ...SimOption) (*Simulation, error) {
	level, err := catalog.Level(levelID)
	if err != nil {
		return nil, err
	}
	s := &Simulation{
		catalog:    catalog,
		level:      level,
		bots:       len(level.Teams),
		step:       defaultStep,
		seed:       time.Now().UnixNano(),
		validation: order.Permissive,
		logger:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Level returns the simulated level.
func (s *Simulation) Level() *recipe.Level { return s.level }

// Bots returns the players of the last Run.
func (s *Simulation) Bots() []*Bot { return s.players }

// Run plays the match to game over and returns its result.
func (s *Simulation) Run(ctx context.Context) (model.MatchResult, error) {
	clk := clock.NewManual(time.Now().UTC())
	local := NewLocal(s.logger)

	var result *model.MatchResult
	srv := replication.NewServer(uuid.NewString(), s.level, s.catalog,
		replication.WithMatchOptions(match.WithOrderOptions(
			order.WithValidation(s.validation),
			order.WithRand(rand.New(rand.NewSource(s.seed))), //nolint:gosec // gameplay randomness
		)),
		replication.WithTransport(local),
		replication.WithClock(clk),
		replication.WithLogger(s.logger),
		replication.OnGameOver(func(_ context.Context, r model.MatchResult) { result = &r }),
	)
	local.Attach(srv)

	names := Names(s.bots, s.seed)
	s.players = make([]*Bot, 0, s.bots)
	conns := make([]*LocalConn, 0, s.bots)
	for i, name := range names {
		team := s.level.Teams[i%len(s.level.Teams)]
		conn := local.Connect(name, team)
		conns = append(conns, conn)
		s.players = append(s.players, New(name, team, s.catalog, conn,
			WithShare(i, s.bots),
			WithRand(rand.New(rand.NewSource(s.seed+int64(i)+1))), //nolint:gosec // gameplay randomness
			WithLogger(s.logger),
		))
	}

	if err := srv.Start(ctx); err != nil {
		return model.MatchResult{}, fmt.Errorf("start match: %w", err)
	}
	for _, c := range conns {
		if err := c.RequestSnapshot(); err != nil {
			return model.MatchResult{}, err
		}
	}

	// Orders are requested on this goroutine so a seed replays the same match.
	gen := order.NewGenerator(clk, s.level.MinOrderDelay, s.level.MaxOrderDelay,
		rand.New(rand.NewSource(s.seed+1_000)), srv.QueueSpawn) //nolint:gosec // gameplay randomness
	spawning := gen.Step(ctx, 0)

	s.logger.Info(ctx, "simulation started",
		logger.String("match_id", srv.ID()),
		logger.String("level", s.level.ID),
		logger.Int("bots", s.bots),
		logger.Duration("step", s.step))

	limit := s.level.Duration + 2*s.step
	var played time.Duration
	for !srv.Finished() {
		if err := ctx.Err(); err != nil {
			return model.MatchResult{}, err
		}
		if played > limit {
			return model.MatchResult{}, ErrNoResult
		}
		for _, b := range s.players {
			if err := b.Decide(ctx); err != nil {
				s.logger.Debug(ctx, "bot decision failed", logger.Error(err))
			}
		}
		srv.Step(ctx, s.step)
		clk.Advance(s.step)
		if spawning {
			spawning = gen.Step(ctx, s.step)
		}
		played += s.step
		if s.progress != nil {
			s.progress(played)
		}
	}

	if result == nil {
		return model.MatchResult{}, ErrNoResult
	}
	s.logger.Info(ctx, "simulation finished",
		logger.String("match_id", result.MatchID),
		logger.Int("delivered", result.Delivered),
		logger.Int("failed", result.Failed),
		logger.Int("expired", result.Expired))
	return *result, nil
}
