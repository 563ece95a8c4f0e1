// Package service runs kitchen matches and keeps what outlives them:
// results, player progression and the leaderboard. It implements the
// dependencies required by the HTTP API and the WebSocket hub.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/reciperage/internal/adapters/mq/queue"
	workerpool "github.com/okian/reciperage/internal/adapters/mq/worker"
	"github.com/okian/reciperage/internal/adapters/persistence"
	repository "github.com/okian/reciperage/internal/adapters/repository"
	"github.com/okian/reciperage/internal/clock"
	"github.com/okian/reciperage/internal/domain/dedupe"
	"github.com/okian/reciperage/internal/domain/match"
	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/order"
	"github.com/okian/reciperage/internal/domain/recipe"
	"github.com/okian/reciperage/internal/domain/scoring"
	"github.com/okian/reciperage/internal/domain/types"
	"github.com/okian/reciperage/internal/replication"
	"github.com/okian/reciperage/pkg/logger"
	"github.com/okian/reciperage/pkg/metrics"
)

// gameOverTimeout bounds persisting a finished match.
const gameOverTimeout = 10 * time.Second

// Service owns at most one running match at a time.
type Service struct {
	mu sync.RWMutex

	catalog     *recipe.Catalog
	store       persistence.Store
	leaderboard repository.Store
	pool        *workerpool.Pool
	transport   replication.Transport
	sinks       []model.Sink
	clock       clock.Clock

	// Configuration
	level            string
	tickInterval     time.Duration
	maxTickStep      time.Duration
	queueSize        int
	dedupeSize       int
	stationWorkers   int
	validation       order.Validation
	timeBonus        int
	comboBonus       int
	comboWindow      time.Duration
	snapshotInterval time.Duration

	// State
	started    bool
	baseCtx    context.Context
	current    *replication.Server
	cancelRun  context.CancelFunc
	matches    int
	lastResult *model.MatchResult
	wg         sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service over catalog with default configuration.
func New(catalog *recipe.Catalog, opts ...Option) *Service {
	s := &Service{
		catalog:          catalog,
		clock:            clock.RealClock{},
		level:            "diner",
		tickInterval:     50 * time.Millisecond,
		maxTickStep:      250 * time.Millisecond,
		queueSize:        4096,
		dedupeSize:       65_536,
		validation:       order.Permissive,
		snapshotInterval: time.Second,
		logger:           nil, // replaced when the service starts
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start prepares the long-lived components. It does not start a match.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.catalog == nil {
		s.catalog = recipe.Default()
	}
	if _, err := s.catalog.Level(s.level); err != nil {
		return fmt.Errorf("default level: %w", err)
	}
	if s.store == nil {
		s.store = persistence.Instrument("memory", persistence.NewMemory())
	}
	if s.leaderboard == nil {
		s.leaderboard = repository.NewTreapStore(ctx, repository.WithSnapshotInterval(s.snapshotInterval))
	}
	if s.stationWorkers > 0 {
		s.pool = workerpool.NewPool(s.stationWorkers, workerpool.WithLogger(s.logger))
		s.pool.Start(ctx)
	}

	s.baseCtx = context.WithoutCancel(ctx)
	s.started = true
	s.logger.Info(ctx, "kitchen service started",
		logger.String("level", s.level),
		logger.Duration("tick_interval", s.tickInterval),
		logger.Int("station_workers", s.stationWorkers),
		logger.Int("queue_size", s.queueSize),
	)
	return nil
}

// Stop cancels the running match and releases the service's components.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping kitchen service...")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for match: %w", ctx.Err()))
	}

	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if closer, ok := s.leaderboard.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	s.logger.Info(ctx, "kitchen service stopped")
	return errors.Join(errs...)
}

// SetTransport sets where frames of matches started afterwards go. The hub
// needs the service as its command sink, so it is attached after New.
func (s *Service) SetTransport(t replication.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = t
}

// StartMatch begins a match on levelID, or on the default level if empty,
// and runs it in the background. Only one match runs at a time.
func (s *Service) StartMatch(ctx context.Context, levelID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return "", ErrNotStarted
	}
	if s.current != nil && !s.current.Finished() {
		select {
		case <-s.current.Done():
		default:
			return "", fmt.Errorf("%w: %s", ErrMatchInProgress, s.current.ID())
		}
	}
	if levelID == "" {
		levelID = s.level
	}
	level, err := s.catalog.Level(levelID)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	srv := replication.NewServer(id, level, s.catalog, s.serverOptions()...)
	if err := srv.Start(ctx); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	s.current, s.cancelRun = srv, cancel
	s.matches++
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := srv.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error(runCtx, "match loop failed", logger.String("match_id", id), logger.Error(err))
		}
	}()

	s.logger.Info(ctx, "match started", logger.String("match_id", id), logger.String("level", levelID))
	return id, nil
}

func (s *Service) serverOptions() []replication.Option {
	mopts := []match.Option{
		match.WithOrderOptions(order.WithValidation(s.validation)),
		match.WithLogger(s.logger),
	}
	var bonus []scoring.Option
	if s.timeBonus > 0 {
		bonus = append(bonus, scoring.WithTimeBonus(s.timeBonus))
	}
	if s.comboBonus > 0 {
		bonus = append(bonus, scoring.WithComboBonus(s.comboBonus, s.comboWindow))
	}
	if len(bonus) > 0 {
		mopts = append(mopts, match.WithBonus(scoring.NewBonus(bonus...)))
	}
	if s.pool != nil {
		mopts = append(mopts, match.WithTicker(s.pool))
	}

	return []replication.Option{
		replication.WithMatchOptions(mopts...),
		replication.WithSinks(s.sinks...),
		replication.WithInbox(queue.NewInMemoryQueue[replication.Envelope](queue.WithCapacity(s.queueSize))),
		replication.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))),
		replication.WithTransport(s.transport),
		replication.WithClock(s.clock),
		replication.WithTickInterval(s.tickInterval),
		replication.WithMaxTickStep(s.maxTickStep),
		replication.WithLogger(s.logger),
		replication.OnGameOver(s.recordResult),
	}
}

func (s *Service) currentMatch() (*replication.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	if s.current == nil {
		return nil, ErrNoMatch
	}
	return s.current, nil
}

// Submit routes a client command to the current match.
func (s *Service) Submit(ctx context.Context, env replication.Envelope) error {
	srv, err := s.currentMatch()
	if err != nil {
		return err
	}
	return srv.Submit(ctx, env)
}

// Snapshot returns the latest published state of the current match.
func (s *Service) Snapshot(_ context.Context) (replication.Snapshot, error) {
	srv, err := s.currentMatch()
	if err != nil {
		return replication.Snapshot{}, err
	}
	return srv.Latest(), nil
}

// Wait blocks until the current match loop has returned.
func (s *Service) Wait(ctx context.Context) error {
	srv, err := s.currentMatch()
	if err != nil {
		return err
	}
	select {
	case <-srv.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recordResult runs on the match goroutine once the match is over.
func (s *Service) recordResult(ctx context.Context, result model.MatchResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gameOverTimeout)
	defer cancel()

	log := s.logger.With(logger.String("match_id", result.MatchID))
	if err := persistence.Save(ctx, s.store, persistence.MatchKey(result.MatchID), result); err != nil {
		log.Error(ctx, "persist match result", logger.Error(err))
		metrics.RecordErrorByComponent("service", "persist_result")
	}

	now := s.clock.Now()
	for player, team := range result.Players {
		if err := s.updateProgression(ctx, result, player, team, now); err != nil {
			log.Error(ctx, "update progression", logger.String("player_id", player), logger.Error(err))
			metrics.RecordErrorByComponent("service", "progression")
		}
		if _, err := s.leaderboard.UpdateBest(ctx, player, result.TeamScoreOf(team), result.MatchID, team); err != nil {
			log.Error(ctx, "update leaderboard", logger.String("player_id", player), logger.Error(err))
		}
	}

	s.mu.Lock()
	s.lastResult = &result
	s.mu.Unlock()
	log.Info(ctx, "match result recorded", logger.Int("players", len(result.Players)))
}

func (s *Service) updateProgression(ctx context.Context, result model.MatchResult, player, team string, now time.Time) error {
	key := persistence.ProgressionKey(player)
	p, err := persistence.Load[model.Progression](ctx, s.store, key)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		p = model.Progression{PlayerID: player}
	case err != nil:
		return err
	}
	return persistence.Save(ctx, s.store, key, p.Apply(result, team, now))
}

// Progression returns a player's record across matches.
func (s *Service) Progression(ctx context.Context, playerID string) (model.Progression, error) {
	if _, err := s.ready(); err != nil {
		return model.Progression{}, err
	}
	return persistence.Load[model.Progression](ctx, s.store, persistence.ProgressionKey(playerID))
}

// MatchResult returns the persisted result of a finished match.
func (s *Service) MatchResult(ctx context.Context, matchID string) (model.MatchResult, error) {
	if _, err := s.ready(); err != nil {
		return model.MatchResult{}, err
	}
	return persistence.Load[model.MatchResult](ctx, s.store, persistence.MatchKey(matchID))
}

// LastResult returns the result of the most recently finished match, if any.
func (s *Service) LastResult() (model.MatchResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastResult == nil {
		return model.MatchResult{}, false
	}
	return *s.lastResult, true
}

// TopN returns the top N leaderboard entries.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	lb, err := s.ready()
	if err != nil {
		return nil, err
	}
	return lb.TopN(ctx, n)
}

// Rank returns the rank and best score for a player.
func (s *Service) Rank(ctx context.Context, playerID string) (types.Entry, error) {
	lb, err := s.ready()
	if err != nil {
		return types.Entry{}, err
	}
	return lb.Rank(ctx, playerID)
}

func (s *Service) ready() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.leaderboard, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":        s.started,
		"level":          s.level,
		"tickIntervalMs": s.tickInterval.Milliseconds(),
		"stationWorkers": s.stationWorkers,
		"queueSize":      s.queueSize,
		"matchesStarted": s.matches,
	}
	if !s.started {
		return stats
	}

	if s.current != nil {
		latest := s.current.Latest()
		stats["matchId"] = latest.State.MatchID
		stats["phase"] = latest.State.View.Phase.String()
		stats["seq"] = latest.Seq
		stats["remainingMs"] = latest.State.View.Remaining.Milliseconds()
		stats["activeOrders"] = len(latest.State.Orders)
	}
	if snap := s.leaderboard.Snapshot(); snap != nil {
		stats["rankedPlayers"] = snap.Players
		stats["leaderboardBuiltAt"] = snap.BuiltAt
	}
	if s.pool != nil {
		metrics.UpdateWorkerCount(s.pool.Size())
	}
	return stats
}
