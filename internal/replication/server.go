package replication

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/reciperage/internal/adapters/mq/queue"
	"github.com/okian/reciperage/internal/clock"
	"github.com/okian/reciperage/internal/domain/dedupe"
	"github.com/okian/reciperage/internal/domain/match"
	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/order"
	"github.com/okian/reciperage/internal/domain/recipe"
	"github.com/okian/reciperage/pkg/logger"
	"github.com/okian/reciperage/pkg/metrics"
)

// ErrDuplicateCommand is returned by Submit for a command id that was already accepted.
var ErrDuplicateCommand = errors.New("duplicate command")

// Transport delivers frames to clients. Broadcast is fire-and-forget.
type Transport interface {
	Broadcast(ctx context.Context, frame []byte)
	Send(ctx context.Context, clientID string, frame []byte) error
}

type discardTransport struct{}

func (discardTransport) Broadcast(context.Context, []byte)          {}
func (discardTransport) Send(context.Context, string, []byte) error { return nil }

type handler func(ctx context.Context, env Envelope) (Ack, error)

// Server runs one match authoritatively. Every method except Submit,
// QueueSpawn, Latest and Done must be called from a single goroutine;
// Run does that itself.
type Server struct {
	match     *match.Match
	state     *State
	inbox     *queue.InMemoryQueue[Envelope]
	dedupe    dedupe.Deduper
	transport Transport
	clock     clock.Clock
	logger    logger.Logger
	rng       *rand.Rand

	tickInterval time.Duration
	maxStep      time.Duration

	matchOpts  []match.Option
	sinks      []model.Sink
	onGameOver []func(ctx context.Context, result model.MatchResult)
	handlers   map[CommandKind]handler
	kinds      map[string]recipe.StationKind

	seq       uint64
	events    []model.Event
	players   map[string]string
	startedAt time.Time

	spawns   atomic.Int64
	finished atomic.Bool
	latest   atomic.Pointer[Snapshot]
	done     chan struct{}
	doneOnce sync.Once
}

// NewServer builds a match for level and wraps it for replication.
func NewServer(id string, level *recipe.Level, catalog *recipe.Catalog, opts ...Option) *Server {
	s := &Server{
		transport:    discardTransport{},
		clock:        clock.RealClock{},
		logger:       logger.NewNop(),
		tickInterval: defaultTickInterval,
		maxStep:      defaultMaxTickStep,
		players:      make(map[string]string),
		kinds:        make(map[string]recipe.StationKind, len(level.Stations)),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.inbox == nil {
		s.inbox = queue.NewInMemoryQueue[Envelope]()
	}
	if s.dedupe == nil {
		s.dedupe = dedupe.NewInMemoryDeduper()
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // gameplay randomness
	}
	s.logger = s.logger.With(logger.String("match_id", id))

	for _, spec := range level.Stations {
		s.kinds[spec.ID] = spec.Kind
	}

	sinks := append(model.Sinks{model.SinkFunc(s.collect)}, s.sinks...)
	mopts := append([]match.Option{match.WithLogger(s.logger)}, s.matchOpts...)
	mopts = append(mopts, match.WithSink(sinks))
	s.match = match.New(id, level, catalog, mopts...)
	s.state = NewState(s.match.Snapshot())
	s.latest.Store(&Snapshot{State: s.state.Snapshot()})

	s.handlers = map[CommandKind]handler{
		CmdStartCooking:    s.handleStartCooking,
		CmdAttend:          s.handleAttend,
		CmdCollect:         s.handleCollect,
		CmdResetStation:    s.handleResetStation,
		CmdDeliverOrder:    s.handleDeliverOrder,
		CmdEndGame:         s.handleEndGame,
		CmdRequestSnapshot: s.handleRequestSnapshot,
		CmdAddIngredient:   s.handleAddIngredient,
		CmdStartPlating:    s.handleStartPlating,
		CmdStartMixing:     s.handleStartMixing,
	}
	return s
}

// ID returns the match id.
func (s *Server) ID() string { return s.match.ID() }

// Phase returns the phase as of the last step. Only the tick goroutine may call it.
func (s *Server) Phase() match.Phase { return s.match.Phase() }

// Latest returns the snapshot published by the most recent step. Safe from any goroutine.
func (s *Server) Latest() Snapshot { return *s.latest.Load() }

// Done is closed when Run returns.
func (s *Server) Done() <-chan struct{} { return s.done }

// Finished reports whether the match reached GameOver.
func (s *Server) Finished() bool { return s.finished.Load() }

// Submit validates and queues a command for the next step. Safe from any goroutine.
func (s *Server) Submit(ctx context.Context, env Envelope) error {
	if err := env.Command.Validate(); err != nil {
		metrics.RecordCommand(string(env.Command.Kind), "invalid")
		return err
	}
	if s.finished.Load() {
		return ErrMatchOver
	}
	id := env.Command.ID
	if s.dedupe.SeenAndRecord(ctx, id) {
		metrics.RecordCommand(string(env.Command.Kind), "duplicate")
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, id)
	}
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = s.clock.Now()
	}
	if !s.inbox.Enqueue(ctx, env) {
		// let the client retry under the same id
		s.dedupe.Unrecord(ctx, id)
		metrics.RecordCommand(string(env.Command.Kind), "dropped")
		return ErrInboxFull
	}
	return nil
}

// QueueSpawn asks for one order to be spawned on the next step. Safe from any
// goroutine; it reports false once the match is over.
func (s *Server) QueueSpawn(_ context.Context) bool {
	if s.finished.Load() {
		return false
	}
	s.spawns.Add(1)
	return true
}

// Start begins the match and publishes the first frame.
func (s *Server) Start(ctx context.Context) error {
	if err := s.match.Begin(ctx); err != nil {
		return err
	}
	s.startedAt = s.clock.Now()
	metrics.RecordMatchStarted()
	s.flush(ctx)
	return nil
}

// Step applies queued commands, then queued spawns, advances the match by dt
// and broadcasts what changed.
func (s *Server) Step(ctx context.Context, dt time.Duration) {
	for _, env := range s.inbox.Drain() {
		s.apply(ctx, env)
	}
	for n := s.spawns.Swap(0); n > 0; n-- {
		s.match.SpawnOrder(ctx)
	}
	s.match.Tick(ctx, dt)
	s.flush(ctx)
	s.checkGameOver(ctx)
}

// Run starts the match if needed and steps it every tick interval until the
// match is over or ctx is cancelled. The order generator runs alongside on a
// child context.
func (s *Server) Run(ctx context.Context) error {
	defer s.doneOnce.Do(func() { close(s.done) })

	if s.match.Phase() == match.PreGame {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	level := s.match.Level()
	gen := order.NewGenerator(s.clock, level.MinOrderDelay, level.MaxOrderDelay, s.rng, s.QueueSpawn)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = gen.Run(runCtx)
	}()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	last := s.clock.Now()

	s.logger.Info(ctx, "match loop started", logger.Duration("tick_interval", s.tickInterval))
	for !s.finished.Load() {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "match loop cancelled")
			return ctx.Err()
		case <-ticker.C:
			now := s.clock.Now()
			dt := now.Sub(last)
			last = now
			if dt > s.maxStep {
				metrics.RecordTickClamped()
				s.logger.Warn(ctx, "tick step clamped", logger.Duration("dt", dt), logger.Duration("max", s.maxStep))
				dt = s.maxStep
			}

			start := time.Now()
			s.Step(runCtx, dt)
			took := time.Since(start)
			metrics.RecordTick(float64(took.Microseconds()) / 1000)
			if took > s.tickInterval {
				metrics.RecordTickOverrun()
				s.logger.Warn(ctx, "tick over budget", logger.Duration("took", took), logger.Duration("budget", s.tickInterval))
			}
		}
	}
	s.logger.Info(ctx, "match loop finished")
	return nil
}

// teamOf resolves the team a command plays for. A client keeps the first team
// it played for this match. Otherwise the transport's binding wins and
// Command.Team only counts for transports that bind none.
func (s *Server) teamOf(env Envelope) string {
	if t, ok := s.players[env.ClientID]; ok && env.ClientID != "" {
		return t
	}
	if env.Team != "" {
		return env.Team
	}
	return env.Command.Team
}

func (s *Server) apply(ctx context.Context, env Envelope) {
	cmd := env.Command
	env.Team = s.teamOf(env)
	if _, bound := s.players[env.ClientID]; !bound && env.Team != "" && env.ClientID != "" {
		s.players[env.ClientID] = env.Team
	}

	h, ok := s.handlers[cmd.Kind]
	var (
		ack Ack
		err error
	)
	if ok {
		ack, err = h(ctx, env)
	} else {
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
	}

	result := "applied"
	switch {
	case err != nil:
		result = "rejected"
		ack = Ack{Reason: err.Error()}
		s.logger.Warn(ctx, "command rejected",
			logger.String("client_id", env.ClientID),
			logger.String("command_id", cmd.ID),
			logger.String("kind", string(cmd.Kind)),
			logger.Error(err),
		)
	case !ack.Accepted:
		result = "refused"
	}
	metrics.RecordCommand(string(cmd.Kind), result)

	if cmd.ID == "" || env.ClientID == "" {
		return
	}
	ack.CommandID = cmd.ID
	if err := s.transport.Send(ctx, env.ClientID, EncodeAck(ack)); err != nil {
		s.logger.Debug(ctx, "ack not delivered", logger.String("client_id", env.ClientID), logger.Error(err))
	}
}

func (s *Server) handleStartCooking(ctx context.Context, env Envelope) (Ack, error) {
	c := env.Command
	if err := s.match.StartCooking(ctx, c.StationID, *c.Item, c.RecipeID); err != nil {
		return Ack{}, err
	}
	return Ack{Accepted: true}, nil
}

func (s *Server) handleAddIngredient(ctx context.Context, env Envelope) (Ack, error) {
	c := env.Command
	if err := s.match.AddIngredient(ctx, c.StationID, *c.Item); err != nil {
		return Ack{}, err
	}
	return Ack{Accepted: true}, nil
}

func (s *Server) handleStartPlating(ctx context.Context, env Envelope) (Ack, error) {
	c := env.Command
	if err := s.match.StartPlating(ctx, env.Team, c.StationID, c.RecipeID); err != nil {
		return Ack{}, err
	}
	return Ack{Accepted: true}, nil
}

func (s *Server) handleStartMixing(ctx context.Context, env Envelope) (Ack, error) {
	if err := s.match.StartMixing(ctx, env.Command.StationID); err != nil {
		return Ack{}, err
	}
	return Ack{Accepted: true}, nil
}

func (s *Server) handleAttend(ctx context.Context, env Envelope) (Ack, error) {
	if err := s.match.Attend(ctx, env.Command.StationID); err != nil {
		return Ack{}, err
	}
	return Ack{Accepted: true}, nil
}

func (s *Server) handleCollect(ctx context.Context, env Envelope) (Ack, error) {
	dish, err := s.match.Collect(ctx, env.Command.StationID)
	if err != nil {
		return Ack{}, err
	}
	return Ack{Accepted: true, HasItem: true, Item: dish}, nil
}

func (s *Server) handleResetStation(ctx context.Context, env Envelope) (Ack, error) {
	if err := s.match.ResetStation(ctx, env.Command.StationID); err != nil {
		return Ack{}, err
	}
	return Ack{Accepted: true}, nil
}

func (s *Server) handleDeliverOrder(ctx context.Context, env Envelope) (Ack, error) {
	c := env.Command
	out, err := s.match.Deliver(ctx, env.Team, c.OrderID, c.IngredientIDs)
	if err != nil {
		return Ack{}, err
	}
	return Ack{Accepted: out.Accepted, Reason: out.Reason}, nil
}

func (s *Server) handleEndGame(ctx context.Context, _ Envelope) (Ack, error) {
	if err := s.match.End(ctx); err != nil {
		return Ack{}, err
	}
	return Ack{Accepted: true}, nil
}

func (s *Server) handleRequestSnapshot(ctx context.Context, env Envelope) (Ack, error) {
	if env.ClientID == "" {
		return Ack{}, fmt.Errorf("%w: snapshot request without client", ErrInvalidCommand)
	}
	frame := EncodeSnapshot(Snapshot{Seq: s.seq, State: s.state.Snapshot()})
	if err := s.transport.Send(ctx, env.ClientID, frame); err != nil {
		return Ack{}, err
	}
	metrics.RecordSnapshotSent()
	return Ack{Accepted: true}, nil
}

// collect is the server's own event sink; the match calls it on the tick goroutine.
func (s *Server) collect(_ context.Context, e model.Event) {
	s.events = append(s.events, e)
	switch e.Type {
	case model.EventOrderSpawned:
		metrics.RecordOrder("spawned")
	case model.EventOrderExpired:
		metrics.RecordOrder("expired")
	case model.EventOrderDelivered:
		metrics.RecordOrder("delivered")
		metrics.RecordPointsAwarded(e.Team, e.Points)
	case model.EventOrderFailed:
		metrics.RecordOrder("failed")
	case model.EventDishPlated:
		metrics.RecordPointsAwarded(e.Team, e.Points)
	case model.EventScoreChanged:
		metrics.UpdateTeamScore(e.Team, e.Score)
	case model.EventStationStateChanged:
		metrics.RecordStationTransition(string(s.kinds[e.StationID]), e.From, e.To)
	}
}

// flush turns the changes and events of this step into one delta frame.
func (s *Server) flush(ctx context.Context) {
	snap := s.match.Snapshot()
	s.state.Sync(snap)
	changes := s.state.Drain()
	events := s.events
	s.events = nil

	metrics.UpdateActiveOrders(len(snap.Orders))
	metrics.UpdateMatchRemaining(snap.View.Remaining.Seconds())

	if len(changes) == 0 && len(events) == 0 {
		return
	}
	s.seq++
	frame := EncodeDelta(Delta{Seq: s.seq, Changes: changes, Events: events})
	s.transport.Broadcast(ctx, frame)
	metrics.RecordBroadcast(len(frame))
	s.latest.Store(&Snapshot{Seq: s.seq, State: s.state.Snapshot()})
}

func (s *Server) checkGameOver(ctx context.Context) {
	if s.match.Phase() != match.GameOver || s.finished.Load() {
		return
	}
	s.finished.Store(true)
	metrics.RecordMatchCompleted()

	players := make(map[string]string, len(s.players))
	for k, v := range s.players {
		players[k] = v
	}
	result := s.match.Result(s.startedAt, s.clock.Now(), players)
	s.logger.Info(ctx, "match over",
		logger.Int("delivered", result.Delivered),
		logger.Int("failed", result.Failed),
		logger.Int("expired", result.Expired),
		logger.Int("plated", result.Plated),
	)
	for _, fn := range s.onGameOver {
		fn(ctx, result)
	}
}
