// Package match is the authoritative aggregate of one Cooking Clash match: the
// countdown, team scores, stations and the order ledger.
//
// A Match is not safe for concurrent use. The replication server owns it and
// calls every method from its tick goroutine.
package match

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/order"
	"github.com/okian/reciperage/internal/domain/recipe"
	"github.com/okian/reciperage/internal/domain/scoring"
	"github.com/okian/reciperage/internal/domain/station"
	"github.com/okian/reciperage/pkg/logger"
)

// StationTicker advances a set of stations by dt and returns the transitions in station order.
type StationTicker interface {
	TickStations(ctx context.Context, dt time.Duration, stations []*station.Station) []station.Transition
}

// InlineTicker ticks stations one after another on the caller's goroutine.
type InlineTicker struct{}

// TickStations implements StationTicker.
func (InlineTicker) TickStations(_ context.Context, dt time.Duration, stations []*station.Station) []station.Transition {
	var out []station.Transition
	for _, s := range stations {
		if tr, ok := s.Tick(dt); ok {
			out = append(out, tr)
		}
	}
	return out
}

// Match holds the state of a single match.
type Match struct {
	id      string
	level   *recipe.Level
	catalog *recipe.Catalog

	phase     Phase
	remaining time.Duration
	elapsed   time.Duration
	scores    map[string]int

	stations []*station.Station
	byID     map[string]*station.Station
	ledger   *order.Ledger
	bonus    *scoring.Bonus

	delivered, failed, expired, plated int

	ticker      StationTicker
	sink        model.Sink
	logger      logger.Logger
	orderOpts   []order.Option
	stationOpts []station.Option
}

// New builds a match in PreGame for level.
func New(id string, level *recipe.Level, catalog *recipe.Catalog, opts ...Option) *Match {
	m := &Match{
		id:        id,
		level:     level,
		catalog:   catalog,
		phase:     PreGame,
		remaining: level.Duration,
		scores:    make(map[string]int, len(level.Teams)),
		byID:      make(map[string]*station.Station, len(level.Stations)),
		bonus:     scoring.NewBonus(),
		ticker:    InlineTicker{},
		sink:      model.Sinks{},
		logger:    logger.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logger.String("match_id", id))

	for _, t := range level.Teams {
		m.scores[t] = 0
	}
	for _, spec := range level.Stations {
		s := station.New(spec, m.stationOpts...)
		m.stations = append(m.stations, s)
		m.byID[spec.ID] = s
	}
	m.ledger = order.NewLedger(catalog.Pool(level), level.MaxSimultaneousOrders, m.orderOpts...)
	return m
}

// ID returns the match id.
func (m *Match) ID() string { return m.id }

// Level returns the level being played.
func (m *Match) Level() *recipe.Level { return m.level }

// Phase returns the current phase.
func (m *Match) Phase() Phase { return m.phase }

// Remaining returns the time left on the clock.
func (m *Match) Remaining() time.Duration { return m.remaining }

// Begin moves the match from PreGame into InGame.
func (m *Match) Begin(ctx context.Context) error {
	if m.phase != PreGame {
		return fmt.Errorf("%w: begin during %s", ErrInvalidPhase, m.phase)
	}
	m.setPhase(ctx, InGame)
	return nil
}

// End moves the match into GameOver. Active orders are dropped.
func (m *Match) End(ctx context.Context) error {
	if m.phase != InGame {
		return fmt.Errorf("%w: end during %s", ErrInvalidPhase, m.phase)
	}
	m.ledger.Clear()
	m.setPhase(ctx, GameOver)
	return nil
}

func (m *Match) setPhase(ctx context.Context, p Phase) {
	from := m.phase
	m.phase = p
	m.logger.Info(ctx, "match phase changed", logger.String("from", from.String()), logger.String("to", p.String()))
	m.publish(ctx, model.Event{Type: model.EventPhaseChanged, From: from.String(), To: p.String()})
}

// Tick advances the match by dt: the countdown, every station and every order timer.
// Reaching zero remaining time ends the match. Ticks outside InGame do nothing.
func (m *Match) Tick(ctx context.Context, dt time.Duration) {
	if m.phase != InGame || dt <= 0 {
		return
	}
	m.elapsed += dt
	m.remaining -= dt

	for _, tr := range m.ticker.TickStations(ctx, dt, m.stations) {
		m.publishTransition(ctx, tr)
		if tr.Kind == recipe.StationPlating && tr.To == station.Completed {
			m.credit(ctx, tr)
		}
	}

	for _, o := range m.ledger.TickExpiry(dt) {
		m.expired++
		m.publish(ctx, model.Event{Type: model.EventOrderExpired, OrderID: o.ID, RecipeID: o.RecipeID})
	}

	if m.remaining <= 0 {
		m.remaining = 0
		_ = m.End(ctx)
	}
}

// StartCooking places item on a station. When recipeID is set, the recipe's cook
// and burn times apply to this cook.
func (m *Match) StartCooking(ctx context.Context, stationID string, item model.InventoryItem, recipeID string) error {
	s, err := m.playableStation(stationID)
	if err != nil {
		return err
	}
	var timing station.Timing
	if recipeID != "" {
		r, err := m.catalog.Recipe(recipeID)
		if err != nil {
			return err
		}
		timing = station.Timing{Cook: r.BaseCookTime, Burn: r.BurnTime}
	}
	from := s.State()
	if err := s.Start(item, timing); err != nil {
		return err
	}
	m.publishTransition(ctx, station.Transition{StationID: s.ID(), Kind: s.Kind(), From: from, To: s.State()})
	return nil
}

// AddIngredient puts item on the tray of a plating or mixing station.
func (m *Match) AddIngredient(_ context.Context, stationID string, item model.InventoryItem) error {
	s, err := m.playableStation(stationID)
	if err != nil {
		return err
	}
	return s.AddIngredient(item)
}

// StartPlating plates recipeID from a station's tray on behalf of team. The
// team scores the dish when plating finishes.
func (m *Match) StartPlating(ctx context.Context, team, stationID, recipeID string) error {
	s, err := m.playableStation(stationID)
	if err != nil {
		return err
	}
	if !m.level.HasTeam(team) {
		return fmt.Errorf("%w: %q", ErrUnknownTeam, team)
	}
	r, err := m.catalog.Recipe(recipeID)
	if err != nil {
		return err
	}
	from := s.State()
	if err := s.StartPlating(r, team); err != nil {
		return err
	}
	m.publishTransition(ctx, station.Transition{StationID: s.ID(), Kind: s.Kind(), From: from, To: s.State()})
	return nil
}

// StartMixing mixes a station's tray into one ingredient.
func (m *Match) StartMixing(ctx context.Context, stationID string) error {
	s, err := m.playableStation(stationID)
	if err != nil {
		return err
	}
	from := s.State()
	if err := s.StartMixing(); err != nil {
		return err
	}
	m.publishTransition(ctx, station.Transition{StationID: s.ID(), Kind: s.Kind(), From: from, To: s.State()})
	return nil
}

// credit scores a finished plating for the team that started it.
func (m *Match) credit(ctx context.Context, tr station.Transition) {
	if !m.level.HasTeam(tr.Team) {
		return
	}
	m.plated++
	m.scores[tr.Team] += tr.Points
	m.publish(ctx, model.Event{Type: model.EventDishPlated, StationID: tr.StationID, RecipeID: tr.RecipeID, Team: tr.Team, Points: tr.Points})
	m.publish(ctx, model.Event{Type: model.EventScoreChanged, Team: tr.Team, Points: tr.Points, Score: m.scores[tr.Team]})
}

// Attend marks a station as tended for the next tick.
func (m *Match) Attend(_ context.Context, stationID string) error {
	s, err := m.playableStation(stationID)
	if err != nil {
		return err
	}
	return s.Attend()
}

// Collect takes the finished dish off a station.
func (m *Match) Collect(ctx context.Context, stationID string) (model.InventoryItem, error) {
	s, err := m.playableStation(stationID)
	if err != nil {
		return model.InventoryItem{}, err
	}
	from := s.State()
	dish, err := s.Collect()
	if err != nil {
		return model.InventoryItem{}, err
	}
	m.publishTransition(ctx, station.Transition{StationID: s.ID(), Kind: s.Kind(), From: from, To: s.State()})
	return dish, nil
}

// ResetStation clears a burned station.
func (m *Match) ResetStation(ctx context.Context, stationID string) error {
	s, err := m.playableStation(stationID)
	if err != nil {
		return err
	}
	from := s.State()
	if err := s.Reset(); err != nil {
		return err
	}
	if from != s.State() {
		m.publishTransition(ctx, station.Transition{StationID: s.ID(), Kind: s.Kind(), From: from, To: s.State()})
	}
	return nil
}

// SpawnOrder adds a random order when the match is running and the ledger has room.
func (m *Match) SpawnOrder(ctx context.Context) (order.Order, bool) {
	if m.phase != InGame {
		return order.Order{}, false
	}
	o, ok := m.ledger.Spawn()
	if ok {
		m.publish(ctx, model.Event{Type: model.EventOrderSpawned, OrderID: o.ID, RecipeID: o.RecipeID})
	}
	return o, ok
}

// Deliver hands ingredientIDs to an order on behalf of team.
func (m *Match) Deliver(ctx context.Context, team, orderID string, ingredientIDs []string) (order.Outcome, error) {
	if m.phase != InGame {
		return order.Outcome{}, fmt.Errorf("%w: deliver during %s", ErrInvalidPhase, m.phase)
	}
	if !m.level.HasTeam(team) {
		return order.Outcome{}, fmt.Errorf("%w: %q", ErrUnknownTeam, team)
	}
	out, err := m.ledger.Deliver(orderID, ingredientIDs)
	if err != nil {
		return out, err
	}

	if !out.Accepted {
		m.failed++
		m.bonus.Break(team)
		m.publish(ctx, model.Event{Type: model.EventOrderFailed, OrderID: orderID, RecipeID: out.Order.RecipeID, Team: team, Reason: out.Reason})
		return out, nil
	}

	m.delivered++
	out.Points += m.bonus.Delivered(team, m.elapsed, out.Order.TimeRemaining, out.Order.TimeLimit)
	m.scores[team] += out.Points
	m.publish(ctx, model.Event{Type: model.EventOrderDelivered, OrderID: orderID, RecipeID: out.Order.RecipeID, Team: team, Points: out.Points})
	m.publish(ctx, model.Event{Type: model.EventScoreChanged, Team: team, Points: out.Points, Score: m.scores[team]})
	return out, nil
}

func (m *Match) playableStation(id string) (*station.Station, error) {
	if m.phase != InGame {
		return nil, fmt.Errorf("%w: station command during %s", ErrInvalidPhase, m.phase)
	}
	s, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStation, id)
	}
	return s, nil
}

func (m *Match) publishTransition(ctx context.Context, tr station.Transition) {
	m.publish(ctx, model.Event{
		Type:      model.EventStationStateChanged,
		StationID: tr.StationID,
		From:      tr.From.String(),
		To:        tr.To.String(),
	})
}

func (m *Match) publish(ctx context.Context, e model.Event) {
	e.MatchID = m.id
	e.Elapsed = m.elapsed
	m.sink.Publish(ctx, e)
}

// View returns the match-wide replicated state.
func (m *Match) View() View {
	scores := make([]model.TeamScore, 0, len(m.level.Teams))
	for _, t := range m.level.Teams {
		scores = append(scores, model.TeamScore{Team: t, Score: m.scores[t]})
	}
	return View{Phase: m.phase, Remaining: m.remaining, Scores: scores}
}

// Snapshot copies the whole match state.
func (m *Match) Snapshot() Snapshot {
	stations := make([]station.Snapshot, len(m.stations))
	for i, s := range m.stations {
		stations[i] = s.Snapshot()
	}
	return Snapshot{
		MatchID:  m.id,
		LevelID:  m.level.ID,
		View:     m.View(),
		Stations: stations,
		Orders:   m.ledger.Active(),
	}
}

// Result summarizes the match for persistence.
func (m *Match) Result(startedAt, endedAt time.Time, players map[string]string) model.MatchResult {
	return model.MatchResult{
		MatchID:   m.id,
		LevelID:   m.level.ID,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Scores:    m.View().Scores,
		Players:   players,
		Delivered: m.delivered,
		Failed:    m.failed,
		Expired:   m.expired,
		Plated:    m.plated,
	}
}
