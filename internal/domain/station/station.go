// Package station implements the per-station cooking state machine.
//
// A station only moves forward Idle -> InProgress -> Completed -> Burned and
// returns to Idle through Collect (from Completed) or Reset (from Burned).
// Plating and mixing stations fill a tray while Idle, assemble it while
// InProgress and hold the result in Completed; they never burn.
// Every method is meant to be called from the match's tick goroutine.
package station

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/recipe"
	"github.com/okian/reciperage/internal/domain/scoring"
)

// State of a station.
type State uint8

const (
	Idle State = iota
	InProgress
	Completed
	Burned
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	case Burned:
		return "burned"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Timing overrides the station's default durations for one cook. Zero fields keep the defaults.
type Timing struct {
	Cook time.Duration
	Burn time.Duration
}

// Transition describes a state change produced by Tick.
// A finished plating carries the team it was plated for and the points it earned.
type Transition struct {
	StationID string
	Kind      recipe.StationKind
	From      State
	To        State
	RecipeID  string
	Team      string
	Points    int
}

// Snapshot is the replicated view of a station.
type Snapshot struct {
	ID       string
	Kind     recipe.StationKind
	State    State
	HasItem  bool
	Item     model.InventoryItem
	Progress float64
	Quality  float64
	Tray     []model.InventoryItem
	RecipeID string
}

// Equal compares two snapshots field by field.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.ID != o.ID || s.Kind != o.Kind || s.State != o.State || s.HasItem != o.HasItem ||
		s.Item != o.Item || s.Progress != o.Progress || s.Quality != o.Quality ||
		s.RecipeID != o.RecipeID || len(s.Tray) != len(o.Tray) {
		return false
	}
	for i := range s.Tray {
		if s.Tray[i] != o.Tray[i] {
			return false
		}
	}
	return true
}

// Station is a single kitchen station.
type Station struct {
	id   string
	kind recipe.StationKind
	cfg  Config

	cookDuration time.Duration
	burnDuration time.Duration

	state    State
	item     model.InventoryItem
	hasItem  bool
	elapsed  time.Duration
	quality  float64
	attended bool

	// durations of the cook in flight
	activeCook time.Duration
	activeBurn time.Duration

	// plating and mixing
	capacity int
	tray     []model.InventoryItem
	recipe   *recipe.Recipe
	team     string
}

// New creates an idle station.
func New(spec recipe.StationSpec, opts ...Option) *Station {
	s := &Station{
		id:           spec.ID,
		kind:         spec.Kind,
		cfg:          DefaultConfig(),
		cookDuration: spec.CookTime,
		burnDuration: spec.BurnTime,
	}
	if s.kind == "" {
		s.kind = recipe.StationCooking
	}
	cook, capacity := recipe.DefaultsFor(s.kind)
	if s.cookDuration <= 0 {
		s.cookDuration = cook
	}
	s.capacity = spec.Capacity
	if s.capacity <= 0 {
		s.capacity = capacity
	}
	if s.burnDuration <= 0 {
		s.burnDuration = recipe.DefaultBurnTime
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the station id.
func (s *Station) ID() string { return s.id }

// Kind returns how the station processes ingredients.
func (s *Station) Kind() recipe.StationKind { return s.kind }

// State returns the current state.
func (s *Station) State() State { return s.state }

// Progress is the fraction of the current phase elapsed, in [0,1].
func (s *Station) Progress() float64 {
	var d time.Duration
	switch s.state {
	case InProgress:
		d = s.activeCook
	case Completed:
		d = s.activeBurn
	default:
		return 0
	}
	if d <= 0 {
		return 0
	}
	p := float64(s.elapsed) / float64(d)
	if p > 1 {
		return 1
	}
	return p
}

// Quality is the current quality of the ingredient on the station.
func (s *Station) Quality() float64 { return s.quality }

// Snapshot returns a copy of the replicated fields.
func (s *Station) Snapshot() Snapshot {
	snap := Snapshot{
		ID:       s.id,
		Kind:     s.kind,
		State:    s.state,
		HasItem:  s.hasItem,
		Item:     s.item,
		Progress: s.Progress(),
		Quality:  s.quality,
	}
	if len(s.tray) > 0 {
		snap.Tray = append([]model.InventoryItem(nil), s.tray...)
	}
	if s.recipe != nil {
		snap.RecipeID = s.recipe.ID
	}
	return snap
}

// Tray returns a copy of the ingredients waiting on a plating or mixing station.
func (s *Station) Tray() []model.InventoryItem {
	return append([]model.InventoryItem(nil), s.tray...)
}

// Start places item on an idle station and begins processing it.
func (s *Station) Start(item model.InventoryItem, timing Timing) error {
	if s.kind.Assembles() {
		return fmt.Errorf("%w: start on %s station %s", ErrWrongKind, s.kind, s.id)
	}
	if s.state != Idle {
		return fmt.Errorf("%w: start on %s station %s", ErrInvalidState, s.state, s.id)
	}
	s.activeCook = s.cookDuration
	if timing.Cook > 0 {
		s.activeCook = timing.Cook
	}
	s.activeBurn = s.burnDuration
	if timing.Burn > 0 {
		s.activeBurn = timing.Burn
	}
	s.item = item
	s.hasItem = true
	s.quality = clamp01(item.Quality)
	s.elapsed = 0
	s.attended = false
	s.state = InProgress
	return nil
}

// AddIngredient puts item on the tray of an idle plating or mixing station.
func (s *Station) AddIngredient(item model.InventoryItem) error {
	if !s.kind.Assembles() {
		return fmt.Errorf("%w: add ingredient on %s station %s", ErrWrongKind, s.kind, s.id)
	}
	if s.state != Idle {
		return fmt.Errorf("%w: add ingredient on %s station %s", ErrInvalidState, s.state, s.id)
	}
	if len(s.tray) >= s.capacity {
		return fmt.Errorf("%w: station %s holds %d", ErrTrayFull, s.id, s.capacity)
	}
	item.Quality = clamp01(item.Quality)
	s.tray = append(s.tray, item)
	return nil
}

// StartPlating begins plating r for team. The tray must satisfy the recipe.
func (s *Station) StartPlating(r *recipe.Recipe, team string) error {
	if s.kind != recipe.StationPlating {
		return fmt.Errorf("%w: plate on %s station %s", ErrWrongKind, s.kind, s.id)
	}
	if s.state != Idle {
		return fmt.Errorf("%w: plate on %s station %s", ErrInvalidState, s.state, s.id)
	}
	if len(s.tray) == 0 {
		return fmt.Errorf("%w: station %s", ErrTrayEmpty, s.id)
	}
	if !scoring.ValidateIngredients(r, s.tray) {
		return fmt.Errorf("%w: station %s cannot plate %s", ErrRecipeMismatch, s.id, r.ID)
	}
	s.recipe = r
	s.team = team
	s.begin()
	return nil
}

// StartMixing begins mixing the tray. At least two ingredients are needed.
func (s *Station) StartMixing() error {
	if s.kind != recipe.StationMixing {
		return fmt.Errorf("%w: mix on %s station %s", ErrWrongKind, s.kind, s.id)
	}
	if s.state != Idle {
		return fmt.Errorf("%w: mix on %s station %s", ErrInvalidState, s.state, s.id)
	}
	if len(s.tray) < 2 {
		return fmt.Errorf("%w: station %s has %d of 2 ingredients", ErrTrayEmpty, s.id, len(s.tray))
	}
	s.begin()
	return nil
}

func (s *Station) begin() {
	s.activeCook = s.cookDuration
	s.elapsed = 0
	s.quality = 0
	s.attended = false
	s.state = InProgress
}

// Attend marks the station as tended for the next tick.
func (s *Station) Attend() error {
	if s.kind.Assembles() {
		return fmt.Errorf("%w: attend on %s station %s", ErrWrongKind, s.kind, s.id)
	}
	if s.state != InProgress && s.state != Completed {
		return fmt.Errorf("%w: attend on %s station %s", ErrInvalidState, s.state, s.id)
	}
	s.attended = true
	return nil
}

// Collect hands out the finished dish and returns the station to Idle.
func (s *Station) Collect() (model.InventoryItem, error) {
	if s.state != Completed {
		return model.InventoryItem{}, fmt.Errorf("%w: collect on %s station %s", ErrInvalidState, s.state, s.id)
	}
	dish := s.item
	dish.Quality = s.quality
	s.clear()
	return dish, nil
}

// Reset clears a burned station. On an idle plating or mixing station it
// empties the tray. Otherwise resetting an idle station is a no-op, so two
// resets in a row behave like one. Any other state is rejected.
func (s *Station) Reset() error {
	switch s.state {
	case Burned:
		s.clear()
		return nil
	case Idle:
		s.tray = nil
		return nil
	}
	return fmt.Errorf("%w: reset on %s station %s", ErrInvalidState, s.state, s.id)
}

func (s *Station) clear() {
	s.state = Idle
	s.item = model.InventoryItem{}
	s.hasItem = false
	s.elapsed = 0
	s.quality = 0
	s.attended = false
	s.tray = nil
	s.recipe = nil
	s.team = ""
}

// Tick advances the station by dt and reports a transition when the state changed.
// The attended flag only lasts for the tick that consumes it.
func (s *Station) Tick(dt time.Duration) (Transition, bool) {
	if dt <= 0 {
		return Transition{}, false
	}
	attended := s.attended
	s.attended = false

	from := s.state
	switch {
	case s.kind.Assembles():
		if s.state == InProgress {
			return s.tickAssembly(dt)
		}
	case s.state == InProgress:
		s.tickInProgress(dt, attended)
	case s.state == Completed:
		s.tickCompleted(dt, attended)
	}
	if s.state == from {
		return Transition{}, false
	}
	return Transition{StationID: s.id, Kind: s.kind, From: from, To: s.state}, true
}

func (s *Station) tickAssembly(dt time.Duration) (Transition, bool) {
	s.elapsed += dt
	if s.elapsed < s.activeCook {
		return Transition{}, false
	}
	tr := Transition{StationID: s.id, Kind: s.kind, From: InProgress, To: Completed}
	if s.kind == recipe.StationPlating {
		q := scoring.CalculateQuality(s.recipe, s.tray, 1)
		s.quality = min(1, q+s.cfg.PresentationBonus)
		s.item = model.InventoryItem{ItemID: uuid.NewString(), Type: model.IngredientType(s.recipe.ID), Quality: s.quality}
		tr.RecipeID, tr.Team = s.recipe.ID, s.team
		tr.Points = scoring.CalculatePoints(s.recipe, s.quality)
	} else {
		sum := 0.0
		for _, it := range s.tray {
			sum += it.Quality
		}
		s.quality = clamp01(sum / float64(len(s.tray)) * s.cfg.MixMultiplier)
		s.item = model.InventoryItem{ItemID: uuid.NewString(), Type: model.Mixed, Quality: s.quality}
	}
	s.hasItem = true
	s.tray = nil
	s.elapsed = 0
	s.state = Completed
	return tr, true
}

func (s *Station) tickInProgress(dt time.Duration, attended bool) {
	secs := dt.Seconds()
	if s.kind == recipe.StationChopping {
		if !attended {
			return
		}
		s.elapsed += dt
	} else {
		s.elapsed += dt
		if attended {
			s.quality = clamp01(s.quality + s.cfg.AttendedGain*secs)
		} else if s.quality > s.cfg.CookingFloor {
			s.quality = max(s.cfg.CookingFloor, s.quality-s.cfg.UnattendedLoss*secs)
		}
	}
	if s.elapsed >= s.activeCook {
		s.state = Completed
		s.elapsed = 0
	}
}

func (s *Station) tickCompleted(dt time.Duration, attended bool) {
	if s.kind == recipe.StationChopping {
		return
	}
	s.elapsed += dt
	if !attended && s.quality > s.cfg.CompletedFloor {
		s.quality = max(s.cfg.CompletedFloor, s.quality-s.cfg.CompletedDecay*dt.Seconds())
	}
	if s.elapsed >= s.activeBurn {
		s.state = Burned
		s.elapsed = 0
		s.quality = 0
	}
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
