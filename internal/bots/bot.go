// Package bots plays kitchen matches without a human. A Bot only reads the
// match through its mirror and answers with commands, so the same bot drives
// a remote match over WebSocket and an in-process simulation.
package bots

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/okian/reciperage/internal/domain/match"
	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/recipe"
	"github.com/okian/reciperage/internal/domain/station"
	"github.com/okian/reciperage/internal/replication"
	"github.com/okian/reciperage/pkg/logger"
)

// Conn is a bot's view of the match and its way to talk back.
type Conn interface {
	Mirror() *replication.Mirror
	Send(cmd replication.Command) error
}

// Stats counts what a bot did.
type Stats struct {
	Sent      int `json:"sent"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Collected int `json:"collected"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

type pending struct {
	kind    replication.CommandKind
	station string
}

// mark holds a station back until the mirror shows it left the state the
// command was sent from, or until it goes stale.
type mark struct {
	seq   uint64
	from  station.State
	acked bool
}

// Bot works the stations it owns and delivers the oldest order it can cook.
type Bot struct {
	id      string
	team    string
	catalog *recipe.Catalog
	conn    Conn
	rng     *rand.Rand
	logger  logger.Logger

	index, total int
	minQuality   float64
	maxQuality   float64
	staleAfter   uint64

	mu      sync.Mutex
	pending map[string]pending
	busy    map[string]mark
	cooking map[string]model.IngredientType
	held    []model.InventoryItem
	target  string
	stats   Stats
}

// New creates a bot playing for team through conn and listens for its acks.
func New(id, team string, catalog *recipe.Catalog, conn Conn, opts ...Option) *Bot {
	b := &Bot{
		id:         id,
		team:       team,
		catalog:    catalog,
		conn:       conn,
		logger:     logger.NewNop(),
		total:      1,
		minQuality: defaultMinQuality,
		maxQuality: defaultMaxQuality,
		staleAfter: defaultStaleAfter,
		pending:    make(map[string]pending),
		busy:       make(map[string]mark),
		cooking:    make(map[string]model.IngredientType),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewSource(int64(len(id)) + 1)) //nolint:gosec // gameplay randomness
	}
	b.logger = b.logger.With(logger.String("bot", id), logger.String("team", team))
	conn.Mirror().OnAck(b.handleAck)
	return b
}

// ID returns the player id the bot plays as.
func (b *Bot) ID() string { return b.id }

// Team returns the bot's team.
func (b *Bot) Team() string { return b.team }

// Stats returns a copy of the bot's counters.
func (b *Bot) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Held returns the dishes the bot collected and has not delivered yet.
func (b *Bot) Held() []model.InventoryItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.InventoryItem(nil), b.held...)
}

// Decide looks at the mirror once and sends whatever the bot wants to do now.
// It does nothing until the mirror is synced and the match is running.
func (b *Bot) Decide(ctx context.Context) error {
	m := b.conn.Mirror()
	if !m.Synced() || m.NeedsResync() || m.Match().Phase != match.InGame {
		return nil
	}

	b.mu.Lock()
	cmds := b.plan(m)
	b.mu.Unlock()

	for _, cmd := range cmds {
		if err := b.conn.Send(cmd); err != nil {
			b.forget(cmd.ID)
			return fmt.Errorf("bot %s send %s: %w", b.id, cmd.Kind, err)
		}
		b.mu.Lock()
		b.stats.Sent++
		b.mu.Unlock()
		b.logger.Debug(ctx, "command sent", logger.String("kind", string(cmd.Kind)), logger.String("station_id", cmd.StationID))
	}
	return nil
}

// plan must be called with mu held.
func (b *Bot) plan(m *replication.Mirror) []replication.Command {
	seq := m.Seq()
	for id, mk := range b.busy {
		if seq-mk.seq > b.staleAfter {
			delete(b.busy, id)
		}
	}

	var cmds []replication.Command
	need := b.chooseTarget(m, &cmds)

	// bots only cook; tray stations are left to players
	var stations []station.Snapshot
	for _, st := range m.Stations() {
		if !st.Kind.Assembles() {
			stations = append(stations, st)
		}
	}
	for i, st := range stations {
		if !b.owns(i, len(stations)) {
			continue
		}
		if mk, ok := b.busy[st.ID]; ok {
			if !mk.acked || st.State == mk.from {
				continue
			}
			delete(b.busy, st.ID)
		}
		switch st.State {
		case station.Idle:
			delete(b.cooking, st.ID)
			if len(need) == 0 {
				continue
			}
			t := need[0]
			need = need[1:]
			item := model.InventoryItem{
				ItemID:  uuid.NewString(),
				Type:    t,
				Quality: b.minQuality + b.rng.Float64()*(b.maxQuality-b.minQuality),
			}
			b.cooking[st.ID] = t
			cmds = append(cmds, b.track(seq, st, replication.Command{
				Kind: replication.CmdStartCooking, StationID: st.ID, Item: &item, RecipeID: b.targetRecipe(m),
			}))
		case station.InProgress:
			cmds = append(cmds, replication.Command{Kind: replication.CmdAttend, StationID: st.ID})
		case station.Completed:
			cmds = append(cmds, b.track(seq, st, replication.Command{Kind: replication.CmdCollect, StationID: st.ID}))
		case station.Burned:
			delete(b.cooking, st.ID)
			cmds = append(cmds, b.track(seq, st, replication.Command{Kind: replication.CmdResetStation, StationID: st.ID}))
		}
	}
	return cmds
}

// chooseTarget keeps or picks the order to cook for, queues a delivery when
// every required dish is held and returns the ingredient types still missing.
func (b *Bot) chooseTarget(m *replication.Mirror, cmds *[]replication.Command) []model.IngredientType {
	orders := m.Orders()
	var r *recipe.Recipe
	if b.target != "" {
		for _, o := range orders {
			if o.ID == b.target {
				r, _ = b.catalog.Recipe(o.RecipeID)
				break
			}
		}
	}
	if r == nil {
		b.target = ""
		// bots of a fleet start from different orders so they rarely cook for the same one
		for k := range orders {
			o := orders[(k+b.index)%len(orders)]
			if rec, err := b.catalog.Recipe(o.RecipeID); err == nil {
				b.target, r = o.ID, rec
				break
			}
		}
	}
	if r == nil {
		return nil
	}

	need := r.RequiredTypes()
	var use []int
	for _, t := range need {
		for i, it := range b.held {
			if it.Type == t && !contains(use, i) {
				use = append(use, i)
				break
			}
		}
	}
	if len(use) == len(need) {
		ids := make([]string, 0, len(use))
		keep := b.held[:0:0]
		for i, it := range b.held {
			if contains(use, i) {
				ids = append(ids, string(it.Type))
			} else {
				keep = append(keep, it)
			}
		}
		b.held = keep
		*cmds = append(*cmds, b.track(m.Seq(), station.Snapshot{}, replication.Command{
			Kind: replication.CmdDeliverOrder, OrderID: b.target, IngredientIDs: ids,
		}))
		b.target = ""
		return nil
	}

	missing := make(map[model.IngredientType]int)
	for _, t := range need {
		missing[t]++
	}
	for _, i := range use {
		missing[b.held[i].Type]--
	}
	for _, t := range b.cooking {
		missing[t]--
	}
	var out []model.IngredientType
	for _, t := range need {
		if missing[t] > 0 {
			out = append(out, t)
			missing[t]--
		}
	}
	return out
}

func (b *Bot) targetRecipe(m *replication.Mirror) string {
	for _, o := range m.Orders() {
		if o.ID == b.target {
			return o.RecipeID
		}
	}
	return ""
}

// owns splits the level's stations between the bots of a fleet. When there are
// more bots than stations, bots share.
func (b *Bot) owns(i, n int) bool {
	if b.total <= n {
		return i%b.total == b.index
	}
	return i == b.index%n
}

func (b *Bot) track(seq uint64, st station.Snapshot, cmd replication.Command) replication.Command {
	cmd.ID = uuid.NewString()
	b.pending[cmd.ID] = pending{kind: cmd.Kind, station: st.ID}
	if st.ID != "" {
		b.busy[st.ID] = mark{seq: seq, from: st.State}
	}
	return cmd
}

func (b *Bot) forget(id string) {
	if id == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pending[id]; ok {
		delete(b.pending, id)
		delete(b.busy, p.station)
		if p.kind == replication.CmdStartCooking {
			delete(b.cooking, p.station)
		}
	}
}

func (b *Bot) handleAck(a replication.Ack) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[a.CommandID]
	if !ok {
		return
	}
	delete(b.pending, a.CommandID)

	if !a.Accepted {
		delete(b.busy, p.station)
		b.stats.Rejected++
		switch p.kind {
		case replication.CmdStartCooking:
			delete(b.cooking, p.station)
		case replication.CmdDeliverOrder:
			b.stats.Failed++
		}
		b.logger.Debug(context.Background(), "command rejected", logger.String("kind", string(p.kind)), logger.String("reason", a.Reason))
		return
	}

	b.stats.Accepted++
	if mk, ok := b.busy[p.station]; ok {
		mk.acked = true
		b.busy[p.station] = mk
	}
	switch p.kind {
	case replication.CmdCollect:
		delete(b.cooking, p.station)
		if a.HasItem {
			b.held = append(b.held, a.Item)
			b.stats.Collected++
		}
	case replication.CmdDeliverOrder:
		b.stats.Delivered++
	}
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
