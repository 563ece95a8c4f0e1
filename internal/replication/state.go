package replication

import (
	"github.com/okian/reciperage/internal/domain/match"
	"github.com/okian/reciperage/internal/domain/order"
	"github.com/okian/reciperage/internal/domain/station"
)

// ChangeKind tags a replicated change.
type ChangeKind uint8

const (
	ChangeMatch ChangeKind = iota + 1
	ChangeStation
	ChangeOrder
	ChangeOrderRemoved
)

// Change is one replicated field update. Only the payload matching Kind is set.
type Change struct {
	Kind    ChangeKind
	Key     string
	Match   match.View
	Station station.Snapshot
	Order   order.Order
}

// State is the server-side set of replicated values for one match. Syncing it
// from a match snapshot records a Change for every value that moved.
type State struct {
	matchID string
	levelID string

	view     *Var[match.View]
	stations map[string]*Var[station.Snapshot]
	stIDs    []string
	orders   map[string]*Var[order.Order]
	orIDs    []string

	pending []Change
}

// NewState seeds the replicated values from snap without recording changes.
func NewState(snap match.Snapshot) *State {
	s := &State{
		matchID:  snap.MatchID,
		levelID:  snap.LevelID,
		stations: make(map[string]*Var[station.Snapshot], len(snap.Stations)),
		orders:   make(map[string]*Var[order.Order], len(snap.Orders)),
	}
	s.view = NewVarFunc(snap.View, match.View.Equal)
	s.view.OnChange(func(_, v match.View) {
		s.pending = append(s.pending, Change{Kind: ChangeMatch, Match: v})
	})
	for _, st := range snap.Stations {
		s.addStation(st)
	}
	for _, o := range snap.Orders {
		s.addOrder(o)
	}
	return s
}

func (s *State) addStation(st station.Snapshot) {
	v := NewVarFunc(st, station.Snapshot.Equal)
	v.OnChange(func(_, n station.Snapshot) {
		s.pending = append(s.pending, Change{Kind: ChangeStation, Key: n.ID, Station: n})
	})
	s.stations[st.ID] = v
	s.stIDs = append(s.stIDs, st.ID)
}

func (s *State) addOrder(o order.Order) {
	v := NewVar(o)
	v.OnChange(func(_, n order.Order) {
		s.pending = append(s.pending, Change{Kind: ChangeOrder, Key: n.ID, Order: n})
	})
	s.orders[o.ID] = v
	s.orIDs = append(s.orIDs, o.ID)
}

// Sync pushes a fresh match snapshot through the Vars.
func (s *State) Sync(snap match.Snapshot) {
	s.view.Set(snap.View)

	for _, st := range snap.Stations {
		if v, ok := s.stations[st.ID]; ok {
			v.Set(st)
			continue
		}
		s.addStation(st)
		s.pending = append(s.pending, Change{Kind: ChangeStation, Key: st.ID, Station: st})
	}

	live := make(map[string]struct{}, len(snap.Orders))
	for _, o := range snap.Orders {
		live[o.ID] = struct{}{}
		if v, ok := s.orders[o.ID]; ok {
			v.Set(o)
			continue
		}
		s.addOrder(o)
		s.pending = append(s.pending, Change{Kind: ChangeOrder, Key: o.ID, Order: o})
	}

	kept := s.orIDs[:0]
	for _, id := range s.orIDs {
		if _, ok := live[id]; ok {
			kept = append(kept, id)
			continue
		}
		delete(s.orders, id)
		s.pending = append(s.pending, Change{Kind: ChangeOrderRemoved, Key: id})
	}
	s.orIDs = kept
}

// Drain returns and clears the changes recorded since the last Drain.
func (s *State) Drain() []Change {
	out := s.pending
	s.pending = nil
	return out
}

// Snapshot returns the replicated values as last synced.
func (s *State) Snapshot() match.Snapshot {
	snap := match.Snapshot{
		MatchID:  s.matchID,
		LevelID:  s.levelID,
		View:     s.view.Get(),
		Stations: make([]station.Snapshot, 0, len(s.stIDs)),
		Orders:   make([]order.Order, 0, len(s.orIDs)),
	}
	for _, id := range s.stIDs {
		snap.Stations = append(snap.Stations, s.stations[id].Get())
	}
	for _, id := range s.orIDs {
		snap.Orders = append(snap.Orders, s.orders[id].Get())
	}
	return snap
}
