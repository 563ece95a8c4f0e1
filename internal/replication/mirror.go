package replication

import (
	"fmt"
	"sort"
	"sync"

	"github.com/okian/reciperage/internal/domain/match"
	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/order"
	"github.com/okian/reciperage/internal/domain/station"
)

// Mirror is a client's read-only copy of a match. It only changes through
// Apply; callers observe it through accessors and listeners.
type Mirror struct {
	mu       sync.RWMutex
	synced   bool
	stale    bool
	seq      uint64
	matchID  string
	levelID  string
	view     match.View
	stations map[string]station.Snapshot
	stOrder  []string
	orders   map[string]order.Order

	onChange []func(Change)
	onEvent  []func(model.Event)
	onAck    []func(Ack)
}

// NewMirror returns an empty mirror that waits for a snapshot.
func NewMirror() *Mirror {
	return &Mirror{
		stations: make(map[string]station.Snapshot),
		orders:   make(map[string]order.Order),
	}
}

// OnChange registers fn for every applied change. Listeners run on the Apply caller, outside the lock.
func (m *Mirror) OnChange(fn func(Change)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// OnEvent registers fn for every gameplay event carried by a delta.
func (m *Mirror) OnEvent(fn func(model.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = append(m.onEvent, fn)
}

// OnAck registers fn for command acks addressed to this client.
func (m *Mirror) OnAck(fn func(Ack)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAck = append(m.onAck, fn)
}

// Apply decodes and applies one frame from the server.
//
// A delta older than the mirror is ignored. A delta that skips a sequence
// number is not applied; the mirror is flagged for resync and ErrSequenceGap
// is returned once. Deltas are then ignored until a snapshot clears the flag.
func (m *Mirror) Apply(frame []byte) error {
	msg, err := Decode(frame)
	if err != nil {
		return err
	}

	var (
		changes []Change
		events  []model.Event
		acks    []Ack
	)

	m.mu.Lock()
	switch msg.Type {
	case MsgSnapshot:
		changes = m.applySnapshot(*msg.Snapshot)
	case MsgDelta:
		d := msg.Delta
		switch {
		case !m.synced:
			err = ErrNotSynced
		case d.Seq <= m.seq, m.stale:
		case d.Seq != m.seq+1:
			m.stale = true
			err = fmt.Errorf("%w: have %d, got %d", ErrSequenceGap, m.seq, d.Seq)
		default:
			for _, c := range d.Changes {
				m.applyChange(c)
			}
			m.seq = d.Seq
			changes, events = d.Changes, d.Events
		}
	case MsgAck:
		acks = append(acks, *msg.Ack)
	}
	onChange, onEvent, onAck := m.onChange, m.onEvent, m.onAck
	m.mu.Unlock()

	for _, c := range changes {
		for _, fn := range onChange {
			fn(c)
		}
	}
	for _, e := range events {
		for _, fn := range onEvent {
			fn(e)
		}
	}
	for _, a := range acks {
		for _, fn := range onAck {
			fn(a)
		}
	}
	return err
}

// applySnapshot replaces everything and returns the changes a listener needs to rebuild its view.
func (m *Mirror) applySnapshot(s Snapshot) []Change {
	m.synced, m.stale = true, false
	m.seq = s.Seq
	m.matchID, m.levelID = s.State.MatchID, s.State.LevelID
	m.view = s.State.View

	changes := make([]Change, 0, 1+len(s.State.Stations)+len(s.State.Orders)+len(m.orders))
	changes = append(changes, Change{Kind: ChangeMatch, Match: s.State.View})

	m.stations = make(map[string]station.Snapshot, len(s.State.Stations))
	m.stOrder = m.stOrder[:0]
	for _, st := range s.State.Stations {
		m.stations[st.ID] = st
		m.stOrder = append(m.stOrder, st.ID)
		changes = append(changes, Change{Kind: ChangeStation, Key: st.ID, Station: st})
	}

	live := make(map[string]order.Order, len(s.State.Orders))
	for _, o := range s.State.Orders {
		live[o.ID] = o
		changes = append(changes, Change{Kind: ChangeOrder, Key: o.ID, Order: o})
	}
	for id := range m.orders {
		if _, ok := live[id]; !ok {
			changes = append(changes, Change{Kind: ChangeOrderRemoved, Key: id})
		}
	}
	m.orders = live
	return changes
}

func (m *Mirror) applyChange(c Change) {
	switch c.Kind {
	case ChangeMatch:
		m.view = c.Match
	case ChangeStation:
		if _, ok := m.stations[c.Key]; !ok {
			m.stOrder = append(m.stOrder, c.Key)
		}
		m.stations[c.Key] = c.Station
	case ChangeOrder:
		m.orders[c.Key] = c.Order
	case ChangeOrderRemoved:
		delete(m.orders, c.Key)
	}
}

// Synced reports whether a snapshot has been applied.
func (m *Mirror) Synced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.synced
}

// NeedsResync reports whether a gap was detected and no snapshot has arrived since.
func (m *Mirror) NeedsResync() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stale
}

// Seq returns the sequence of the last applied frame.
func (m *Mirror) Seq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq
}

// MatchID returns the id of the mirrored match.
func (m *Mirror) MatchID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matchID
}

// Match returns the match-wide view.
func (m *Mirror) Match() match.View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := m.view
	v.Scores = append([]model.TeamScore(nil), v.Scores...)
	return v
}

// Station returns one station.
func (m *Mirror) Station(id string) (station.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stations[id]
	return st, ok
}

// Stations returns every station in level order.
func (m *Mirror) Stations() []station.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]station.Snapshot, 0, len(m.stOrder))
	for _, id := range m.stOrder {
		out = append(out, m.stations[id])
	}
	return out
}

// Orders returns the active orders, oldest first.
func (m *Mirror) Orders() []order.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]order.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
