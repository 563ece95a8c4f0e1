package replication

import (
	"fmt"

	"github.com/okian/reciperage/internal/domain/match"
	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/order"
	"github.com/okian/reciperage/internal/domain/recipe"
	"github.com/okian/reciperage/internal/domain/station"
)

// MessageType is the first byte of every server-to-client frame.
type MessageType uint8

const (
	MsgSnapshot MessageType = iota + 1
	MsgDelta
	MsgAck
)

// Snapshot is a full resync of the match at sequence Seq.
type Snapshot struct {
	Seq   uint64
	State match.Snapshot
}

// Delta carries the changes and events of one tick.
type Delta struct {
	Seq     uint64
	Changes []Change
	Events  []model.Event
}

// Ack answers a command that carried an id.
type Ack struct {
	CommandID string
	Accepted  bool
	Reason    string
	HasItem   bool
	Item      model.InventoryItem
}

// Message is a decoded frame; exactly one payload is set.
type Message struct {
	Type     MessageType
	Snapshot *Snapshot
	Delta    *Delta
	Ack      *Ack
}

// EncodeSnapshot serializes a snapshot frame.
func EncodeSnapshot(s Snapshot) []byte {
	w := &writer{buf: []byte{byte(MsgSnapshot)}}
	w.uint(s.Seq)
	w.str(s.State.MatchID)
	w.str(s.State.LevelID)
	w.field(encodeView(s.State.View))
	w.uint(uint64(len(s.State.Stations)))
	for _, st := range s.State.Stations {
		w.field(EncodeStation(st))
	}
	w.uint(uint64(len(s.State.Orders)))
	for _, o := range s.State.Orders {
		w.field(encodeOrder(o))
	}
	return w.buf
}

// EncodeDelta serializes a delta frame.
func EncodeDelta(d Delta) []byte {
	w := &writer{buf: []byte{byte(MsgDelta)}}
	w.uint(d.Seq)
	w.uint(uint64(len(d.Changes)))
	for _, c := range d.Changes {
		w.field(encodeChange(c))
	}
	w.uint(uint64(len(d.Events)))
	for _, e := range d.Events {
		w.field(encodeEvent(e))
	}
	return w.buf
}

// EncodeAck serializes an ack frame.
func EncodeAck(a Ack) []byte {
	w := &writer{buf: []byte{byte(MsgAck)}}
	w.str(a.CommandID)
	w.bool(a.Accepted)
	w.str(a.Reason)
	w.bool(a.HasItem)
	w.field(encodeItem(a.Item))
	return w.buf
}

// Decode parses any server-to-client frame.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	r := &reader{buf: data[1:]}
	msg := Message{Type: MessageType(data[0])}
	switch msg.Type {
	case MsgSnapshot:
		s := decodeSnapshot(r)
		msg.Snapshot = &s
	case MsgDelta:
		d := decodeDelta(r)
		msg.Delta = &d
	case MsgAck:
		a := Ack{CommandID: r.str(), Accepted: r.bool(), Reason: r.str(), HasItem: r.bool()}
		nested(r, func(sr *reader) { a.Item = decodeItem(sr) })
		msg.Ack = &a
	default:
		return Message{}, fmt.Errorf("%w: unknown message type %d", ErrMalformed, data[0])
	}
	if err := r.done(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func decodeSnapshot(r *reader) Snapshot {
	var s Snapshot
	s.Seq = r.uint()
	s.State.MatchID = r.str()
	s.State.LevelID = r.str()
	nested(r, func(sr *reader) { s.State.View = decodeView(sr) })
	for range r.count() {
		nested(r, func(sr *reader) { s.State.Stations = append(s.State.Stations, decodeStation(sr)) })
	}
	for range r.count() {
		nested(r, func(sr *reader) { s.State.Orders = append(s.State.Orders, decodeOrder(sr)) })
	}
	return s
}

func decodeDelta(r *reader) Delta {
	var d Delta
	d.Seq = r.uint()
	for range r.count() {
		nested(r, func(sr *reader) { d.Changes = append(d.Changes, decodeChange(sr)) })
	}
	for range r.count() {
		nested(r, func(sr *reader) { d.Events = append(d.Events, decodeEvent(sr)) })
	}
	return d
}

// nested decodes the next field with fn and folds its error into r.
func nested(r *reader, fn func(*reader)) {
	sr := r.sub()
	if r.err != nil {
		return
	}
	fn(sr)
	if err := sr.done(); err != nil {
		r.err = err
	}
}

// EncodeStation serializes the replicated fields of a station.
func EncodeStation(s station.Snapshot) []byte {
	w := &writer{}
	w.str(s.ID)
	w.str(string(s.Kind))
	w.uint(uint64(s.State))
	w.bool(s.HasItem)
	w.field(encodeItem(s.Item))
	w.float(s.Progress)
	w.float(s.Quality)
	w.uint(uint64(len(s.Tray)))
	for _, it := range s.Tray {
		w.field(encodeItem(it))
	}
	w.str(s.RecipeID)
	return w.buf
}

// DecodeStation is the inverse of EncodeStation.
func DecodeStation(b []byte) (station.Snapshot, error) {
	r := &reader{buf: b}
	s := decodeStation(r)
	if err := r.done(); err != nil {
		return station.Snapshot{}, err
	}
	return s, nil
}

func decodeStation(r *reader) station.Snapshot {
	var s station.Snapshot
	s.ID = r.str()
	s.Kind = recipe.StationKind(r.str())
	st := r.uint()
	if st > uint64(station.Burned) {
		r.fail("station state %d out of range", st)
	}
	s.State = station.State(st)
	s.HasItem = r.bool()
	nested(r, func(sr *reader) { s.Item = decodeItem(sr) })
	s.Progress = r.float()
	s.Quality = r.float()
	for range r.count() {
		nested(r, func(sr *reader) { s.Tray = append(s.Tray, decodeItem(sr)) })
	}
	s.RecipeID = r.str()
	return s
}

func encodeItem(it model.InventoryItem) []byte {
	w := &writer{}
	w.str(it.ItemID)
	w.str(string(it.Type))
	w.float(it.Quality)
	return w.buf
}

func decodeItem(r *reader) model.InventoryItem {
	return model.InventoryItem{ItemID: r.str(), Type: model.IngredientType(r.str()), Quality: r.float()}
}

func encodeOrder(o order.Order) []byte {
	w := &writer{}
	w.str(o.ID)
	w.str(o.RecipeID)
	w.duration(o.TimeRemaining)
	w.duration(o.TimeLimit)
	w.uint(o.Seq)
	return w.buf
}

func decodeOrder(r *reader) order.Order {
	return order.Order{
		ID:            r.str(),
		RecipeID:      r.str(),
		TimeRemaining: r.duration(),
		TimeLimit:     r.duration(),
		Seq:           r.uint(),
	}
}

func encodeView(v match.View) []byte {
	w := &writer{}
	w.uint(uint64(v.Phase))
	w.duration(v.Remaining)
	w.uint(uint64(len(v.Scores)))
	for _, s := range v.Scores {
		w.str(s.Team)
		w.int(int64(s.Score))
	}
	return w.buf
}

func decodeView(r *reader) match.View {
	var v match.View
	p := r.uint()
	if p > uint64(match.GameOver) {
		r.fail("phase %d out of range", p)
	}
	v.Phase = match.Phase(p)
	v.Remaining = r.duration()
	n := r.count()
	if n > 0 {
		v.Scores = make([]model.TeamScore, 0, n)
	}
	for range n {
		v.Scores = append(v.Scores, model.TeamScore{Team: r.str(), Score: int(r.int())})
	}
	return v
}

func encodeChange(c Change) []byte {
	w := &writer{}
	w.uint(uint64(c.Kind))
	w.str(c.Key)
	switch c.Kind {
	case ChangeMatch:
		w.field(encodeView(c.Match))
	case ChangeStation:
		w.field(EncodeStation(c.Station))
	case ChangeOrder:
		w.field(encodeOrder(c.Order))
	}
	return w.buf
}

func decodeChange(r *reader) Change {
	c := Change{Kind: ChangeKind(r.uint()), Key: r.str()}
	switch c.Kind {
	case ChangeMatch:
		nested(r, func(sr *reader) { c.Match = decodeView(sr) })
	case ChangeStation:
		nested(r, func(sr *reader) { c.Station = decodeStation(sr) })
	case ChangeOrder:
		nested(r, func(sr *reader) { c.Order = decodeOrder(sr) })
	case ChangeOrderRemoved:
	default:
		r.fail("unknown change kind %d", c.Kind)
	}
	return c
}

func encodeEvent(e model.Event) []byte {
	w := &writer{}
	w.str(string(e.Type))
	w.str(e.MatchID)
	w.duration(e.Elapsed)
	w.str(e.OrderID)
	w.str(e.RecipeID)
	w.str(e.StationID)
	w.str(e.Team)
	w.int(int64(e.Points))
	w.int(int64(e.Score))
	w.str(e.From)
	w.str(e.To)
	w.str(e.Reason)
	return w.buf
}

func decodeEvent(r *reader) model.Event {
	return model.Event{
		Type:      model.EventType(r.str()),
		MatchID:   r.str(),
		Elapsed:   r.duration(),
		OrderID:   r.str(),
		RecipeID:  r.str(),
		StationID: r.str(),
		Team:      r.str(),
		Points:    int(r.int()),
		Score:     int(r.int()),
		From:      r.str(),
		To:        r.str(),
		Reason:    r.str(),
	}
}
