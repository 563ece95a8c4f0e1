// Package model contains domain models passed between layers.
package model

import (
	"context"
	"time"
)

// EventType names a gameplay notification.
type EventType string

// Gameplay notifications emitted by a match.
const (
	EventOrderSpawned        EventType = "order_spawned"
	EventOrderExpired        EventType = "order_expired"
	EventOrderDelivered      EventType = "order_delivered"
	EventOrderFailed         EventType = "order_failed"
	EventStationStateChanged EventType = "station_state_changed"
	EventDishPlated          EventType = "dish_plated"
	EventScoreChanged        EventType = "score_changed"
	EventPhaseChanged        EventType = "phase_changed"
)

// Event is a flat notification record. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType     `json:"type"`
	MatchID   string        `json:"match_id"`
	Elapsed   time.Duration `json:"elapsed"` // match time when the event happened
	OrderID   string        `json:"order_id,omitempty"`
	RecipeID  string        `json:"recipe_id,omitempty"`
	StationID string        `json:"station_id,omitempty"`
	Team      string        `json:"team,omitempty"`
	Points    int           `json:"points,omitempty"`
	Score     int           `json:"score,omitempty"`
	From      string        `json:"from,omitempty"`
	To        string        `json:"to,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// Sink receives events. Implementations must not block the caller for long;
// the match publishes from its tick goroutine.
type Sink interface {
	Publish(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, e Event) { f(ctx, e) }

// Sinks fans an event out to every member in order.
type Sinks []Sink

// Publish delivers e to every non-nil sink.
func (s Sinks) Publish(ctx context.Context, e Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(ctx, e)
		}
	}
}

// Recorder is a Sink that keeps every event; useful in tests and headless runs.
type Recorder struct {
	Events []Event
}

// Publish appends e.
func (r *Recorder) Publish(_ context.Context, e Event) { r.Events = append(r.Events, e) }

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
