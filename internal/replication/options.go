package replication

import (
	"context"
	"math/rand"
	"time"

	"github.com/okian/reciperage/internal/adapters/mq/queue"
	"github.com/okian/reciperage/internal/clock"
	"github.com/okian/reciperage/internal/domain/dedupe"
	"github.com/okian/reciperage/internal/domain/match"
	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/pkg/logger"
)

const (
	defaultTickInterval = 50 * time.Millisecond
	defaultMaxTickStep  = 250 * time.Millisecond
)

// Option configures a Server.
type Option func(*Server)

// WithMatchOptions forwards options to the match the server builds.
func WithMatchOptions(opts ...match.Option) Option {
	return func(s *Server) { s.matchOpts = append(s.matchOpts, opts...) }
}

// WithSinks adds event sinks next to the server's own broadcast sink.
func WithSinks(sinks ...model.Sink) Option {
	return func(s *Server) { s.sinks = append(s.sinks, sinks...) }
}

// WithInbox replaces the command inbox.
func WithInbox(q *queue.InMemoryQueue[Envelope]) Option {
	return func(s *Server) {
		if q != nil {
			s.inbox = q
		}
	}
}

// WithDeduper replaces the command id deduper.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Server) {
		if d != nil {
			s.dedupe = d
		}
	}
}

// WithTransport sets where frames go. The default discards them.
func WithTransport(t Transport) Option {
	return func(s *Server) {
		if t != nil {
			s.transport = t
		}
	}
}

// WithClock sets the clock used for dt and the order generator.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithTickInterval sets how often Run steps the match.
func WithTickInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithMaxTickStep caps the dt of a single step after a stall.
func WithMaxTickStep(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.maxStep = d
		}
	}
}

// WithRand seeds the order generator's delays.
func WithRand(rng *rand.Rand) Option {
	return func(s *Server) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// OnGameOver registers fn to run once, on the tick goroutine, when the match ends.
func OnGameOver(fn func(ctx context.Context, result model.MatchResult)) Option {
	return func(s *Server) {
		if fn != nil {
			s.onGameOver = append(s.onGameOver, fn)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
