package service

import (
	"time"

	"github.com/okian/reciperage/internal/adapters/persistence"
	repository "github.com/okian/reciperage/internal/adapters/repository"
	"github.com/okian/reciperage/internal/clock"
	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/order"
	"github.com/okian/reciperage/internal/replication"
	"github.com/okian/reciperage/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLevel sets the level played when StartMatch is given no level.
func WithLevel(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.level = id
		}
	}
}

// WithTickInterval sets the simulation tick period.
func WithTickInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithMaxTickStep caps dt after a stall.
func WithMaxTickStep(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxTickStep = d
		}
	}
}

// WithQueueSize bounds each match's command inbox.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many command ids each match remembers.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithStationWorkers ticks stations on a pool of n workers; 0 ticks inline.
func WithStationWorkers(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.stationWorkers = n
		}
	}
}

// WithValidation selects permissive or exact deliveries.
func WithValidation(v order.Validation) Option {
	return func(s *Service) { s.validation = v }
}

// WithBonuses enables time and combo bonuses. Zero points disables either.
func WithBonuses(timeBonus, comboBonus int, comboWindow time.Duration) Option {
	return func(s *Service) {
		s.timeBonus, s.comboBonus, s.comboWindow = timeBonus, comboBonus, comboWindow
	}
}

// WithStore sets where results and progression are persisted.
func WithStore(st persistence.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.store = st
		}
	}
}

// WithLeaderboard replaces the in-memory treap leaderboard.
func WithLeaderboard(lb repository.Store) Option {
	return func(s *Service) {
		if lb != nil {
			s.leaderboard = lb
		}
	}
}

// WithLeaderboardSnapshotInterval sets how often the leaderboard snapshot is rebuilt.
func WithLeaderboardSnapshotInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.snapshotInterval = d
		}
	}
}

// WithTransport sets where match frames go.
func WithTransport(t replication.Transport) Option {
	return func(s *Service) {
		if t != nil {
			s.transport = t
		}
	}
}

// WithSinks adds event sinks to every match, e.g. analytics.
func WithSinks(sinks ...model.Sink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

// WithClock sets the clock matches run on.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
