package match

import (
	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/order"
	"github.com/okian/reciperage/internal/domain/scoring"
	"github.com/okian/reciperage/internal/domain/station"
	"github.com/okian/reciperage/pkg/logger"
)

// Option configures a Match.
type Option func(*Match)

// WithSink sets where gameplay events go.
func WithSink(s model.Sink) Option {
	return func(m *Match) {
		if s != nil {
			m.sink = s
		}
	}
}

// WithTicker replaces the inline station ticker, e.g. with a worker pool.
func WithTicker(t StationTicker) Option {
	return func(m *Match) {
		if t != nil {
			m.ticker = t
		}
	}
}

// WithOrderOptions forwards options to the order ledger.
func WithOrderOptions(opts ...order.Option) Option {
	return func(m *Match) { m.orderOpts = append(m.orderOpts, opts...) }
}

// WithBonus sets the delivery bonus policy.
func WithBonus(b *scoring.Bonus) Option {
	return func(m *Match) {
		if b != nil {
			m.bonus = b
		}
	}
}

// WithStationConfig sets the quality drift of every station.
func WithStationConfig(cfg station.Config) Option {
	return func(m *Match) { m.stationOpts = append(m.stationOpts, station.WithConfig(cfg)) }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Match) {
		if l != nil {
			m.logger = l
		}
	}
}
