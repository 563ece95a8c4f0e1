package order

import "math/rand"

// Option configures a Ledger.
type Option func(*Ledger)

// WithRand sets the recipe picker's source of randomness.
func WithRand(rng *rand.Rand) Option {
	return func(l *Ledger) {
		if rng != nil {
			l.rng = rng
		}
	}
}

// WithIDGenerator overrides uuid order ids.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// WithValidation selects permissive or exact delivery checks.
func WithValidation(v Validation) Option {
	return func(l *Ledger) {
		if v == Permissive || v == Exact {
			l.validation = v
		}
	}
}

// WithHistorySize bounds how many finished orders are remembered.
func WithHistorySize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.history = newHistory(n)
		}
	}
}
