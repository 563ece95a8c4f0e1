package scoring

import (
	"math"
	"time"
)

// Option configures a Bonus.
type Option func(*Bonus)

// WithTimeBonus awards up to points for orders delivered with time to spare.
func WithTimeBonus(points int) Option {
	return func(b *Bonus) {
		if points > 0 {
			b.timeBonus = points
		}
	}
}

// WithComboBonus awards points per chained delivery landing within window of the previous one.
func WithComboBonus(points int, window time.Duration) Option {
	return func(b *Bonus) {
		if points > 0 && window > 0 {
			b.comboBonus = points
			b.comboWindow = window
		}
	}
}

// Bonus tracks per-team combos and computes the extra points of a delivery.
// With no options every bonus is zero. Not safe for concurrent use; the match owns it.
type Bonus struct {
	timeBonus   int
	comboBonus  int
	comboWindow time.Duration

	combo map[string]int
	last  map[string]time.Duration
}

// NewBonus creates a bonus policy.
func NewBonus(opts ...Option) *Bonus {
	b := &Bonus{
		combo: make(map[string]int),
		last:  make(map[string]time.Duration),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Delivered records a successful delivery by team at match time now and returns the bonus points.
// remaining and limit are the order's countdown at delivery and its original time limit.
func (b *Bonus) Delivered(team string, now, remaining, limit time.Duration) int {
	points := 0
	if b.timeBonus > 0 && limit > 0 && remaining > 0 {
		points += int(math.Round(float64(b.timeBonus) * float64(remaining) / float64(limit)))
	}

	last, seen := b.last[team]
	if seen && b.comboWindow > 0 && now-last <= b.comboWindow {
		b.combo[team]++
	} else {
		b.combo[team] = 1
	}
	b.last[team] = now
	points += (b.combo[team] - 1) * b.comboBonus
	return points
}

// Break resets the combo of team, e.g. after a failed delivery.
func (b *Bonus) Break(team string) {
	delete(b.combo, team)
	delete(b.last, team)
}

// Combo returns the current chain length of team.
func (b *Bonus) Combo(team string) int { return b.combo[team] }
