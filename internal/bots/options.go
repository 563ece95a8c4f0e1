package bots

import (
	"math/rand"
	"time"

	"github.com/okian/reciperage/pkg/logger"
)

const (
	defaultMinQuality = 0.6
	defaultMaxQuality = 1.0
	// frames a bot waits for a command's effect before trying again
	defaultStaleAfter = 40

	defaultStep        = 50 * time.Millisecond
	defaultDecideEvery = 100 * time.Millisecond
)

// Option configures a Bot.
type Option func(*Bot)

// WithShare makes the bot the index-th of total bots splitting the stations.
func WithShare(index, total int) Option {
	return func(b *Bot) {
		if total > 0 && index >= 0 {
			b.index, b.total = index%total, total
		}
	}
}

// WithRand sets the source of ingredient qualities.
func WithRand(rng *rand.Rand) Option {
	return func(b *Bot) { b.rng = rng }
}

// WithQuality sets the range ingredient qualities are drawn from.
func WithQuality(minQ, maxQ float64) Option {
	return func(b *Bot) {
		if minQ >= 0 && maxQ <= 1 && minQ <= maxQ {
			b.minQuality, b.maxQuality = minQ, maxQ
		}
	}
}

// WithStaleAfter sets how many frames a bot waits on an unanswered command.
func WithStaleAfter(frames uint64) Option {
	return func(b *Bot) {
		if frames > 0 {
			b.staleAfter = frames
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.logger = l
		}
	}
}
