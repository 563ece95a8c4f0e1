package order

import (
	"context"
	"math/rand"
	"time"

	"github.com/okian/reciperage/internal/clock"
)

// RequestFunc asks the match owner to spawn an order on its own goroutine.
// It returns false once the match no longer accepts orders, which ends the loop.
type RequestFunc func(ctx context.Context) bool

// Generator periodically requests new orders. It never touches the ledger itself;
// the owner applies each request on the tick, where capacity is enforced.
type Generator struct {
	clock    clock.Clock
	minDelay time.Duration
	maxDelay time.Duration
	rng      *rand.Rand
	request  RequestFunc

	armed bool
	wait  time.Duration
}

// NewGenerator creates a generator waiting a uniform delay in [minDelay, maxDelay] between requests.
func NewGenerator(c clock.Clock, minDelay, maxDelay time.Duration, rng *rand.Rand, request RequestFunc) *Generator {
	if c == nil {
		c = clock.RealClock{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // gameplay randomness
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Generator{clock: c, minDelay: minDelay, maxDelay: maxDelay, rng: rng, request: request}
}

// Run requests an order immediately and then after every delay until ctx is
// cancelled or the owner declines.
func (g *Generator) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !g.request(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.clock.After(g.nextDelay()):
		}
	}
}

// Step drives the generator from the caller's loop instead of Run. The first
// call requests an order; later calls count dt down and request again each
// time a delay elapses. It returns false once the owner declines.
// Step and Run must not be mixed on one generator.
func (g *Generator) Step(ctx context.Context, dt time.Duration) bool {
	if !g.armed {
		g.armed = true
		if !g.request(ctx) {
			return false
		}
		g.wait = g.nextDelay()
		return true
	}
	g.wait -= dt
	for g.wait <= 0 {
		if !g.request(ctx) {
			return false
		}
		d := g.nextDelay()
		if d <= 0 {
			g.wait = 0
			break
		}
		g.wait += d
	}
	return true
}

func (g *Generator) nextDelay() time.Duration {
	span := g.maxDelay - g.minDelay
	if span <= 0 {
		return g.minDelay
	}
	return g.minDelay + time.Duration(g.rng.Int63n(int64(span)+1))
}
