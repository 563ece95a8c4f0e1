// Package order keeps the ledger of active customer orders for a match.
package order

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/recipe"
)

// Status is the lifecycle position of an order. An order holds exactly one status.
type Status uint8

const (
	Active Status = iota
	Delivered
	Failed
	Expired
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	case Expired:
		return "expired"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Validation selects how deliveries are checked against a recipe.
type Validation string

const (
	// Permissive accepts a delivery when every delivered ingredient is one of the
	// recipe's required types. Extra or duplicate ids pass and missing ones are not checked.
	Permissive Validation = "permissive"
	// Exact requires the delivered multiset to equal the recipe's required multiset.
	Exact Validation = "exact"
)

// Order is a customer request for a recipe.
type Order struct {
	ID            string
	RecipeID      string
	TimeRemaining time.Duration
	TimeLimit     time.Duration
	Seq           uint64
}

// Outcome is the result of a delivery attempt.
type Outcome struct {
	Order    Order
	Accepted bool
	Points   int
	Reason   string
}

// Ledger owns the active orders of a match. Not safe for concurrent use.
type Ledger struct {
	pool       []*recipe.Recipe
	recipes    map[string]*recipe.Recipe
	max        int
	validation Validation
	rng        *rand.Rand
	newID      func() string
	history    *history

	active []Order
	seq    uint64
}

// NewLedger creates a ledger drawing from pool.
func NewLedger(pool []*recipe.Recipe, maxSimultaneous int, opts ...Option) *Ledger {
	l := &Ledger{
		pool:       pool,
		recipes:    make(map[string]*recipe.Recipe, len(pool)),
		max:        maxSimultaneous,
		validation: Permissive,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // gameplay randomness
		newID:      func() string { return uuid.NewString() },
		history:    newHistory(defaultHistorySize),
	}
	for _, r := range pool {
		l.recipes[r.ID] = r
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Spawn creates an order for a random recipe, unless the ledger is full or has no recipes.
func (l *Ledger) Spawn() (Order, bool) {
	if len(l.active) >= l.max || len(l.pool) == 0 {
		return Order{}, false
	}
	r := l.pool[l.rng.Intn(len(l.pool))]
	l.seq++
	o := Order{
		ID:            l.newID(),
		RecipeID:      r.ID,
		TimeRemaining: r.TimeLimit,
		TimeLimit:     r.TimeLimit,
		Seq:           l.seq,
	}
	l.active = append(l.active, o)
	l.history.put(o.ID, Active)
	return o, true
}

// TickExpiry counts every active order down by dt in insertion order and removes the
// ones that reached zero. Each expired order is returned exactly once.
func (l *Ledger) TickExpiry(dt time.Duration) []Order {
	if dt <= 0 || len(l.active) == 0 {
		return nil
	}
	var expired []Order
	kept := l.active[:0]
	for _, o := range l.active {
		o.TimeRemaining -= dt
		if o.TimeRemaining <= 0 {
			o.TimeRemaining = 0
			expired = append(expired, o)
			l.history.put(o.ID, Expired)
			continue
		}
		kept = append(kept, o)
	}
	l.active = kept
	return expired
}

// Deliver checks ingredientIDs against the order's recipe. The order leaves the ledger
// whether the delivery is accepted or not. Unknown ids return ErrOrderNotFound and
// change nothing.
func (l *Ledger) Deliver(orderID string, ingredientIDs []string) (Outcome, error) {
	idx := l.indexOf(orderID)
	if idx < 0 {
		if st, ok := l.history.get(orderID); ok {
			return Outcome{}, fmt.Errorf("%w: %s is %s", ErrOrderNotFound, orderID, st)
		}
		return Outcome{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	o := l.active[idx]
	l.active = append(l.active[:idx], l.active[idx+1:]...)

	r := l.recipes[o.RecipeID]
	out := Outcome{Order: o}
	if reason := l.check(r, ingredientIDs); reason != "" {
		out.Reason = reason
		l.history.put(o.ID, Failed)
		return out, nil
	}
	out.Accepted = true
	out.Points = r.Reward
	l.history.put(o.ID, Delivered)
	return out, nil
}

func (l *Ledger) check(r *recipe.Recipe, ids []string) string {
	if len(ids) == 0 {
		return "nothing delivered"
	}
	// a plated dish stands for the whole recipe under either policy
	if len(ids) == 1 && ids[0] == r.ID {
		return ""
	}
	if l.validation == Exact {
		want := map[model.IngredientType]int{}
		for _, t := range r.RequiredTypes() {
			want[t]++
		}
		for _, id := range ids {
			want[model.IngredientType(id)]--
		}
		for t, n := range want {
			if n != 0 {
				return fmt.Sprintf("ingredient %s does not match the recipe", t)
			}
		}
		return ""
	}
	for _, id := range ids {
		if !r.Requires(model.IngredientType(id)) {
			return fmt.Sprintf("ingredient %s is not part of %s", id, r.ID)
		}
	}
	return ""
}

func (l *Ledger) indexOf(id string) int {
	for i := range l.active {
		if l.active[i].ID == id {
			return i
		}
	}
	return -1
}

// Active returns a copy of the active orders in insertion order.
func (l *Ledger) Active() []Order {
	out := make([]Order, len(l.active))
	copy(out, l.active)
	return out
}

// Len returns the number of active orders.
func (l *Ledger) Len() int { return len(l.active) }

// Status reports the last known status of an order id.
func (l *Ledger) Status(id string) (Status, bool) { return l.history.get(id) }

// Recipe resolves a recipe from the ledger's pool.
func (l *Ledger) Recipe(id string) (*recipe.Recipe, bool) {
	r, ok := l.recipes[id]
	return r, ok
}

// Clear drops every active order, e.g. at game over.
func (l *Ledger) Clear() { l.active = l.active[:0] }
