// Package replication keeps clients in sync with the authoritative match.
//
// The server side wraps every replicated value in a Var, collects the
// resulting changes each tick and broadcasts them as binary deltas. Clients
// hold a read-only Mirror that applies snapshots and deltas in sequence.
package replication

// Var is an observable value. Set notifies observers only when the value changes.
type Var[T any] struct {
	value     T
	equal     func(a, b T) bool
	observers []func(old, new T)
}

// NewVar creates a Var compared with ==.
func NewVar[T comparable](initial T) *Var[T] {
	return &Var[T]{value: initial, equal: func(a, b T) bool { return a == b }}
}

// NewVarFunc creates a Var with a custom equality, for values that are not comparable.
func NewVarFunc[T any](initial T, equal func(a, b T) bool) *Var[T] {
	return &Var[T]{value: initial, equal: equal}
}

// Get returns the current value.
func (v *Var[T]) Get() T { return v.value }

// Set stores val and reports whether it differed from the previous value.
func (v *Var[T]) Set(val T) bool {
	if v.equal(v.value, val) {
		return false
	}
	old := v.value
	v.value = val
	for _, fn := range v.observers {
		fn(old, val)
	}
	return true
}

// OnChange registers fn to run after every effective Set.
func (v *Var[T]) OnChange(fn func(old, new T)) {
	v.observers = append(v.observers, fn)
}
