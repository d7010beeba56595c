package attr

// State represents the three-state availability of an attribute or
// expression result: either the value is Available (possibly itself
// absent, at the Option boundary), or the host cannot yet serve it in the
// current phase (Pending).
type State[T any] struct {
	pending   bool
	available T
}

// Available wraps a concrete value as an available state.
func Available[T any](v T) State[T] {
	return State[T]{available: v}
}

// Pending constructs the Pending state for T.
func Pending[T any]() State[T] {
	return State[T]{pending: true}
}

// IsPending reports whether the state is Pending.
func (s State[T]) IsPending() bool {
	return s.pending
}

// Value returns the available value and true, or the zero value and false
// if the state is Pending.
func (s State[T]) Value() (T, bool) {
	if s.pending {
		var zero T
		return zero, false
	}
	return s.available, true
}

// MustValue panics if the state is Pending; use only after a caller has
// already checked IsPending.
func (s State[T]) MustValue() T {
	if s.pending {
		panic("attr: MustValue called on Pending state")
	}
	return s.available
}
