package fsm

// Change classifies the result of applying an event.
type Change uint8

const (
	// NoChange leaves the state untouched.
	NoChange Change = iota

	// Mutation replaces the state with an updated value of the same variant.
	Mutation

	// Transitioned moves the machine to another (or the same) variant and
	// fires lifecycle hooks.
	Transitioned
)

// String returns the change name.
func (c Change) String() string {
	switch c {
	case NoChange:
		return "no-change"
	case Mutation:
		return "mutated"
	case Transitioned:
		return "transitioned"
	}
	return "unknown"
}

// Outcome is what an apply function decided.
type Outcome[S any] struct {
	change Change
	next   S
}

// Unchanged reports that the event has no effect on the state.
func Unchanged[S any]() Outcome[S] {
	return Outcome[S]{}
}

// Mutated replaces the state with next without firing hooks.
func Mutated[S any](next S) Outcome[S] {
	return Outcome[S]{change: Mutation, next: next}
}

// Transition moves to next, firing exit and entry hooks.
func Transition[S any](next S) Outcome[S] {
	return Outcome[S]{change: Transitioned, next: next}
}

// Change returns the classification.
func (o Outcome[S]) Change() Change { return o.change }

// Next returns the resulting state, if the state changed.
func (o Outcome[S]) Next() (S, bool) {
	return o.next, o.change != NoChange
}

// IsTransition reports whether hooks fire for this outcome.
func (o Outcome[S]) IsTransition() bool { return o.change == Transitioned }

// String returns the change name.
func (o Outcome[S]) String() string { return o.change.String() }
