package machine

import (
	"fmt"

	"github.com/roach88/evfsm/internal/eventlog"
	"github.com/roach88/evfsm/internal/fsm"
)

// Phase is a machine lifecycle phase.
type Phase int32

const (
	Starting Phase = iota
	Replaying
	Serving
	Stopped
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Replaying:
		return "replaying"
	case Serving:
		return "serving"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// Mode selects what happens to the state when an append fails.
type Mode uint8

const (
	// Optimistic keeps the state change and reports the failure.
	Optimistic Mode = iota

	// Strict rolls the state back and publishes nothing.
	Strict
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}
	return "optimistic"
}

// ParseMode parses "optimistic" or "strict". The empty string is Optimistic.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "optimistic":
		return Optimistic, nil
	case "strict":
		return Strict, nil
	}
	return Optimistic, fmt.Errorf("unknown mode %q (expected optimistic or strict)", s)
}

// Input is one item on a machine's input channel: a command, or an event
// that happened elsewhere and only needs applying.
type Input[C, E any] struct {
	command  C
	event    E
	external bool
	reply    chan<- Result[E]
}

// Command wraps a command for the input channel.
func Command[C, E any](c C) Input[C, E] {
	return Input[C, E]{command: c}
}

// CommandWithReply wraps a command whose result is sent on reply.
// reply should be buffered; the machine sends exactly one Result.
func CommandWithReply[C, E any](c C, reply chan<- Result[E]) Input[C, E] {
	return Input[C, E]{command: c, reply: reply}
}

// External wraps an externally sourced event. It is applied without effects
// and is not appended to the log.
func External[C, E any](e E) Input[C, E] {
	return Input[C, E]{event: e, external: true}
}

// IsExternal reports whether the input carries an event rather than a command.
func (in Input[C, E]) IsExternal() bool { return in.external }

// Result is what serving one input produced.
type Result[E any] struct {
	// Event is the emitted (or externally supplied) event.
	Event E

	// Emitted is false when the command produced no event. That is not an
	// error; Err is reserved for infrastructure failures.
	Emitted bool

	// Offset is the log position of the appended event, 0 if none.
	Offset eventlog.Offset

	// Change is how the machine state changed as a result.
	Change fsm.Change

	Err error
}

// Notification is published to subscribers for every applied event.
type Notification[S, E any] struct {
	Offset eventlog.Offset
	Key    string
	Event  E

	// State is the machine state after the event was applied.
	State  S
	Change fsm.Change

	// Durable is true when the event was appended successfully.
	Durable bool

	// External marks events that arrived as facts rather than from commands.
	External bool
}

// Initializer is implemented by effect handlers that want to act on the
// state reached after replay, before the first input is served.
type Initializer[S any] interface {
	Init(state S)
}
