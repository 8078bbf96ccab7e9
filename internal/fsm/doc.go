// Package fsm interprets event-sourced state machines.
//
// A machine is described by four type parameters: the state sum type S, the
// command type C, the event type E and the effect handler H. Sum types are Go
// interfaces implemented by one concrete type per variant; dispatch is keyed
// by the dynamic type of the current state and of the input.
//
// Rules are registered on a Builder and validated once by Build:
//
//	b := fsm.NewBuilder[State, Command, Event, *Effects](fsm.WithPolicy(fsm.Exhaustive))
//	b.States(Idle{}, Running{})
//	b.Commands(Start{}, Stop{})
//	b.Events(Started{}, Stopped{})
//	fsm.OnCommand(b, func(s Idle, c Start, fx *Effects) (Started, bool) { return Started{}, true })
//	fsm.OnEvent(b, func(s Idle, e Started) fsm.Outcome[State] { return fsm.Transition[State](Running{}) })
//	fsm.OnEntry(b, func(to Running, from State, fx *Effects) { fx.Begin() })
//	in, err := b.Build()
//
// # Semantics
//
//   - A command runs its effect function, which may emit one event
//   - An emitted event is applied immediately by the matching event rule
//   - Exit and entry hooks fire exactly once per transition, never on mutation
//   - Events applied on their own (replay, external facts) never touch effects
//   - A (variant, input) rule beats a wildcard rule for the same input
//   - Undeclared pairs are no-ops under Lenient and build errors under Exhaustive
//
// A Mutated outcome whose value is a different variant than the current state
// counts as a transition. Transition to the same variant is a self-transition
// and fires both hooks.
//
// The interpreter does no I/O, holds no state of its own and cannot fail.
package fsm
