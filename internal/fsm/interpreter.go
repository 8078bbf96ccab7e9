package fsm

import "reflect"

// Interpreter dispatches commands and events against a validated table.
// It is immutable and safe for concurrent use.
type Interpreter[S, C, E, H any] struct {
	table       Table
	commands    map[pair]commandRule[S, C, E, H]
	anyCommands map[reflect.Type]commandRule[S, C, E, H]
	events      map[pair]eventRule[S, E]
	anyEvents   map[reflect.Type]eventRule[S, E]
	entry       map[reflect.Type]hook[S, H]
	exit        map[reflect.Type]hook[S, H]
}

// Name returns the machine name given to the builder.
func (in *Interpreter[S, C, E, H]) Name() string { return in.table.Name }

// Policy returns the coverage policy the table was built with.
func (in *Interpreter[S, C, E, H]) Policy() Policy { return in.table.Policy }

// Step processes one command.
//
// The effect function runs first and may emit an event. An emitted event is
// applied to s and, when that is a transition, the exit hook of s and the
// entry hook of the new state run once each, in that order.
func (in *Interpreter[S, C, E, H]) Step(s S, c C, h H) (E, bool, Outcome[S]) {
	ev, emitted, out := in.Decide(s, c, h)
	if emitted {
		in.FireHooks(s, out, h)
	}
	return ev, emitted, out
}

// Decide is Step without the hooks. Callers that must make the event
// durable before the transition counts call FireHooks once it does.
func (in *Interpreter[S, C, E, H]) Decide(s S, c C, h H) (E, bool, Outcome[S]) {
	var zero E

	rule, ok := in.command(s, c)
	if !ok || rule.ignore {
		return zero, false, Unchanged[S]()
	}

	ev, emitted := rule.effect(s, c, h)
	if !emitted {
		return zero, false, Unchanged[S]()
	}
	return ev, true, in.OnEvent(s, ev)
}

// FireHooks runs the exit hook of from and the entry hook of the next
// state when out is a transition. Other outcomes run nothing.
func (in *Interpreter[S, C, E, H]) FireHooks(from S, out Outcome[S], h H) {
	if out.IsTransition() {
		in.fireHooks(from, out.next, h)
	}
}

// OnEvent applies one event without running effects or hooks.
// This is the path replay takes.
func (in *Interpreter[S, C, E, H]) OnEvent(s S, e E) Outcome[S] {
	rule, ok := in.event(s, e)
	if !ok || rule.ignore {
		return Unchanged[S]()
	}
	return classify(s, rule.apply(s, e))
}

// Apply applies e and returns the resulting state along with the outcome.
func (in *Interpreter[S, C, E, H]) Apply(s S, e E) (S, Outcome[S]) {
	out := in.OnEvent(s, e)
	if next, ok := out.Next(); ok {
		return next, out
	}
	return s, out
}

// Pairs returns the resolved coverage table of the declared variants.
func (in *Interpreter[S, C, E, H]) Pairs() []Pair {
	return in.table.Pairs()
}

// Table returns a copy of the name-level table.
func (in *Interpreter[S, C, E, H]) Table() Table {
	return in.table.clone()
}

func (in *Interpreter[S, C, E, H]) command(s S, c C) (commandRule[S, C, E, H], bool) {
	st, ct := reflect.TypeOf(any(s)), reflect.TypeOf(any(c))
	if rule, ok := in.commands[pair{st, ct}]; ok {
		return rule, true
	}
	rule, ok := in.anyCommands[ct]
	return rule, ok
}

func (in *Interpreter[S, C, E, H]) event(s S, e E) (eventRule[S, E], bool) {
	st, et := reflect.TypeOf(any(s)), reflect.TypeOf(any(e))
	if rule, ok := in.events[pair{st, et}]; ok {
		return rule, true
	}
	rule, ok := in.anyEvents[et]
	return rule, ok
}

func (in *Interpreter[S, C, E, H]) fireHooks(from, to S, h H) {
	if exit, ok := in.exit[reflect.TypeOf(any(from))]; ok {
		exit(from, to, h)
	}
	if entry, ok := in.entry[reflect.TypeOf(any(to))]; ok {
		entry(to, from, h)
	}
}

// classify turns a mutation into a transition when the variant changed.
func classify[S any](current S, out Outcome[S]) Outcome[S] {
	if out.change == Mutation && reflect.TypeOf(any(current)) != reflect.TypeOf(any(out.next)) {
		out.change = Transitioned
	}
	return out
}
