package fsm

import (
	"fmt"
	"maps"
	"reflect"
)

// Option configures a Builder.
type Option func(*options)

type options struct {
	name   string
	policy Policy
}

// WithPolicy sets the coverage policy. The default is Lenient.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithName names the machine in construction errors and introspection.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

type pair struct {
	state reflect.Type
	input reflect.Type
}

type commandRule[S, C, E, H any] struct {
	ignore bool
	effect func(S, C, H) (E, bool)
}

type eventRule[S, E any] struct {
	ignore bool
	apply  func(S, E) Outcome[S]
}

type hook[S, H any] func(self S, other S, h H)

// Builder collects rules for an Interpreter.
// Registration never fails on its own; every problem is reported by Build.
type Builder[S, C, E, H any] struct {
	table    Table
	problems []string

	// names maps every variant type seen to its table name; owners catches
	// two distinct types sharing a name.
	names  map[reflect.Type]string
	owners map[string]reflect.Type

	commands    map[pair]commandRule[S, C, E, H]
	anyCommands map[reflect.Type]commandRule[S, C, E, H]
	events      map[pair]eventRule[S, E]
	anyEvents   map[reflect.Type]eventRule[S, E]
	entry       map[reflect.Type]hook[S, H]
	exit        map[reflect.Type]hook[S, H]

	stateT, commandT, eventT reflect.Type
}

// NewBuilder returns an empty builder.
func NewBuilder[S, C, E, H any](opts ...Option) *Builder[S, C, E, H] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Builder[S, C, E, H]{
		table:       Table{Name: o.name, Policy: o.policy},
		names:       make(map[reflect.Type]string),
		owners:      make(map[string]reflect.Type),
		commands:    make(map[pair]commandRule[S, C, E, H]),
		anyCommands: make(map[reflect.Type]commandRule[S, C, E, H]),
		events:      make(map[pair]eventRule[S, E]),
		anyEvents:   make(map[reflect.Type]eventRule[S, E]),
		entry:       make(map[reflect.Type]hook[S, H]),
		exit:        make(map[reflect.Type]hook[S, H]),
		stateT:      reflect.TypeFor[S](),
		commandT:    reflect.TypeFor[C](),
		eventT:      reflect.TypeFor[E](),
	}
}

// States declares the state variants, one sample value each.
func (b *Builder[S, C, E, H]) States(samples ...S) *Builder[S, C, E, H] {
	for _, s := range samples {
		if t := b.sampleType("state", any(s)); t != nil {
			b.table.States = append(b.table.States, b.name(t))
		}
	}
	return b
}

// Commands declares the command variants.
func (b *Builder[S, C, E, H]) Commands(samples ...C) *Builder[S, C, E, H] {
	for _, c := range samples {
		if t := b.sampleType("command", any(c)); t != nil {
			b.table.Commands = append(b.table.Commands, b.name(t))
		}
	}
	return b
}

// Events declares the event variants.
func (b *Builder[S, C, E, H]) Events(samples ...E) *Builder[S, C, E, H] {
	for _, e := range samples {
		if t := b.sampleType("event", any(e)); t != nil {
			b.table.Events = append(b.table.Events, b.name(t))
		}
	}
	return b
}

// Build validates the rules and returns the interpreter.
// All problems are returned together in a *ConstructionError.
func (b *Builder[S, C, E, H]) Build() (*Interpreter[S, C, E, H], error) {
	problems := append([]string(nil), b.problems...)
	problems = append(problems, b.table.Check()...)
	if len(problems) > 0 {
		return nil, &ConstructionError{Machine: b.table.Name, Problems: problems}
	}

	return &Interpreter[S, C, E, H]{
		table:       b.table.clone(),
		commands:    maps.Clone(b.commands),
		anyCommands: maps.Clone(b.anyCommands),
		events:      maps.Clone(b.events),
		anyEvents:   maps.Clone(b.anyEvents),
		entry:       maps.Clone(b.entry),
		exit:        maps.Clone(b.exit),
	}, nil
}

func (b *Builder[S, C, E, H]) sampleType(what string, v any) reflect.Type {
	t := reflect.TypeOf(v)
	if t == nil {
		b.problems = append(b.problems, fmt.Sprintf("nil %s sample", what))
	}
	return t
}

func (b *Builder[S, C, E, H]) name(t reflect.Type) string {
	if n, ok := b.names[t]; ok {
		return n
	}
	n := t.Name()
	if t.Kind() == reflect.Pointer {
		n = t.Elem().Name()
	}
	if prev, ok := b.owners[n]; ok && prev != t {
		b.problems = append(b.problems, fmt.Sprintf("variant name %s used by both %s and %s", n, prev, t))
	}
	b.owners[n] = t
	b.names[t] = n
	return n
}

// variant checks that T is a concrete type usable where the sum type want
// is expected, and returns it.
func (b *Builder[S, C, E, H]) variant(what string, t, want reflect.Type) (reflect.Type, bool) {
	if t.Kind() == reflect.Interface {
		b.problems = append(b.problems, fmt.Sprintf("%s %s is an interface, register a concrete variant", what, t))
		return t, false
	}
	if !t.AssignableTo(want) {
		b.problems = append(b.problems, fmt.Sprintf("%s %s is not assignable to %s", what, t, want))
		return t, false
	}
	return t, true
}

func (b *Builder[S, C, E, H]) emits(t reflect.Type) bool {
	if !t.AssignableTo(b.eventT) {
		b.problems = append(b.problems, fmt.Sprintf("event %s is not assignable to %s", t, b.eventT))
		return false
	}
	return true
}

func (b *Builder[S, C, E, H]) addCommand(from, cmd reflect.Type, rule commandRule[S, C, E, H]) {
	d := Decl{Kind: KindCommand, From: Wildcard, Input: b.name(cmd), Ignore: rule.ignore}
	if from == nil {
		if _, dup := b.anyCommands[cmd]; !dup {
			b.anyCommands[cmd] = rule
		}
	} else {
		d.From = b.name(from)
		if _, dup := b.commands[pair{from, cmd}]; !dup {
			b.commands[pair{from, cmd}] = rule
		}
	}
	b.table.Decls = append(b.table.Decls, d)
}

func (b *Builder[S, C, E, H]) addEvent(from, ev reflect.Type, rule eventRule[S, E]) {
	d := Decl{Kind: KindEvent, From: Wildcard, Input: b.name(ev), Ignore: rule.ignore}
	if from == nil {
		if _, dup := b.anyEvents[ev]; !dup {
			b.anyEvents[ev] = rule
		}
	} else {
		d.From = b.name(from)
		if _, dup := b.events[pair{from, ev}]; !dup {
			b.events[pair{from, ev}] = rule
		}
	}
	b.table.Decls = append(b.table.Decls, d)
}

// OnCommand registers the effect function for command Cmd in state From.
// The function returns the event to emit, or false to decline.
func OnCommand[From, Cmd, Ev, S, C, E, H any](b *Builder[S, C, E, H], effect func(From, Cmd, H) (Ev, bool)) {
	from, okFrom := b.variant("state", reflect.TypeFor[From](), b.stateT)
	cmd, okCmd := b.variant("command", reflect.TypeFor[Cmd](), b.commandT)
	okEv := b.emits(reflect.TypeFor[Ev]())
	if !okFrom || !okCmd || !okEv {
		return
	}
	b.addCommand(from, cmd, commandRule[S, C, E, H]{effect: func(s S, c C, h H) (E, bool) {
		ev, ok := effect(any(s).(From), any(c).(Cmd), h)
		if !ok {
			var zero E
			return zero, false
		}
		out, _ := any(ev).(E)
		return out, true
	}})
}

// OnAnyCommand registers the effect function for command Cmd in any state
// without a more specific rule.
func OnAnyCommand[Cmd, Ev, S, C, E, H any](b *Builder[S, C, E, H], effect func(S, Cmd, H) (Ev, bool)) {
	cmd, okCmd := b.variant("command", reflect.TypeFor[Cmd](), b.commandT)
	okEv := b.emits(reflect.TypeFor[Ev]())
	if !okCmd || !okEv {
		return
	}
	b.addCommand(nil, cmd, commandRule[S, C, E, H]{effect: func(s S, c C, h H) (E, bool) {
		ev, ok := effect(s, any(c).(Cmd), h)
		if !ok {
			var zero E
			return zero, false
		}
		out, _ := any(ev).(E)
		return out, true
	}})
}

// OnEvent registers the apply function for event Ev in state From.
// The function may return any variant as the next state.
func OnEvent[From, Ev, S, C, E, H any](b *Builder[S, C, E, H], apply func(From, Ev) Outcome[S]) {
	from, okFrom := b.variant("state", reflect.TypeFor[From](), b.stateT)
	ev, okEv := b.variant("event", reflect.TypeFor[Ev](), b.eventT)
	if !okFrom || !okEv {
		return
	}
	b.addEvent(from, ev, eventRule[S, E]{apply: func(s S, e E) Outcome[S] {
		return apply(any(s).(From), any(e).(Ev))
	}})
}

// OnAnyEvent registers the apply function for event Ev in any state without
// a more specific rule.
func OnAnyEvent[Ev, S, C, E, H any](b *Builder[S, C, E, H], apply func(S, Ev) Outcome[S]) {
	ev, ok := b.variant("event", reflect.TypeFor[Ev](), b.eventT)
	if !ok {
		return
	}
	b.addEvent(nil, ev, eventRule[S, E]{apply: func(s S, e E) Outcome[S] {
		return apply(s, any(e).(Ev))
	}})
}

// IgnoreCommand declares that Cmd is deliberately a no-op in state From.
func IgnoreCommand[From, Cmd, S, C, E, H any](b *Builder[S, C, E, H]) {
	from, okFrom := b.variant("state", reflect.TypeFor[From](), b.stateT)
	cmd, okCmd := b.variant("command", reflect.TypeFor[Cmd](), b.commandT)
	if okFrom && okCmd {
		b.addCommand(from, cmd, commandRule[S, C, E, H]{ignore: true})
	}
}

// IgnoreAnyCommand declares that Cmd is a no-op in every state without a
// more specific rule.
func IgnoreAnyCommand[Cmd, S, C, E, H any](b *Builder[S, C, E, H]) {
	if cmd, ok := b.variant("command", reflect.TypeFor[Cmd](), b.commandT); ok {
		b.addCommand(nil, cmd, commandRule[S, C, E, H]{ignore: true})
	}
}

// IgnoreEvent declares that Ev is deliberately a no-op in state From.
func IgnoreEvent[From, Ev, S, C, E, H any](b *Builder[S, C, E, H]) {
	from, okFrom := b.variant("state", reflect.TypeFor[From](), b.stateT)
	ev, okEv := b.variant("event", reflect.TypeFor[Ev](), b.eventT)
	if okFrom && okEv {
		b.addEvent(from, ev, eventRule[S, E]{ignore: true})
	}
}

// IgnoreAnyEvent declares that Ev is a no-op in every state without a more
// specific rule.
func IgnoreAnyEvent[Ev, S, C, E, H any](b *Builder[S, C, E, H]) {
	if ev, ok := b.variant("event", reflect.TypeFor[Ev](), b.eventT); ok {
		b.addEvent(nil, ev, eventRule[S, E]{ignore: true})
	}
}

// OnEntry registers the hook run when the machine transitions into To.
// The hook receives the state being left.
func OnEntry[To, S, C, E, H any](b *Builder[S, C, E, H], fn func(to To, from S, h H)) {
	to, ok := b.variant("state", reflect.TypeFor[To](), b.stateT)
	if !ok {
		return
	}
	b.table.Entry = append(b.table.Entry, b.name(to))
	if _, dup := b.entry[to]; !dup {
		b.entry[to] = func(self, other S, h H) { fn(any(self).(To), other, h) }
	}
}

// OnExit registers the hook run when the machine transitions out of From.
// The hook receives the state being entered.
func OnExit[From, S, C, E, H any](b *Builder[S, C, E, H], fn func(from From, to S, h H)) {
	from, ok := b.variant("state", reflect.TypeFor[From](), b.stateT)
	if !ok {
		return
	}
	b.table.Exit = append(b.table.Exit, b.name(from))
	if _, dup := b.exit[from]; !dup {
		b.exit[from] = func(self, other S, h H) { fn(any(self).(From), other, h) }
	}
}
