package fsm

import (
	"fmt"
	"slices"
)

// Wildcard stands for "any state" in a declaration's From field.
const Wildcard = "*"

// Kind distinguishes command declarations from event declarations.
type Kind string

const (
	KindCommand Kind = "command"
	KindEvent   Kind = "event"
)

// Decl is one rule or ignore, named by variant.
type Decl struct {
	Kind   Kind   `json:"kind"`
	From   string `json:"from"`
	Input  string `json:"input"`
	Ignore bool   `json:"ignore,omitempty"`
}

// Table is the name-level view of a transition table. The Builder keeps one
// alongside its typed rules; declarative front-ends build one directly.
type Table struct {
	Name     string
	Policy   Policy
	States   []string
	Commands []string
	Events   []string
	Decls    []Decl

	// Entry and Exit list the states that carry hooks.
	Entry []string
	Exit  []string
}

// Resolution says how a (state, input) pair is handled.
type Resolution string

const (
	ResolvedRule      Resolution = "rule"
	ResolvedAnyRule   Resolution = "any-rule"
	ResolvedIgnore    Resolution = "ignore"
	ResolvedAnyIgnore Resolution = "any-ignore"
	ResolvedDefault   Resolution = "default"
)

// Pair is one cell of the coverage table.
type Pair struct {
	Kind       Kind       `json:"kind"`
	State      string     `json:"state"`
	Input      string     `json:"input"`
	Resolution Resolution `json:"resolution"`
}

type declKey struct {
	kind  Kind
	from  string
	input string
}

// Check returns every problem in the table: duplicate declarations,
// references to undeclared variants, and under Exhaustive, missing variant
// universes and uncovered pairs. A nil result means the table is valid.
func (t *Table) Check() []string {
	var problems []string

	if t.Policy == Exhaustive {
		if len(t.States) == 0 {
			problems = append(problems, "exhaustive policy requires declared states")
		}
		if len(t.Commands) == 0 {
			problems = append(problems, "exhaustive policy requires declared commands")
		}
		if len(t.Events) == 0 {
			problems = append(problems, "exhaustive policy requires declared events")
		}
	}

	problems = append(problems, duplicates("state", t.States)...)
	problems = append(problems, duplicates("command", t.Commands)...)
	problems = append(problems, duplicates("event", t.Events)...)

	seen := make(map[declKey]bool, len(t.Decls))
	for _, d := range t.Decls {
		k := declKey{d.Kind, d.From, d.Input}
		if seen[k] {
			problems = append(problems, fmt.Sprintf("duplicate %s declaration for (%s, %s)", d.Kind, d.From, d.Input))
		}
		seen[k] = true

		if d.From != Wildcard && !declared(t.States, d.From) {
			problems = append(problems, fmt.Sprintf("%s rule references undeclared state %s", d.Kind, d.From))
		}
		inputs := t.Commands
		if d.Kind == KindEvent {
			inputs = t.Events
		}
		if !declared(inputs, d.Input) {
			problems = append(problems, fmt.Sprintf("%s rule references undeclared %s %s", d.Kind, d.Kind, d.Input))
		}
	}

	problems = append(problems, hookProblems("entry", t.Entry, t.States)...)
	problems = append(problems, hookProblems("exit", t.Exit, t.States)...)

	if t.Policy == Exhaustive {
		for _, p := range t.Pairs() {
			if p.Resolution == ResolvedDefault {
				problems = append(problems, fmt.Sprintf("state %s has no rule or ignore for %s %s", p.State, p.Kind, p.Input))
			}
		}
	}

	return problems
}

// clone returns a table that shares no slices with t.
func (t *Table) clone() Table {
	c := *t
	c.States = slices.Clone(t.States)
	c.Commands = slices.Clone(t.Commands)
	c.Events = slices.Clone(t.Events)
	c.Decls = slices.Clone(t.Decls)
	c.Entry = slices.Clone(t.Entry)
	c.Exit = slices.Clone(t.Exit)
	return c
}

// Pairs resolves every (state, input) combination of the declared universes.
// Commands come first, then events, each in declaration order.
func (t *Table) Pairs() []Pair {
	index := make(map[declKey]Decl, len(t.Decls))
	for _, d := range t.Decls {
		k := declKey{d.Kind, d.From, d.Input}
		if _, ok := index[k]; !ok {
			index[k] = d
		}
	}

	var out []Pair
	for _, kind := range []Kind{KindCommand, KindEvent} {
		inputs := t.Commands
		if kind == KindEvent {
			inputs = t.Events
		}
		for _, s := range t.States {
			for _, in := range inputs {
				out = append(out, Pair{Kind: kind, State: s, Input: in, Resolution: resolve(index, kind, s, in)})
			}
		}
	}
	return out
}

func resolve(index map[declKey]Decl, kind Kind, state, input string) Resolution {
	if d, ok := index[declKey{kind, state, input}]; ok {
		if d.Ignore {
			return ResolvedIgnore
		}
		return ResolvedRule
	}
	if d, ok := index[declKey{kind, Wildcard, input}]; ok {
		if d.Ignore {
			return ResolvedAnyIgnore
		}
		return ResolvedAnyRule
	}
	return ResolvedDefault
}

func declared(universe []string, name string) bool {
	// An undeclared universe accepts anything.
	return len(universe) == 0 || slices.Contains(universe, name)
}

func duplicates(what string, names []string) []string {
	var problems []string
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			problems = append(problems, fmt.Sprintf("%s %s declared twice", what, n))
		}
		seen[n] = true
	}
	return problems
}

func hookProblems(what string, hooks, states []string) []string {
	var problems []string
	seen := make(map[string]bool, len(hooks))
	for _, h := range hooks {
		if seen[h] {
			problems = append(problems, fmt.Sprintf("duplicate %s hook for state %s", what, h))
		}
		seen[h] = true
		if !declared(states, h) {
			problems = append(problems, fmt.Sprintf("%s hook references undeclared state %s", what, h))
		}
	}
	return problems
}
