// Package table loads declarative transition tables written in CUE and checks
// them with the interpreter's coverage rules.
//
// A table file defines a top-level "machine" struct:
//
//	machine: {
//		name:     "turnstile"
//		policy:   "exhaustive"
//		states:   ["Locked", "Unlocked"]
//		commands: ["Coin", "Push"]
//		events:   ["CoinInserted", "Passed"]
//		on_command: [
//			{command: "Coin", emits: "CoinInserted"},
//			{from: "Unlocked", command: "Push", emits: "Passed"},
//			{from: "Locked", command: "Push", ignore: true},
//		]
//		...
//	}
//
// A rule without "from" applies to any state.
package table

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/evfsm/internal/fsm"
)

//go:embed schema.cue
var schemaCUE string

// CommandRule is one command declaration.
type CommandRule struct {
	From    string `json:"from"`
	Command string `json:"command"`
	Emits   string `json:"emits,omitempty"`
	Ignore  bool   `json:"ignore,omitempty"`
}

// EventRule is one event declaration.
type EventRule struct {
	From   string `json:"from"`
	Event  string `json:"event"`
	To     string `json:"to,omitempty"`
	Change string `json:"change,omitempty"`
	Ignore bool   `json:"ignore,omitempty"`
}

// Definition is a loaded transition table.
type Definition struct {
	Table    fsm.Table
	Commands []CommandRule
	Events   []EventRule

	// Pos is where the machine struct was declared.
	Pos token.Pos
}

// LoadError is a failure to read or decode a table.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile loads a table from a single CUE file, or from the CUE package in
// path when it is a directory.
func LoadFile(path string) (*Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Field: "path", Message: err.Error()}
	}

	ctx := cuecontext.New()
	var value cue.Value
	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return nil, &LoadError{Field: "path", Message: "no CUE instances loaded"}
		}
		if err := instances[0].Err; err != nil {
			return nil, formatCUEError(err)
		}
		value = ctx.BuildInstance(instances[0])
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Field: "path", Message: err.Error()}
		}
		value = ctx.CompileBytes(data, cue.Filename(path))
	}
	return decode(ctx, value)
}

// LoadBytes loads a table from CUE source. filename is used in positions.
func LoadBytes(filename string, src []byte) (*Definition, error) {
	ctx := cuecontext.New()
	return decode(ctx, ctx.CompileBytes(src, cue.Filename(filename)))
}

func decode(ctx *cue.Context, value cue.Value) (*Definition, error) {
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	machine := value.LookupPath(cue.ParsePath("machine"))
	if !machine.Exists() {
		return nil, &LoadError{Field: "machine", Message: "machine is required", Pos: value.Pos()}
	}

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Machine")).Unify(machine)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var raw struct {
		Name      string        `json:"name"`
		Policy    string        `json:"policy"`
		States    []string      `json:"states"`
		Commands  []string      `json:"commands"`
		Events    []string      `json:"events"`
		OnCommand []CommandRule `json:"on_command"`
		OnEvent   []EventRule   `json:"on_event"`
		Entry     []string      `json:"entry"`
		Exit      []string      `json:"exit"`
	}
	if err := unified.Decode(&raw); err != nil {
		return nil, formatCUEError(err)
	}

	policy, err := fsm.ParsePolicy(raw.Policy)
	if err != nil {
		return nil, &LoadError{Field: "policy", Message: err.Error(), Pos: machine.LookupPath(cue.ParsePath("policy")).Pos()}
	}

	def := &Definition{
		Table: fsm.Table{
			Name:     raw.Name,
			Policy:   policy,
			States:   raw.States,
			Commands: raw.Commands,
			Events:   raw.Events,
			Entry:    raw.Entry,
			Exit:     raw.Exit,
		},
		Commands: raw.OnCommand,
		Events:   raw.OnEvent,
		Pos:      machine.Pos(),
	}
	for _, r := range raw.OnCommand {
		def.Table.Decls = append(def.Table.Decls, fsm.Decl{Kind: fsm.KindCommand, From: r.From, Input: r.Command, Ignore: r.Ignore})
	}
	for _, r := range raw.OnEvent {
		def.Table.Decls = append(def.Table.Decls, fsm.Decl{Kind: fsm.KindEvent, From: r.From, Input: r.Event, Ignore: r.Ignore})
	}
	return def, nil
}

// Check returns every problem in the definition: the coverage problems of
// its table plus rule targets that name undeclared variants.
func (d *Definition) Check() []string {
	problems := d.Table.Check()

	for _, r := range d.Commands {
		switch {
		case r.Ignore && r.Emits != "":
			problems = append(problems, fmt.Sprintf("command rule (%s, %s) both ignores and emits %s", r.From, r.Command, r.Emits))
		case !r.Ignore && r.Emits == "":
			problems = append(problems, fmt.Sprintf("command rule (%s, %s) must emit an event or ignore", r.From, r.Command))
		case r.Emits != "" && len(d.Table.Events) > 0 && !slices.Contains(d.Table.Events, r.Emits):
			problems = append(problems, fmt.Sprintf("command rule (%s, %s) emits undeclared event %s", r.From, r.Command, r.Emits))
		}
	}
	for _, r := range d.Events {
		if r.To != "" && len(d.Table.States) > 0 && !slices.Contains(d.Table.States, r.To) {
			problems = append(problems, fmt.Sprintf("event rule (%s, %s) targets undeclared state %s", r.From, r.Event, r.To))
		}
		if r.Ignore && (r.To != "" || r.Change != "") {
			problems = append(problems, fmt.Sprintf("event rule (%s, %s) both ignores and changes state", r.From, r.Event))
		}
	}
	return problems
}

// Conforms compares the definition's coverage with the pairs an interpreter
// resolved and returns one line per disagreement.
func (d *Definition) Conforms(pairs []fsm.Pair) []string {
	want := make(map[fsm.Pair]bool)
	for _, p := range d.Table.Pairs() {
		want[p] = true
	}
	got := make(map[fsm.Pair]bool)
	for _, p := range pairs {
		got[p] = true
	}

	var diffs []string
	for _, p := range d.Table.Pairs() {
		if !got[p] {
			diffs = append(diffs, fmt.Sprintf("table has %s %s in %s as %s, machine differs", p.Kind, p.Input, p.State, p.Resolution))
		}
	}
	for _, p := range pairs {
		if !want[p] {
			diffs = append(diffs, fmt.Sprintf("machine has %s %s in %s as %s, table differs", p.Kind, p.Input, p.State, p.Resolution))
		}
	}
	return diffs
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &LoadError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &LoadError{Field: "cue", Message: first.Error()}
}
