// Package demo is the turnstile machine driven by the evfsm demo command.
//
//	Locked   --Coin/CoinInserted--> Unlocked
//	Unlocked --Coin/CoinInserted--> Unlocked (mutation)
//	Unlocked --Push/Passed-->       Locked
//
// CoinInserted carries the running total and Passed carries nothing, so the
// latest of each is enough to rebuild the state after compaction.
package demo

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/evfsm/internal/eventlog"
	"github.com/roach88/evfsm/internal/fsm"
)

// Table is the CUE transition table the turnstile conforms to.
//
//go:embed turnstile.cue
var Table []byte

// State is a turnstile state.
type State interface{ isState() }

type Locked struct {
	Coins int `json:"coins"`
}

type Unlocked struct {
	Coins int `json:"coins"`
}

func (Locked) isState()   {}
func (Unlocked) isState() {}

// Command is a turnstile command.
type Command interface{ isCommand() }

type Coin struct{}
type Push struct{}

func (Coin) isCommand() {}
func (Push) isCommand() {}

// Event is a turnstile event.
type Event interface{ isEvent() }

type CoinInserted struct {
	Total int `json:"total" cbor:"1,keyasint"`
}

type Passed struct{}

func (CoinInserted) isEvent() {}
func (Passed) isEvent()       {}

// CompactionKey makes every CoinInserted supersede the previous one.
func (CoinInserted) CompactionKey() string { return "coins" }

// Gate is the physical side of the turnstile. It writes one line per
// actuation.
type Gate struct {
	out io.Writer
}

// NewGate returns a gate reporting to out.
func NewGate(out io.Writer) *Gate {
	return &Gate{out: out}
}

// Init reports the state reached after replay.
func (g *Gate) Init(s State) {
	fmt.Fprintf(g.out, "gate: restored %s\n", Describe(s))
}

func (g *Gate) lock()   { fmt.Fprintln(g.out, "gate: locked") }
func (g *Gate) unlock() { fmt.Fprintln(g.out, "gate: unlocked") }

// Turnstile builds the turnstile interpreter.
func Turnstile() (*fsm.Interpreter[State, Command, Event, *Gate], error) {
	b := fsm.NewBuilder[State, Command, Event, *Gate](
		fsm.WithName("turnstile"),
		fsm.WithPolicy(fsm.Exhaustive),
	)
	b.States(Locked{}, Unlocked{})
	b.Commands(Coin{}, Push{})
	b.Events(CoinInserted{}, Passed{})

	fsm.OnAnyCommand(b, func(s State, _ Coin, _ *Gate) (CoinInserted, bool) {
		return CoinInserted{Total: coins(s) + 1}, true
	})
	fsm.OnCommand(b, func(_ Unlocked, _ Push, _ *Gate) (Passed, bool) {
		return Passed{}, true
	})
	fsm.IgnoreCommand[Locked, Push](b)

	fsm.OnEvent(b, func(_ Locked, e CoinInserted) fsm.Outcome[State] {
		return fsm.Transition[State](Unlocked{Coins: e.Total})
	})
	fsm.OnEvent(b, func(_ Unlocked, e CoinInserted) fsm.Outcome[State] {
		return fsm.Mutated[State](Unlocked{Coins: e.Total})
	})
	fsm.OnEvent(b, func(s Unlocked, _ Passed) fsm.Outcome[State] {
		return fsm.Transition[State](Locked{Coins: s.Coins})
	})
	fsm.IgnoreEvent[Locked, Passed](b)

	fsm.OnEntry(b, func(_ Locked, _ State, g *Gate) { g.lock() })
	fsm.OnEntry(b, func(_ Unlocked, _ State, g *Gate) { g.unlock() })

	return b.Build()
}

// Codec returns the event codec for format, "json" or "cbor".
func Codec(format string) (eventlog.Codec[Event], error) {
	var (
		codec eventlog.Codec[Event]
		err   error
	)
	switch strings.ToLower(format) {
	case "", "json":
		codec, err = eventlog.JSON[Event](CoinInserted{}, Passed{})
	case "cbor":
		codec, err = eventlog.CBOR[Event](CoinInserted{}, Passed{})
	default:
		return nil, fmt.Errorf("unknown codec %q (want json or cbor)", format)
	}
	if err != nil {
		return nil, err
	}
	return codec, nil
}

// ParseCommand reads one command line: "coin" or "push".
func ParseCommand(line string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "coin":
		return Coin{}, nil
	case "push":
		return Push{}, nil
	default:
		return nil, fmt.Errorf("unknown command %q (want coin or push)", strings.TrimSpace(line))
	}
}

// Describe renders a state for humans.
func Describe(s State) string {
	switch s := s.(type) {
	case Locked:
		return fmt.Sprintf("locked (coins=%d)", s.Coins)
	case Unlocked:
		return fmt.Sprintf("unlocked (coins=%d)", s.Coins)
	default:
		return eventlog.VariantName(s)
	}
}

func coins(s State) int {
	switch s := s.(type) {
	case Locked:
		return s.Coins
	case Unlocked:
		return s.Coins
	}
	return 0
}
