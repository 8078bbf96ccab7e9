package testutil

import "github.com/roach88/evfsm/internal/fsm"

// State is the start/stop fixture state.
type State interface{ isState() }

// Idle is the initial state.
type Idle struct{}

// Running counts the ticks seen since it was entered.
type Running struct{ Ticks int }

func (Idle) isState()    {}
func (Running) isState() {}

// Command is a start/stop fixture command.
type Command interface{ isCommand() }

type Start struct{}
type Stop struct{}
type Tick struct{}

func (Start) isCommand() {}
func (Stop) isCommand()  {}
func (Tick) isCommand()  {}

// Event is a start/stop fixture event.
type Event interface{ isEvent() }

type Started struct{}
type Stopped struct{}

// Ticked carries the absolute tick count so it supersedes earlier ticks.
type Ticked struct{ Count int }

func (Started) isEvent() {}
func (Stopped) isEvent() {}
func (Ticked) isEvent()  {}

// Effects records every side effect the fixture performs.
type Effects struct {
	Commands       int
	EnteredRunning int
	ExitedRunning  int
	EnteredIdle    int

	// Inits holds the states passed to Init, one per machine start.
	Inits []State
}

// Init records the state reached after replay.
func (fx *Effects) Init(s State) {
	fx.Inits = append(fx.Inits, s)
}

// StartStopBuilder registers the fixture rules without building, so tests
// can add or omit rules.
//
//	Idle    --Start/Started--> Running
//	Running --Stop/Stopped-->  Idle
//	Running --Tick/Ticked-->   Running (mutation)
func StartStopBuilder(opts ...fsm.Option) *fsm.Builder[State, Command, Event, *Effects] {
	b := fsm.NewBuilder[State, Command, Event, *Effects](opts...)
	b.States(Idle{}, Running{})
	b.Commands(Start{}, Stop{}, Tick{})
	b.Events(Started{}, Stopped{}, Ticked{})

	fsm.OnCommand(b, func(_ Idle, _ Start, fx *Effects) (Started, bool) {
		fx.Commands++
		return Started{}, true
	})
	fsm.OnCommand(b, func(_ Running, _ Stop, fx *Effects) (Stopped, bool) {
		fx.Commands++
		return Stopped{}, true
	})
	fsm.OnCommand(b, func(s Running, _ Tick, fx *Effects) (Ticked, bool) {
		fx.Commands++
		return Ticked{Count: s.Ticks + 1}, true
	})
	fsm.IgnoreCommand[Running, Start](b)
	fsm.IgnoreCommand[Idle, Stop](b)
	fsm.IgnoreAnyCommand[Tick](b)

	fsm.OnEvent(b, func(_ Idle, _ Started) fsm.Outcome[State] {
		return fsm.Transition[State](Running{})
	})
	fsm.OnEvent(b, func(_ Running, _ Stopped) fsm.Outcome[State] {
		return fsm.Transition[State](Idle{})
	})
	fsm.OnEvent(b, func(_ Running, e Ticked) fsm.Outcome[State] {
		return fsm.Mutated[State](Running{Ticks: e.Count})
	})
	fsm.IgnoreEvent[Running, Started](b)
	fsm.IgnoreEvent[Idle, Stopped](b)
	fsm.IgnoreEvent[Idle, Ticked](b)

	fsm.OnEntry(b, func(_ Running, _ State, fx *Effects) { fx.EnteredRunning++ })
	fsm.OnExit(b, func(_ Running, _ State, fx *Effects) { fx.ExitedRunning++ })
	fsm.OnEntry(b, func(_ Idle, _ State, fx *Effects) { fx.EnteredIdle++ })

	return b
}

// StartStop builds the fixture under the exhaustive policy.
func StartStop() *fsm.Interpreter[State, Command, Event, *Effects] {
	in, err := StartStopBuilder(fsm.WithPolicy(fsm.Exhaustive), fsm.WithName("startstop")).Build()
	if err != nil {
		panic(err)
	}
	return in
}
