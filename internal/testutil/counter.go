package testutil

import (
	"maps"

	"github.com/roach88/evfsm/internal/fsm"
)

// Counter is a single-variant state holding named integer values.
// Apply functions never modify a Counter in place.
type Counter struct {
	Values map[string]int
}

// Get returns the value stored under key.
func (c Counter) Get(key string) int { return c.Values[key] }

func (c Counter) with(key string, v int) Counter {
	next := Counter{Values: maps.Clone(c.Values)}
	if next.Values == nil {
		next.Values = make(map[string]int)
	}
	next.Values[key] = v
	return next
}

// CounterCommand is a counter fixture command.
type CounterCommand interface{ isCounterCommand() }

// Set stores an absolute value.
type Set struct {
	Key   string
	Value int
}

// Incr adds one to the value under Key.
type Incr struct{ Key string }

func (Set) isCounterCommand()  {}
func (Incr) isCounterCommand() {}

// ValueSet is the only counter event. It is keyed by Key so compaction keeps
// the newest value per key.
type ValueSet struct {
	Key   string `json:"key" cbor:"1,keyasint"`
	Value int    `json:"value" cbor:"2,keyasint"`
}

// CompactionKey implements eventlog.Keyed.
func (v ValueSet) CompactionKey() string { return v.Key }

// CounterEffects counts effect invocations.
type CounterEffects struct {
	Calls int
}

// NewCounter builds the counter fixture.
func NewCounter() *fsm.Interpreter[Counter, CounterCommand, ValueSet, *CounterEffects] {
	b := fsm.NewBuilder[Counter, CounterCommand, ValueSet, *CounterEffects](
		fsm.WithPolicy(fsm.Exhaustive), fsm.WithName("counter"))
	b.States(Counter{})
	b.Commands(Set{}, Incr{})
	b.Events(ValueSet{})

	fsm.OnCommand(b, func(_ Counter, c Set, fx *CounterEffects) (ValueSet, bool) {
		fx.Calls++
		return ValueSet{Key: c.Key, Value: c.Value}, true
	})
	fsm.OnCommand(b, func(s Counter, c Incr, fx *CounterEffects) (ValueSet, bool) {
		fx.Calls++
		return ValueSet{Key: c.Key, Value: s.Get(c.Key) + 1}, true
	})
	fsm.OnEvent(b, func(s Counter, e ValueSet) fsm.Outcome[Counter] {
		if v, ok := s.Values[e.Key]; ok && v == e.Value {
			return fsm.Unchanged[Counter]()
		}
		return fsm.Mutated(s.with(e.Key, e.Value))
	})

	in, err := b.Build()
	if err != nil {
		panic(err)
	}
	return in
}
