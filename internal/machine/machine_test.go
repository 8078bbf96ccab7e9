package machine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/evfsm/internal/broadcast"
	"github.com/roach88/evfsm/internal/eventlog"
	"github.com/roach88/evfsm/internal/fsm"
	"github.com/roach88/evfsm/internal/testutil"
)

type (
	State   = testutil.State
	Cmd     = testutil.Command
	Event   = testutil.Event
	Effects = testutil.Effects
)

type startStop = Machine[State, Cmd, Event, *Effects]

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStartStop(t *testing.T, fx *Effects, opts ...Option) *startStop {
	t.Helper()
	opts = append([]Option{WithSeed[State](testutil.Idle{}), WithLogger(quietLogger())}, opts...)
	m, err := New(testutil.StartStop(), fx, opts...)
	require.NoError(t, err)
	return m
}

// start runs m in the background and returns its input channel and the
// channel Run's error is delivered on.
func start[S, C, E, H any](t *testing.T, m *Machine[S, C, E, H]) (chan Input[C, E], <-chan error) {
	t.Helper()
	in := make(chan Input[C, E])
	errc := make(chan error, 1)
	go func() { errc <- m.Run(context.Background(), in) }()
	return in, errc
}

func stop[C, E any](t *testing.T, in chan Input[C, E], errc <-chan error) {
	t.Helper()
	close(in)
	require.NoError(t, <-errc)
}

func TestIdleStartScenario(t *testing.T) {
	ctx := context.Background()
	fx := &Effects{}
	log := eventlog.NewMemory[Event](eventlog.Levels{})
	bc := broadcast.New[Notification[State, Event]]()
	sub := bc.Subscribe(8)

	m := newStartStop(t, fx, WithLog[Event](log), WithBroadcaster(bc))
	assert.Equal(t, Starting, m.Phase())
	in, errc := start(t, m)

	res, err := m.Ask(ctx, in, testutil.Start{})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.True(t, res.Emitted)
	assert.Equal(t, testutil.Started{}, res.Event)
	assert.Equal(t, eventlog.Offset(1), res.Offset)
	assert.Equal(t, fsm.Transitioned, res.Change)

	assert.Equal(t, Serving, m.Phase())
	assert.Equal(t, testutil.Running{}, m.State())
	assert.Equal(t, 1, fx.EnteredRunning)

	msg := <-sub.C()
	assert.False(t, msg.IsGap())
	assert.Equal(t, Notification[State, Event]{
		Offset:  1,
		Key:     "Started",
		Event:   testutil.Started{},
		State:   testutil.Running{},
		Change:  fsm.Transitioned,
		Durable: true,
	}, msg.Item)

	recs, err := eventlog.Drain[Event](ctx, log)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, testutil.Started{}, recs[0].Event)

	stop(t, in, errc)
	assert.Equal(t, Stopped, m.Phase())
	_, open := <-sub.C()
	assert.False(t, open, "subscriptions close when the machine stops")
}

func TestCommandWithoutEvent(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory[Event](eventlog.Levels{})
	m := newStartStop(t, &Effects{}, WithLog[Event](log))
	in, errc := start(t, m)

	res, err := m.Ask(ctx, in, testutil.Stop{})
	require.NoError(t, err)
	assert.False(t, res.Emitted)
	assert.NoError(t, res.Err)
	assert.Equal(t, fsm.NoChange, res.Change)

	stop(t, in, errc)
	assert.Equal(t, 0, log.Stats().TailRecords)
}

func TestReplayRunsNoEffects(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory[Event](eventlog.Levels{})
	for _, ev := range []Event{testutil.Started{}, testutil.Ticked{Count: 1}, testutil.Ticked{Count: 2}} {
		_, err := log.Append(ctx, eventlog.KeyOf(ev, nil), ev)
		require.NoError(t, err)
	}

	fx := &Effects{}
	bc := broadcast.New[Notification[State, Event]]()
	sub := bc.Subscribe(8)
	m := newStartStop(t, fx, WithLog[Event](log), WithBroadcaster(bc))
	in, errc := start(t, m)

	res, err := m.Ask(ctx, in, testutil.Tick{})
	require.NoError(t, err)
	assert.Equal(t, eventlog.Offset(4), res.Offset)
	stop(t, in, errc)

	assert.Equal(t, []State{testutil.Running{Ticks: 2}}, fx.Inits)
	assert.Equal(t, 0, fx.EnteredRunning, "hooks never run during replay")
	assert.Equal(t, 1, fx.Commands)
	assert.Equal(t, testutil.Running{Ticks: 3}, m.State())

	var items int
	for msg := range sub.C() {
		items++
		assert.Equal(t, testutil.Ticked{Count: 3}, msg.Item.Event)
	}
	assert.Equal(t, 1, items, "replayed events are not broadcast")
}

func TestReplayEquivalence(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory[Event](eventlog.Levels{})

	first := newStartStop(t, &Effects{}, WithLog[Event](log))
	in, errc := start(t, first)
	for _, c := range []Cmd{
		testutil.Start{}, testutil.Tick{}, testutil.Tick{}, testutil.Stop{}, testutil.Stop{}, testutil.Start{}, testutil.Tick{},
	} {
		_, err := first.Ask(ctx, in, c)
		require.NoError(t, err)
	}
	stop(t, in, errc)

	// Fold the log with the bare interpreter.
	interp := testutil.StartStop()
	var folded State = testutil.Idle{}
	recs, err := eventlog.Drain[Event](ctx, log)
	require.NoError(t, err)
	for _, r := range recs {
		folded, _ = interp.Apply(folded, r.Event)
	}

	second := newStartStop(t, &Effects{}, WithLog[Event](log))
	in, errc = start(t, second)
	stop(t, in, errc)

	assert.Equal(t, first.State(), second.State())
	assert.Equal(t, folded, second.State())
	assert.Equal(t, testutil.Running{Ticks: 1}, second.State())
}

func TestFeedFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	inner := eventlog.NewMemory[Event](eventlog.Levels{})
	_, err := inner.Append(ctx, "Started", testutil.Started{})
	require.NoError(t, err)
	_, err = inner.Append(ctx, "Stopped", testutil.Stopped{})
	require.NoError(t, err)

	log := testutil.NewFailingLog[Event](inner)
	log.FailFeedAfter(1)

	fx := &Effects{}
	m := newStartStop(t, fx, WithLog[Event](log))
	in := make(chan Input[Cmd, Event])

	err = m.Run(ctx, in)
	require.Error(t, err)
	assert.True(t, IsFeedError(err))
	assert.ErrorIs(t, err, testutil.ErrInjected)
	assert.Equal(t, Stopped, m.Phase())
	assert.Equal(t, testutil.Idle{}, m.State(), "partial replay is never exposed")
	assert.Empty(t, fx.Inits)

	_, err = m.Ask(ctx, in, testutil.Start{})
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, m.Run(ctx, in), ErrAlreadyStarted)
}

func TestCancelledContextAbortsReplay(t *testing.T) {
	log := eventlog.NewMemory[Event](eventlog.Levels{})
	_, err := log.Append(context.Background(), "Started", testutil.Started{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := newStartStop(t, &Effects{}, WithLog[Event](log))
	err = m.Run(ctx, make(chan Input[Cmd, Event]))
	assert.True(t, IsFeedError(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCancellationDoesNotStopServing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := newStartStop(t, &Effects{})
	in := make(chan Input[Cmd, Event])
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx, in) }()

	_, err := m.Ask(context.Background(), in, testutil.Start{})
	require.NoError(t, err)
	cancel()

	res, err := m.Ask(context.Background(), in, testutil.Stop{})
	require.NoError(t, err)
	assert.NoError(t, res.Err)
	assert.Equal(t, eventlog.Offset(2), res.Offset)

	stop(t, in, errc)
}

func TestOptimisticAppendFailure(t *testing.T) {
	ctx := context.Background()
	log := testutil.NewFailingLog[Event](eventlog.NewMemory[Event](eventlog.Levels{}))
	log.FailAppends(true)
	bc := broadcast.New[Notification[State, Event]]()
	sub := bc.Subscribe(4)

	fx := &Effects{}
	m := newStartStop(t, fx, WithLog[Event](log), WithBroadcaster(bc))
	assert.Equal(t, Optimistic, m.Mode())
	in, errc := start(t, m)

	res, err := m.Ask(ctx, in, testutil.Start{})
	require.NoError(t, err)
	assert.True(t, IsAdapterError(res.Err))
	assert.ErrorIs(t, res.Err, testutil.ErrInjected)
	assert.True(t, res.Emitted)
	assert.Equal(t, fsm.Transitioned, res.Change)
	assert.Equal(t, eventlog.Offset(0), res.Offset)
	assert.Equal(t, testutil.Running{}, m.State())
	assert.Equal(t, 1, fx.EnteredRunning, "the kept transition runs its hooks")

	msg := <-sub.C()
	assert.False(t, msg.Item.Durable)
	assert.Equal(t, testutil.Started{}, msg.Item.Event)

	stop(t, in, errc)
}

func TestStrictAppendFailure(t *testing.T) {
	ctx := context.Background()
	log := testutil.NewFailingLog[Event](eventlog.NewMemory[Event](eventlog.Levels{}))
	log.FailAppends(true)
	bc := broadcast.New[Notification[State, Event]]()
	sub := bc.Subscribe(4)

	fx := &Effects{}
	m := newStartStop(t, fx, WithLog[Event](log), WithBroadcaster(bc), WithMode(Strict))
	assert.Equal(t, Strict, m.Mode())
	in, errc := start(t, m)

	res, err := m.Ask(ctx, in, testutil.Start{})
	require.NoError(t, err)
	assert.True(t, IsAdapterError(res.Err))
	assert.Equal(t, fsm.NoChange, res.Change)
	assert.Equal(t, testutil.Idle{}, m.State())
	assert.Equal(t, 0, fx.EnteredRunning, "a rolled back transition runs no hooks")

	log.FailAppends(false)
	res, err = m.Ask(ctx, in, testutil.Start{})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, eventlog.Offset(1), res.Offset)

	stop(t, in, errc)
	assert.Equal(t, 1, fx.EnteredRunning)
	assert.Equal(t, 2, fx.Commands, "the effect runs on every attempt")

	var got []Notification[State, Event]
	for msg := range sub.C() {
		got = append(got, msg.Item)
	}
	require.Len(t, got, 1, "the failed append is never broadcast")
	assert.True(t, got[0].Durable)
}

func TestStalledSubscriberDoesNotBlockServing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bc := broadcast.New[Notification[State, Event]]()
	stalled := bc.Subscribe(1)

	m := newStartStop(t, &Effects{}, WithBroadcaster(bc))
	in, errc := start(t, m)

	cmds := []Cmd{testutil.Start{}, testutil.Tick{}, testutil.Tick{}, testutil.Stop{}, testutil.Start{}}
	for i, c := range cmds {
		res, err := m.Ask(ctx, in, c)
		require.NoError(t, err, "command %d", i)
		require.NoError(t, res.Err)
		assert.Equal(t, eventlog.Offset(i+1), res.Offset)
	}
	assert.Equal(t, testutil.Running{}, m.State())

	stop(t, in, errc)
	bc.Close()

	var got []broadcast.Message[Notification[State, Event]]
	for msg := range stalled.C() {
		got = append(got, msg)
	}
	require.Len(t, got, 2)
	assert.Equal(t, testutil.Started{}, got[0].Item.Event)
	assert.Equal(t, uint64(len(cmds)-1), got[1].Gap)
	assert.Equal(t, uint64(len(cmds)-1), stalled.Dropped())
}

func TestExternalEvent(t *testing.T) {
	log := eventlog.NewMemory[Event](eventlog.Levels{})
	bc := broadcast.New[Notification[State, Event]]()
	sub := bc.Subscribe(4)
	fx := &Effects{}

	m := newStartStop(t, fx, WithLog[Event](log), WithBroadcaster(bc))
	in, errc := start(t, m)

	in <- External[Cmd, Event](testutil.Started{})
	msg := <-sub.C()
	stop(t, in, errc)

	assert.True(t, msg.Item.External)
	assert.False(t, msg.Item.Durable)
	assert.Equal(t, fsm.Transitioned, msg.Item.Change)
	assert.Equal(t, testutil.Running{}, m.State())
	assert.Equal(t, 0, fx.EnteredRunning, "external events run no effects")
	assert.Equal(t, 0, log.Stats().TailRecords, "external events are not appended")
}

func TestTerminatingEventStopsMachine(t *testing.T) {
	ctx := context.Background()
	isStop := func(e Event) bool {
		_, ok := e.(testutil.Stopped)
		return ok
	}
	m := newStartStop(t, &Effects{}, WithTerminating(isStop))
	in := make(chan Input[Cmd, Event], 4)
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx, in) }()

	_, err := m.Ask(ctx, in, testutil.Start{})
	require.NoError(t, err)
	res, err := m.Ask(ctx, in, testutil.Stop{})
	require.NoError(t, err)
	assert.Equal(t, testutil.Stopped{}, res.Event)

	require.NoError(t, <-errc)
	assert.Equal(t, Stopped, m.Phase())
	assert.Equal(t, testutil.Idle{}, m.State())

	_, err = m.Ask(ctx, in, testutil.Start{})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestServeSpans(t *testing.T) {
	ctx := context.Background()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	m := newStartStop(t, &Effects{}, WithTracer(tp.Tracer("test")), WithName("door"))
	in, errc := start(t, m)
	_, err := m.Ask(ctx, in, testutil.Start{})
	require.NoError(t, err)
	stop(t, in, errc)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, SpanName, spans[0].Name)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "door", attrs["evfsm.machine"])
	assert.Equal(t, "command", attrs["evfsm.input.kind"])
	assert.Equal(t, "Start", attrs["evfsm.input.variant"])
	assert.Equal(t, "transitioned", attrs["evfsm.change"])
	assert.Equal(t, "1", attrs["evfsm.offset"])
}

func TestNewRejectsMismatchedOptions(t *testing.T) {
	fx := &Effects{}
	_, err := New(testutil.StartStop(), fx, WithSeed(42))
	assert.ErrorContains(t, err, "seed int")

	_, err = New(testutil.StartStop(), fx, WithLog[int](eventlog.NewMemory[int](eventlog.Levels{})))
	assert.ErrorContains(t, err, "does not store")

	_, err = New(testutil.StartStop(), fx, WithKey(func(string) string { return "" }))
	assert.ErrorContains(t, err, "key function")

	_, err = New[State, Cmd, Event, *Effects](nil, fx)
	assert.Error(t, err)

	_, err = New(testutil.StartStop(), fx, WithID("unseeded"))
	assert.ErrorContains(t, err, "pass WithSeed")

	var noState State
	_, err = New(testutil.StartStop(), fx, WithSeed(noState))
	assert.ErrorContains(t, err, "no initial")

	m, err := New(testutil.StartStop(), fx, WithSeed[State](testutil.Idle{}), WithID("fixed"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", m.ID())
	assert.Equal(t, "startstop", m.Name())
}

func TestCompactedReplayMatchesFullReplay(t *testing.T) {
	ctx := context.Background()
	full := eventlog.NewMemory[testutil.ValueSet](eventlog.Levels{})
	compacting := eventlog.NewMemory[testutil.ValueSet](eventlog.Levels{Low: 2, High: 5})

	run := func(log eventlog.Log[testutil.ValueSet]) testutil.Counter {
		m, err := New(testutil.NewCounter(), &testutil.CounterEffects{},
			WithLog[testutil.ValueSet](log), WithLogger(quietLogger()))
		require.NoError(t, err)
		in, errc := start(t, m)
		for i := 0; i < 30; i++ {
			var c testutil.CounterCommand = testutil.Incr{Key: []string{"a", "b", "c"}[i%3]}
			if i%7 == 0 {
				c = testutil.Set{Key: "b", Value: i}
			}
			_, err := m.Ask(ctx, in, c)
			require.NoError(t, err)
		}
		stop(t, in, errc)
		return m.State()
	}

	replay := func(log eventlog.Log[testutil.ValueSet]) testutil.Counter {
		m, err := New(testutil.NewCounter(), &testutil.CounterEffects{},
			WithLog[testutil.ValueSet](log), WithLogger(quietLogger()))
		require.NoError(t, err)
		in, errc := start(t, m)
		stop(t, in, errc)
		return m.State()
	}

	live := run(full)
	assert.Equal(t, live, run(compacting))
	assert.Equal(t, live, replay(full))
	assert.Equal(t, live, replay(compacting))
	assert.LessOrEqual(t, compacting.Stats().TailRecords, 5)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("strict")
	require.NoError(t, err)
	assert.Equal(t, Strict, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Optimistic, m)

	_, err = ParseMode("lazy")
	assert.Error(t, err)
	assert.Equal(t, "serving", Serving.String())
}
