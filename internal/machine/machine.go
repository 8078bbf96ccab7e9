package machine

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/evfsm/internal/broadcast"
	"github.com/roach88/evfsm/internal/eventlog"
	"github.com/roach88/evfsm/internal/fsm"
)

// SpanName is the name of the span recorded for every served input.
const SpanName = "evfsm.machine.serve"

const tracerName = "github.com/roach88/evfsm/internal/machine"

// Machine is the single-writer runtime for one state machine instance.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine, once
//   - State(), Phase(), Mode(), Ask(): safe from any goroutine
type Machine[S, C, E, H any] struct {
	id          string
	name        string
	interp      *fsm.Interpreter[S, C, E, H]
	effects     H
	log         eventlog.Log[E]
	mode        Mode
	bc          *broadcast.Broadcaster[Notification[S, E]]
	key         eventlog.KeyFunc[E]
	terminating func(E) bool
	logger      *slog.Logger
	tracer      trace.Tracer
	seed        S

	phase atomic.Int32
	done  chan struct{}

	mu    sync.RWMutex
	state S

	// current and last are owned by the Run goroutine.
	current S
	last    eventlog.Offset
}

// New returns a machine in the Starting phase.
// It fails when an option's value does not match the machine's types.
func New[S, C, E, H any](interp *fsm.Interpreter[S, C, E, H], effects H, opts ...Option) (*Machine[S, C, E, H], error) {
	if interp == nil {
		return nil, fmt.Errorf("machine: nil interpreter")
	}

	var st settings
	for _, opt := range opts {
		opt(&st)
	}

	m := &Machine[S, C, E, H]{
		id:      st.id,
		name:    st.name,
		interp:  interp,
		effects: effects,
		mode:    st.mode,
		logger:  st.logger,
		tracer:  st.tracer,
		done:    make(chan struct{}),
	}
	if m.id == "" {
		m.id = uuid.Must(uuid.NewV7()).String()
	}
	if m.name == "" {
		m.name = interp.Name()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}

	if st.seed != nil {
		seed, ok := st.seed.(S)
		if !ok {
			return nil, fmt.Errorf("machine: seed %T is not a %s", st.seed, typeName[S]())
		}
		m.seed = seed
	}
	if st.log != nil {
		log, ok := st.log.(eventlog.Log[E])
		if !ok {
			return nil, fmt.Errorf("machine: log %T does not store %s", st.log, typeName[E]())
		}
		m.log = log
	} else {
		m.log = eventlog.NewMemory[E](eventlog.Levels{})
	}
	if st.broadcaster != nil {
		bc, ok := st.broadcaster.(*broadcast.Broadcaster[Notification[S, E]])
		if !ok {
			return nil, fmt.Errorf("machine: broadcaster %T does not carry notifications of this machine", st.broadcaster)
		}
		m.bc = bc
	}
	if st.key != nil {
		fn, ok := st.key.(func(E) string)
		if !ok {
			return nil, fmt.Errorf("machine: key function %T does not take %s", st.key, typeName[E]())
		}
		m.key = fn
	}
	if st.terminating != nil {
		fn, ok := st.terminating.(func(E) bool)
		if !ok {
			return nil, fmt.Errorf("machine: terminating function %T does not take %s", st.terminating, typeName[E]())
		}
		m.terminating = fn
	}

	if reflect.TypeOf(any(m.seed)) == nil {
		return nil, fmt.Errorf("machine: no initial %s; pass WithSeed", typeName[S]())
	}

	m.current = m.seed
	m.state = m.seed
	return m, nil
}

// ID returns the instance ID.
func (m *Machine[S, C, E, H]) ID() string { return m.id }

// Name returns the machine name.
func (m *Machine[S, C, E, H]) Name() string { return m.name }

// Phase returns the current lifecycle phase.
func (m *Machine[S, C, E, H]) Phase() Phase { return Phase(m.phase.Load()) }

// Mode returns the append-failure mode.
func (m *Machine[S, C, E, H]) Mode() Mode { return m.mode }

// State returns the last committed state. Before replay completes it is the
// seed.
func (m *Machine[S, C, E, H]) State() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Done is closed when Run returns.
func (m *Machine[S, C, E, H]) Done() <-chan struct{} { return m.done }

// Run replays the log and then serves inputs until the channel is closed or
// a terminating event commits. It returns nil on a normal stop and a
// *eventlog.FeedError when replay fails, in which case no input is served.
func (m *Machine[S, C, E, H]) Run(ctx context.Context, inputs <-chan Input[C, E]) error {
	if !m.phase.CompareAndSwap(int32(Starting), int32(Replaying)) {
		return ErrAlreadyStarted
	}
	defer func() {
		m.phase.Store(int32(Stopped))
		if m.bc != nil {
			m.bc.Close()
		}
		close(m.done)
	}()

	logger := m.logger.With("machine", m.name, "id", m.id)
	logger.Info("machine replaying")

	replayed, err := m.replay(ctx)
	if err != nil {
		logger.Error("replay failed", "error", err, "replayed", replayed, "offset", int64(m.last))
		return fmt.Errorf("machine %s: %w", m.name, err)
	}
	m.publishState(m.current)

	if init, ok := any(m.effects).(Initializer[S]); ok {
		init.Init(m.current)
	}

	m.phase.Store(int32(Serving))
	logger.Info("machine serving", "replayed", replayed, "offset", int64(m.last), "mode", m.mode.String())

	serveCtx := context.WithoutCancel(ctx)
	for in := range inputs {
		if stop := m.serve(serveCtx, logger, in); stop {
			logger.Info("machine stopping: terminating event committed", "offset", int64(m.last))
			return nil
		}
	}

	logger.Info("machine stopping: input closed", "offset", int64(m.last))
	return nil
}

// replay folds the feed into m.current. Effects, appends and notifications
// are all skipped.
func (m *Machine[S, C, E, H]) replay(ctx context.Context) (int, error) {
	n := 0
	for rec, err := range m.log.Feed(ctx) {
		if err != nil {
			return n, asFeedError(err, m.last)
		}
		m.current, _ = m.interp.Apply(m.current, rec.Event)
		m.last = rec.Offset
		n++
	}
	return n, nil
}

// serve handles one input and reports whether the machine should stop.
// CRITICAL: Called only from the Run goroutine.
func (m *Machine[S, C, E, H]) serve(ctx context.Context, log *slog.Logger, in Input[C, E]) bool {
	kind, variant := "command", eventlog.VariantName(in.command)
	if in.external {
		kind, variant = "event", eventlog.VariantName(in.event)
	}

	ctx, span := m.tracer.Start(ctx, SpanName, trace.WithAttributes(
		attribute.String("evfsm.machine", m.name),
		attribute.String("evfsm.input.kind", kind),
		attribute.String("evfsm.input.variant", variant),
	))
	defer span.End()

	log.Debug("serving input", "kind", kind, "variant", variant)

	var res Result[E]
	var committed bool
	if in.external {
		res, committed = m.applyExternal(in.event)
	} else {
		res, committed = m.handleCommand(ctx, log, in.command)
	}

	span.SetAttributes(
		attribute.String("evfsm.change", res.Change.String()),
		attribute.Bool("evfsm.emitted", res.Emitted),
		attribute.Int64("evfsm.offset", int64(res.Offset)),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}

	if in.reply != nil {
		in.reply <- res
	}

	return committed && res.Emitted && m.terminating != nil && m.terminating(res.Event)
}

func (m *Machine[S, C, E, H]) handleCommand(ctx context.Context, log *slog.Logger, c C) (Result[E], bool) {
	prev := m.current
	ev, emitted, out := m.interp.Decide(prev, c, m.effects)
	if !emitted {
		return Result[E]{Change: fsm.NoChange}, false
	}

	next := prev
	if s, ok := out.Next(); ok {
		next = s
	}

	key := eventlog.KeyOf(ev, m.key)
	off, err := m.log.Append(ctx, key, ev)
	if err != nil {
		err = asAdapterError(err, key)
		log.Error("append failed",
			"event", eventlog.VariantName(ev),
			"key", key,
			"mode", m.mode.String(),
			"error", err,
		)
		if m.mode == Strict {
			return Result[E]{Event: ev, Emitted: true, Change: fsm.NoChange, Err: err}, false
		}
		m.commit(next)
		m.interp.FireHooks(prev, out, m.effects)
		m.publish(Notification[S, E]{Key: key, Event: ev, State: next, Change: out.Change()})
		return Result[E]{Event: ev, Emitted: true, Change: out.Change(), Err: err}, true
	}

	m.last = off
	m.commit(next)
	m.interp.FireHooks(prev, out, m.effects)
	m.publish(Notification[S, E]{Offset: off, Key: key, Event: ev, State: next, Change: out.Change(), Durable: true})

	log.Debug("event committed",
		"event", eventlog.VariantName(ev),
		"key", key,
		"offset", int64(off),
		"change", out.Change().String(),
	)
	return Result[E]{Event: ev, Emitted: true, Offset: off, Change: out.Change()}, true
}

func (m *Machine[S, C, E, H]) applyExternal(e E) (Result[E], bool) {
	next, out := m.interp.Apply(m.current, e)
	m.commit(next)
	m.publish(Notification[S, E]{
		Key:      eventlog.KeyOf(e, m.key),
		Event:    e,
		State:    next,
		Change:   out.Change(),
		External: true,
	})
	return Result[E]{Event: e, Emitted: true, Change: out.Change()}, true
}

func (m *Machine[S, C, E, H]) commit(next S) {
	m.current = next
	m.publishState(next)
}

func (m *Machine[S, C, E, H]) publishState(s S) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Machine[S, C, E, H]) publish(n Notification[S, E]) {
	if m.bc != nil {
		m.bc.Publish(n)
	}
}

// Ask sends c on inputs and waits for its result.
//
// The returned error is ctx's error or ErrStopped; failures while serving
// the command are reported in Result.Err. The caller must not close inputs
// concurrently with Ask.
func (m *Machine[S, C, E, H]) Ask(ctx context.Context, inputs chan<- Input[C, E], c C) (Result[E], error) {
	reply := make(chan Result[E], 1)

	select {
	case inputs <- CommandWithReply[C, E](c, reply):
	case <-m.done:
		return Result[E]{}, ErrStopped
	case <-ctx.Done():
		return Result[E]{}, ctx.Err()
	}

	select {
	case res := <-reply:
		return res, nil
	case <-m.done:
		// The machine may have replied just before stopping.
		select {
		case res := <-reply:
			return res, nil
		default:
			return Result[E]{}, ErrStopped
		}
	case <-ctx.Done():
		return Result[E]{}, ctx.Err()
	}
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}
