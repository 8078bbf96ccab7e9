package machine

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/evfsm/internal/broadcast"
	"github.com/roach88/evfsm/internal/eventlog"
)

// Option configures a Machine. Options that carry machine-typed values are
// checked against the machine's type parameters by New.
type Option func(*settings)

type settings struct {
	name        string
	mode        Mode
	logger      *slog.Logger
	tracer      trace.Tracer
	id          string
	seed        any
	log         any
	broadcaster any
	key         any
	terminating any
}

// WithName names the machine in logs and spans.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithID overrides the generated instance ID.
func WithID(id string) Option {
	return func(s *settings) { s.id = id }
}

// WithMode selects the append-failure mode. The default is Optimistic.
func WithMode(m Mode) Option {
	return func(s *settings) { s.mode = m }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithTracer sets the tracer used for serve spans. The default comes from
// the global otel tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *settings) { s.tracer = t }
}

// WithSeed sets the state replay starts from. The default is the zero S,
// which New rejects when S is an interface.
func WithSeed[S any](seed S) Option {
	return func(s *settings) { s.seed = seed }
}

// WithLog sets the backing log. The default is an in-memory log.
func WithLog[E any](l eventlog.Log[E]) Option {
	return func(s *settings) { s.log = l }
}

// WithBroadcaster sets where committed notifications are published.
// The machine closes it when Run returns.
func WithBroadcaster[S, E any](b *broadcast.Broadcaster[Notification[S, E]]) Option {
	return func(s *settings) { s.broadcaster = b }
}

// WithKey sets the compaction key function. By default events implementing
// eventlog.Keyed supply their own key and others are keyed by variant name.
func WithKey[E any](fn func(E) string) Option {
	return func(s *settings) { s.key = fn }
}

// WithTerminating marks events after which the machine stops serving once
// they are committed.
func WithTerminating[E any](fn func(E) bool) Option {
	return func(s *settings) { s.terminating = fn }
}
