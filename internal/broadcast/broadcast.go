// Package broadcast fans committed notifications out to subscribers.
//
// Every subscriber owns a bounded channel. Publish never blocks: an item that
// does not fit is dropped for that subscriber only and counted, and the next
// message the subscriber receives is a Gap telling it how many items it
// missed. Slow subscribers therefore never hold up the publisher or each other.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Message is either one published item or, when Gap is non-zero, a notice
// that Gap items were dropped since the previous message.
type Message[T any] struct {
	Item T
	Gap  uint64
}

// IsGap reports whether m is an overflow notice rather than an item.
func (m Message[T]) IsGap() bool { return m.Gap > 0 }

// Broadcaster delivers published items to all current subscribers.
// It is safe for concurrent use.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription[T]
	closed bool
}

// New returns a broadcaster with no subscribers.
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[uuid.UUID]*Subscription[T])}
}

// Subscribe registers a subscriber whose channel buffers up to capacity
// messages. Capacities below 1 are raised to 1. Subscribing to a closed
// broadcaster returns a subscription whose channel is already closed.
//
// The channel holds one extra slot that only Close uses, so a subscriber
// that stopped reading still sees its final gap notice.
func (b *Broadcaster[T]) Subscribe(capacity int) *Subscription[T] {
	if capacity < 1 {
		capacity = 1
	}
	s := &Subscription[T]{
		id:       uuid.Must(uuid.NewV7()),
		ch:       make(chan Message[T], capacity+1),
		b:        b,
		capacity: capacity,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s.id] = s
	return s
}

// Publish offers item to every subscriber without blocking.
func (b *Broadcaster[T]) Publish(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.offer(item)
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription, delivering each pending gap notice as the
// last message. Further publishes are ignored.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.flushGap(cap(s.ch))
		close(s.ch)
		delete(b.subs, id)
	}
}

func (b *Broadcaster[T]) remove(s *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	close(s.ch)
}

// Subscription is one subscriber's cursor.
type Subscription[T any] struct {
	id uuid.UUID
	ch chan Message[T]
	b  *Broadcaster[T]

	// capacity is the part of ch that Publish may fill.
	capacity int

	// pending counts drops not yet reported; guarded by b.mu.
	pending uint64
	dropped atomic.Uint64
}

// ID identifies the subscription.
func (s *Subscription[T]) ID() uuid.UUID { return s.id }

// C returns the message channel. It is closed on Unsubscribe or when the
// broadcaster closes.
func (s *Subscription[T]) C() <-chan Message[T] { return s.ch }

// Dropped returns the total number of items this subscriber has lost.
func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

// Unsubscribe detaches the subscriber and closes its channel.
func (s *Subscription[T]) Unsubscribe() { s.b.remove(s) }

func (s *Subscription[T]) offer(item T) {
	if !s.flushGap(s.capacity) || len(s.ch) >= s.capacity {
		s.drop()
		return
	}
	s.ch <- Message[T]{Item: item}
}

// flushGap reports pending drops and returns false when the channel already
// holds limit messages. Senders hold b.mu, so the length only shrinks
// between the check and the send.
func (s *Subscription[T]) flushGap(limit int) bool {
	if s.pending == 0 {
		return true
	}
	if len(s.ch) >= limit {
		return false
	}
	s.ch <- Message[T]{Gap: s.pending}
	s.pending = 0
	return true
}

func (s *Subscription[T]) drop() {
	s.pending++
	s.dropped.Add(1)
}
