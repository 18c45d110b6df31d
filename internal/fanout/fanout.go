// Package fanout broadcasts index change notifications to any number of
// independently paced subscribers.
package fanout

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 64

// Kind identifies what happened to a document. The string values are the
// wire tags sent to browsers.
type Kind string

const (
	Added   Kind = "FileAdded"
	Changed Kind = "FileChanged"
	Removed Kind = "FileRemoved"
)

// Notification reports a single effective change to the document index.
// It serializes as {"type":"FileChanged","path":"docs/a.md"}.
type Notification struct {
	Kind Kind   `json:"type"`
	Path string `json:"path"`
}

// Broadcaster delivers every published Notification to every current
// subscriber. Each subscriber has its own bounded queue; when a queue is
// full the notification is dropped for that subscriber only, so Publish
// never blocks.
type Broadcaster struct {
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a Broadcaster whose subscribers buffer up to buffer
// notifications each.
func New(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = DefaultBuffer
	}

	return &Broadcaster{
		buffer: buffer,
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscription is one observer's handle. Receive from C until it is
// closed; call Close when done.
type Subscription struct {
	id      uint64
	ch      chan Notification
	b       *Broadcaster
	dropped atomic.Uint64
}

// Subscribe registers a new observer that receives every notification
// published after this call. Subscribing to a closed Broadcaster returns a
// subscription whose channel is already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription{
		id: b.nextID,
		ch: make(chan Notification, b.buffer),
		b:  b,
	}

	if b.closed {
		close(s.ch)
		return s
	}

	b.subs[s.id] = s

	return s
}

// Publish hands n to every subscriber without blocking.
func (b *Broadcaster) Publish(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.published.Add(1)

	for _, s := range b.subs {
		select {
		case s.ch <- n:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

// Published returns the number of notifications published so far.
func (b *Broadcaster) Published() uint64 {
	return b.published.Load()
}

// Dropped returns the total number of per-subscriber drops.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscription channel. Later Publish calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}

// C returns the channel notifications arrive on.
func (s *Subscription) C() <-chan Notification {
	return s.ch
}

// Dropped returns how many notifications this subscriber missed because
// its queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel. It is safe
// to call more than once and after the Broadcaster is closed.
func (s *Subscription) Close() {
	b := s.b

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[s.id]; !ok {
		return
	}

	delete(b.subs, s.id)
	close(s.ch)
}
