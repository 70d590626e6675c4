// Package broadcast provides an in-memory publish/subscribe hub with an
// unbounded buffer per subscriber.
package broadcast

import (
	"sync"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/uuid"
)

// SubscriptionID uniquely identifies a hub subscription.
type SubscriptionID string

// Hub fans published values out to every subscriber. Publish never blocks:
// each subscriber owns a queue drained into its channel by a pump goroutine.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[SubscriptionID]*subscriber[T]
	closed bool
}

type subscriber[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []T
	done    bool
	ch      chan T
	quit    chan struct{}
}

// NewHub creates an empty hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[SubscriptionID]*subscriber[T])}
}

// Subscribe registers a subscriber. The returned channel is closed by
// Unsubscribe or Close. Subscribing to a closed hub returns a closed channel.
func (h *Hub[T]) Subscribe() (SubscriptionID, <-chan T) {
	sub := &subscriber[T]{ch: make(chan T), quit: make(chan struct{})}
	sub.cond = sync.NewCond(&sub.mu)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return "", sub.ch
	}
	id := SubscriptionID(uuid.New())
	h.subs[id] = sub
	h.mu.Unlock()

	go sub.pump()
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel. Values still
// buffered for it are discarded. Unknown ids are ignored.
func (h *Hub[T]) Unsubscribe(id SubscriptionID) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		sub.stop()
	}
}

// Publish delivers v to all current subscribers.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		sub.push(v)
	}
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Values not yet received are
// discarded and further publishes are dropped.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[SubscriptionID]*subscriber[T])
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	if !s.done {
		s.pending = append(s.pending, v)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber[T]) stop() {
	s.mu.Lock()
	if !s.done {
		s.done = true
		s.pending = nil
		close(s.quit)
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

func (s *subscriber[T]) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.done {
			s.cond.Wait()
		}
		if s.done {
			s.mu.Unlock()
			return
		}
		v := s.pending[0]
		var zero T
		s.pending[0] = zero
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.ch <- v:
		case <-s.quit:
			return
		}
	}
}
