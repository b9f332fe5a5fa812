// Package hub fans one session's event stream out to any number of
// independently attached subscribers. Delivery is best-effort: each
// subscription buffers up to Capacity events, and when a slow subscriber's
// queue is full its oldest unread events are dropped so Publish never
// blocks the tailer. A subscriber that fell behind observes the gap as a
// LagError on its next receive rather than a silent hole.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/loopdeck/loopdeck/internal/eventlog"
)

// Capacity is the number of pending events each subscription can hold.
const Capacity = 100

// ErrClosed is returned by Recv once the subscription has been detached or
// the owning hub torn down.
var ErrClosed = errors.New("hub: subscription closed")

// LagError reports how many events a subscriber missed while it was not
// keeping up.
type LagError struct {
	Dropped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("hub: subscriber lagged, %d events dropped", e.Dropped)
}

// Hub is the per-session fan-out channel. It is safe to share across
// goroutines: the value handed to HTTP handlers is the same subscribe-only
// handle the tailer publishes into.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New returns an empty hub with no subscribers.
func New() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe attaches a new independent subscription.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		hub: h,
		ch:  make(chan eventlog.Event, Capacity),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// SubscriberCount reports the number of attached subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish delivers e to every subscriber without ever blocking. With no
// subscribers it is a no-op. A full subscription loses its oldest unread
// event to make room.
func (h *Hub) Publish(e eventlog.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- e:
			continue
		default:
		}
		// Queue full: evict the oldest, then retry once.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// Close detaches every subscriber. Further Recv calls return ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		delete(h.subs, s)
		s.closeOnce.Do(func() { close(s.ch) })
	}
}

// Subscription is one observer's view onto the stream. Detaching it does
// not affect other subscribers.
type Subscription struct {
	hub       *Hub
	ch        chan eventlog.Event
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// Recv returns the next event. If events were dropped since the previous
// call it returns a *LagError first; the subscription remains usable and
// subsequent calls resume with the oldest retained event. Recv honors ctx
// cancellation.
func (s *Subscription) Recv(ctx context.Context) (eventlog.Event, error) {
	if n := s.dropped.Swap(0); n > 0 {
		return eventlog.Event{}, &LagError{Dropped: n}
	}
	select {
	case <-ctx.Done():
		return eventlog.Event{}, ctx.Err()
	case e, ok := <-s.ch:
		if !ok {
			return eventlog.Event{}, ErrClosed
		}
		return e, nil
	}
}

// Close detaches the subscription from its hub.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	delete(s.hub.subs, s)
	s.closeOnce.Do(func() { close(s.ch) })
}
