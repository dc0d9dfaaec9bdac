// Package eventbus fans transfer lifecycle events out to subscribers —
// the CLI's progress display, the state-DB mirror, the Prometheus
// collectors — without those consumers blocking the orchestrator.
// A publish never blocks: a subscriber whose buffer is full has the
// event dropped for it rather than stalling the publisher.
package eventbus

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chiral/transferd/internal/domain"
)

// subscriberBuffer bounds how far a slow consumer can lag before its
// events are dropped rather than blocking the publisher, since a
// publish can happen while a caller is mid-transfer and must not stall.
const subscriberBuffer = 256

// Bus is a concurrent-safe publish/subscribe hub for domain.TransferEvent.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan domain.TransferEvent
	dropped     atomic.Uint64
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]chan domain.TransferEvent)}
}

// Subscription is a handle returned by Subscribe; call Close to stop
// receiving events and release the channel.
type Subscription struct {
	id     string
	Events <-chan domain.TransferEvent
	bus    *Bus
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if ch, ok := s.bus.subscribers[s.id]; ok {
		delete(s.bus.subscribers, s.id)
		close(ch)
	}
}

// Subscribe registers a new listener and returns its subscription.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.TransferEvent, subscriberBuffer)
	id := uuid.New().String()
	b.subscribers[id] = ch

	return &Subscription{id: id, Events: ch, bus: b}
}

// Publish broadcasts evt to every current subscriber. A subscriber whose
// buffer is full has the event dropped for it rather than blocking the
// rest of the bus; this is logged so persistent lag is observable.
func (b *Bus) Publish(evt domain.TransferEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
			log.Printf("eventbus: subscriber %s lagging, dropped %s event for transfer %s", id, evt.Type, evt.TransferID)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// DroppedCount returns the cumulative number of events dropped due to a
// full subscriber buffer, across all subscribers.
func (b *Bus) DroppedCount() uint64 {
	return b.dropped.Load()
}
