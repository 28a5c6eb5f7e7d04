// Package broadcaster fans rebuild progress out to subscribed clients.
package broadcaster

import (
	"sync"

	"github.com/google/uuid"

	siftv1 "github.com/jamesainslie/sift/pkg/api/sift/v1"
	"github.com/jamesainslie/sift/pkg/sift/store"
)

// DefaultBuffer is the per-subscriber event capacity.
const DefaultBuffer = 100

// Subscriber receives the events of rebuilds at or beneath Root.
type Subscriber struct {
	ID     string
	Root   string
	Events chan *siftv1.ProgressEvent

	dropped int
}

// Broadcaster manages subscribers and distributes progress events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
}

// New creates a new Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a subscriber for root. An empty root receives every
// event. It returns nil once the broadcaster is closed.
func (b *Broadcaster) Subscribe(root string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	sub := &Subscriber{
		ID:     uuid.New().String(),
		Root:   root,
		Events: make(chan *siftv1.ProgressEvent, DefaultBuffer),
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// Publish delivers ev to every subscriber whose root covers ev.Root. A full
// subscriber loses its oldest pending event, so the newest one, including
// the final Done event, always arrives.
func (b *Broadcaster) Publish(ev *siftv1.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if !matches(sub, ev.Root) {
			continue
		}
		select {
		case sub.Events <- ev:
			continue
		default:
		}
		// Make room by dropping the oldest pending event.
		select {
		case <-sub.Events:
			sub.dropped++
		default:
		}
		select {
		case sub.Events <- ev:
		default:
			sub.dropped++
		}
	}
}

func matches(sub *Subscriber, root string) bool {
	return sub.Root == "" || store.IsUnder(root, sub.Root)
}

// Dropped returns how many events were discarded for a slow subscriber.
func (b *Broadcaster) Dropped(id string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if sub, ok := b.subscribers[id]; ok {
		return sub.dropped
	}
	return 0
}

// Close closes the broadcaster and all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.Events)
	}
	b.subscribers = make(map[string]*Subscriber)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
