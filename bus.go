package goingest

import (
	"sync"
)

// Observer receives the events published on the Bus.
type Observer interface {
	Notify(e Event)
}

// ObserverFunc is an adapter to allow the use of ordinary functions as observers.
type ObserverFunc func(e Event)

// Notify calls f(e).
func (f ObserverFunc) Notify(e Event) {
	f(e)
}

// SubscriptionID identifies an observer registered on the Bus.
type SubscriptionID uint64

// NewBus creates a new instance of *Bus.
func NewBus() *Bus {
	return &Bus{observers: make(map[SubscriptionID]Observer)}
}

// Bus delivers events to all the subscribed observers. Delivery is synchronous: Publish returns
// once every observer has been notified, in subscription order. It is safe to publish and to
// change subscriptions concurrently, including from within an observer.
type Bus struct {
	mu        sync.RWMutex
	nextID    SubscriptionID
	order     []SubscriptionID
	observers map[SubscriptionID]Observer
}

// Subscribe registers the observer and returns the id to unsubscribe it with.
func (b *Bus) Subscribe(o Observer) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.observers[b.nextID] = o
	b.order = append(b.order, b.nextID)
	return b.nextID
}

// Unsubscribe removes the observer. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ex := b.observers[id]; !ex {
		return
	}
	delete(b.observers, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers the event to the observers subscribed at the moment of the call. A nil bus
// drops the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	snapshot := make([]Observer, 0, len(b.order))
	for _, id := range b.order {
		snapshot = append(snapshot, b.observers[id])
	}
	b.mu.RUnlock()
	for _, o := range snapshot {
		o.Notify(e)
	}
}

// Len returns the number of subscribed observers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}
