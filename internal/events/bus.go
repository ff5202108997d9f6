package events

import (
	"sync"
)

const defaultBufferSize = 100

// Filter decides whether a subscriber receives an event
type Filter func(Event) bool

// Bus is a simple pub/sub event bus
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]Filter
	bufferSize  int
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[chan Event]Filter),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe returns a channel that receives every event
func (b *Bus) Subscribe() <-chan Event {
	return b.SubscribeFiltered(nil)
}

// SubscribeSession returns a channel that receives events of one session only
func (b *Bus) SubscribeSession(sessionID string) <-chan Event {
	return b.SubscribeFiltered(func(e Event) bool {
		return e.SessionID == sessionID
	})
}

// SubscribeFiltered returns a channel that receives events accepted by filter.
// A nil filter accepts everything.
func (b *Bus) SubscribeFiltered(filter Filter) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[ch] = filter
	return ch
}

// Unsubscribe removes a subscriber channel
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub == ch {
			delete(b.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Publish sends an event to all matching subscribers.
// Non-blocking: if a subscriber's buffer is full, the event is dropped for that subscriber
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filter := range b.subscribers {
		if filter != nil && !filter(event) {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}
