package events

import "sync"

// Bus is a synchronous in-process publish/subscribe channel. Subscribers
// hold an unsubscribe handle rather than an ambient global registration.
// Publish runs handlers inline on the caller's goroutine; handlers must not
// block.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]func(Event)
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers a handler for every published event and returns the
// handle that removes it. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish fans the event out to every current subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(e)
	}
}
