package memory

import (
	"context"
	"sync"

	"github.com/costwise/costwise/internal/ports"
)

// Bus is an in-process event bus for tests and the local runner.
// Delivery is synchronous so tests can assert on received events
// without sleeping.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]ports.EventHandler
	nextID      int
}

// NewBus creates an empty in-memory event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]map[int]ports.EventHandler)}
}

// Publish delivers the event to every subscriber of the topic. Handler
// errors are swallowed; progress events are best effort everywhere.
func (b *Bus) Publish(ctx context.Context, topic string, event ports.Event) error {
	b.mu.RLock()
	handlers := make([]ports.EventHandler, 0, len(b.subscribers[topic]))
	for _, h := range b.subscribers[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		_ = handler(ctx, event)
	}
	return nil
}

// Subscribe registers a handler for a topic until the context is done.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	b.mu.Lock()
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[int]ports.EventHandler)
	}
	id := b.nextID
	b.nextID++
	b.subscribers[topic][id] = handler
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers[topic], id)
		b.mu.Unlock()
	}()

	return nil
}

// Close drops all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string]map[int]ports.EventHandler)
	return nil
}
