package events

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/vsariola/kantele/engine"
)

// ErrClosed is returned when publishing to or subscribing on a closed bus.
var ErrClosed = errors.New("events: bus closed")

// MemoryBus implements Bus in memory. Every subscriber receives the
// notifications in publish order on its own goroutine; a subscriber that
// falls more than its buffer behind misses notifications.
type MemoryBus struct {
	subscribers map[uuid.UUID]chan engine.Notification
	buffer      int
	closed      bool
	mu          sync.RWMutex
}

// NewMemoryBus creates a new in-memory bus with the given per-subscriber
// buffer.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBus{
		subscribers: make(map[uuid.UUID]chan engine.Notification),
		buffer:      buffer,
	}
}

// Publish hands the notification to every subscriber without blocking.
func (b *MemoryBus) Publish(ctx context.Context, n engine.Notification) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, c := range b.subscribers {
		engine.TrySend(c, n)
	}
	return nil
}

// Subscribe calls handler for every notification published until ctx is
// done or the bus is closed. A handler error ends the subscription.
func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	id := uuid.New()
	c := make(chan engine.Notification, b.buffer)
	b.subscribers[id] = c
	go func() {
		defer b.unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-c:
				if !ok {
					return
				}
				if err := handler(ctx, n); err != nil {
					return
				}
			}
		}
	}()
	return nil
}

// Subscribers returns the number of live subscriptions.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close ends every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, c := range b.subscribers {
		close(c)
		delete(b.subscribers, id)
	}
	return nil
}

func (b *MemoryBus) unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(c)
	}
}
