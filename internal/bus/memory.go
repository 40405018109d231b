package bus

import (
	"context"
	"errors"
	"sync"
)

// Memory is a single-node bus that hands messages straight to its forwarders.
type Memory struct {
	mu       sync.RWMutex
	handlers map[int]func(Message)
	next     int
	closed   bool
}

// NewMemory creates an in-process bus.
func NewMemory() *Memory {
	return &Memory{handlers: make(map[int]func(Message))}
}

// Publish delivers msg synchronously to every running forwarder.
func (b *Memory) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]func(Message), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

// StartForwarder registers onMsg until ctx is done.
func (b *Memory) StartForwarder(ctx context.Context, onMsg func(m Message)) error {
	if onMsg == nil {
		return errors.New("onMsg callback required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	id := b.next
	b.next++
	b.handlers[id] = onMsg
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

// Ping fails once the bus is closed.
func (b *Memory) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops delivery to all forwarders.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[int]func(Message))
	return nil
}
