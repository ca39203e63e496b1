package broker

import (
	"sync"
)

// Broker implements a simple fan-out message broker. Publishing never blocks: when a subscriber
// channel is full, its oldest message is dropped to make room for the new one.
type Broker[T any] struct {
	mu          sync.Mutex
	subscribers map[string]chan T
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subscribers: make(map[string]chan T),
	}
}

// Subscribe registers a new subscriber with the given name and channel buffer size.
// It returns a receive-only channel that will receive published messages. Subscribing again
// with the same name closes the previous channel.
func (b *Broker[T]) Subscribe(name string, size int) <-chan T {
	if size < 1 {
		size = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[name]; ok {
		close(ch)
	}

	ch := make(chan T, size)
	b.subscribers[name] = ch

	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Broker[T]) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[name]; ok {
		close(ch)
		delete(b.subscribers, name)
	}
}

// Publish sends a message to all registered subscribers.
func (b *Broker[T]) Publish(t T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		for {
			select {
			case ch <- t:
			default:
				// full: drop the oldest and retry
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Broker[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
