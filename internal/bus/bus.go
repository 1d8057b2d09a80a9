// Package bus is the event-publisher boundary: after every successful write
// the store emits a created notification here. Delivery toward subscribers is
// at-least-once while they keep up; ordering across keys is not guaranteed.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TypeEventCreated is emitted once per successfully stored event.
const TypeEventCreated = "experiment-variant-event-created"

// Notification is the envelope carried to subscribers.
type Notification struct {
	ID        string
	Type      string
	Timestamp time.Time
	Payload   any
}

// NewNotification wraps a payload in a fresh envelope.
func NewNotification(eventType string, payload any) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Publisher is what the store facade holds; the full Bus adds subscription
// management on top.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Bus fans notifications out to subscribers.
type Bus interface {
	Publisher
	Subscribe(handler func(Notification)) (unsubscribe func())
	Close() error
}

var ErrClosed = errors.New("bus closed")

// Config tunes the in-memory bus.
type Config struct {
	// BufferSize is the channel buffer per subscriber. Default 256.
	BufferSize int

	// OnDrop is called when a lagging subscriber's buffer is full and a
	// notification is dropped for it.
	OnDrop func(n Notification)
}

// LocalBus is the in-memory Bus: one buffered channel and delivery goroutine
// per subscriber, non-blocking publish.
type LocalBus struct {
	config Config

	mu     sync.RWMutex
	subs   map[int64]*subscriber
	nextID int64
	closed bool

	wg sync.WaitGroup
}

type subscriber struct {
	ch      chan Notification
	handler func(Notification)
}

func NewLocalBus(config Config) *LocalBus {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	return &LocalBus{
		config: config,
		subs:   make(map[int64]*subscriber),
	}
}

func (b *LocalBus) Subscribe(handler func(Notification)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	sub := &subscriber{
		ch:      make(chan Notification, b.config.BufferSize),
		handler: handler,
	}
	b.subs[id] = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for n := range sub.ch {
			sub.handler(n)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
}

// Publish fans the notification out without blocking: a subscriber whose
// buffer is full misses this notification (reported through OnDrop).
func (b *LocalBus) Publish(ctx context.Context, n Notification) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- n:
		default:
			if b.config.OnDrop != nil {
				b.config.OnDrop(n)
			}
		}
	}
	return nil
}

// Close stops delivery after draining each subscriber's buffer.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
