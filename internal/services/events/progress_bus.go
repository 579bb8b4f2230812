package events

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// subscriberBuffer is the per-subscriber event backlog. When it fills,
// the oldest buffered event is dropped so order is preserved and the
// terminal event always gets through.
const subscriberBuffer = 16

type subscriber struct {
	ch     chan models.ProgressEvent
	closed bool
}

// ProgressBus is the process-local progress channel: publishers fan
// events out to the subscribers of one entity id without ever blocking.
type ProgressBus struct {
	mu          sync.Mutex
	subscribers map[string][]*subscriber
	closed      bool
	logger      arbor.ILogger
}

// NewProgressBus creates an empty bus
func NewProgressBus(logger arbor.ILogger) interfaces.ProgressBus {
	return &ProgressBus{
		subscribers: make(map[string][]*subscriber),
		logger:      logger,
	}
}

// Publish delivers the event to every subscriber of its entity id.
// Slow subscribers lose their oldest buffered event, never ordering.
func (b *ProgressBus) Publish(event models.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers[event.EntityID] {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Buffer full: drop the oldest event to make room
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

// Subscribe registers for events of one entity. The returned cancel
// function is idempotent and closes the channel.
func (b *ProgressBus) Subscribe(entityID string) (<-chan models.ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan models.ProgressEvent, subscriberBuffer)}
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub.ch, func() {}
	}

	b.subscribers[entityID] = append(b.subscribers[entityID], sub)

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeSubscriber(entityID, sub)
	}
	return sub.ch, cancel
}

// removeSubscriber detaches and closes one subscriber; caller holds the lock
func (b *ProgressBus) removeSubscriber(entityID string, target *subscriber) {
	if target.closed {
		return
	}
	target.closed = true
	close(target.ch)

	subs := b.subscribers[entityID]
	for i, sub := range subs {
		if sub == target {
			b.subscribers[entityID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[entityID]) == 0 {
		delete(b.subscribers, entityID)
	}
}

// Close shuts the bus down and closes all subscriber channels
func (b *ProgressBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for entityID, subs := range b.subscribers {
		for _, sub := range subs {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
		delete(b.subscribers, entityID)
	}
	return nil
}
