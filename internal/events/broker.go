// Package events provides in-process fan-out of pipeline run changes to
// live stream subscribers.
package events

import (
	"sync"

	"github.com/pipeboard/pipeboard/internal/domain/model"
)

// Event types published by the sync engine.
const (
	TypeRunCreated       = "run_created"
	TypeRunUpdated       = "run_updated"
	TypeNotificationSent = "notification_sent"
)

// Event describes one change to a pipeline run.
type Event struct {
	Type        string          `json:"type"`
	RunID       int64           `json:"run_id"`
	Provider    model.Provider  `json:"provider"`
	Pipeline    string          `json:"pipeline_name"`
	BuildNumber *int64          `json:"build_number,omitempty"`
	Status      model.RunStatus `json:"status"`
}

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// this far behind starts losing events rather than blocking publishers.
const subscriberBuffer = 16

// Broker fans events out to any number of subscribers. Publishing never
// blocks; slow subscribers drop events.
type Broker struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its event channel plus a
// cancel function. Cancel is idempotent and closes the channel.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}

	return ch, cancel
}

// Publish delivers the event to every subscriber whose buffer has room.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close terminates all subscriber channels. Further Subscribe calls return
// an already-closed channel and Publish becomes a no-op.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan Event]struct{})
}
