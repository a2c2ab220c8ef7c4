package app

import (
	"sync"
	"sync/atomic"
	"time"
)

// BusMessageType represents the type of event bus message, covering hub
// lifecycle events (subscription verified, delivery outcomes) that
// diagnostic views subscribe to for live updates.
type BusMessageType string

const (
	BusMessageSubscriptionVerified BusMessageType = "subscription_verified"
	BusMessageFetchCompleted       BusMessageType = "fetch_completed"
	BusMessageDeliveryAttempt      BusMessageType = "delivery_attempt"
)

// BusMessage is a message published to the EventBus, consumed by the
// diagnostic views (/stats, /topic-details) for live updates.
type BusMessage struct {
	ID        uint64         `json:"id"`
	Type      BusMessageType `json:"type"`
	Topic     string         `json:"topic"`
	Timestamp time.Time      `json:"timestamp"`

	// DeliveryAttempt fields (only set for delivery_attempt messages)
	Callback           string `json:"callback,omitempty"`
	AttemptStatus      string `json:"attempt_status,omitempty"`
	ResponseStatusCode int    `json:"response_status_code,omitempty"`
}

const subscriberBufferSize = 64

// EventBus is an in-memory pub/sub bus for broadcasting hub activity to
// diagnostic-page clients. It has no bearing on delivery correctness.
type EventBus struct {
	nextID      atomic.Uint64
	mu          sync.RWMutex
	subscribers map[chan BusMessage]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[chan BusMessage]struct{})}
}

// Subscribe returns a buffered channel that receives bus messages and an
// unsubscribe function. The caller must call unsubscribe when done.
func (b *EventBus) Subscribe() (<-chan BusMessage, func()) {
	ch := make(chan BusMessage, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish sends a message to all subscribers with a non-blocking send.
// Slow consumers that have full buffers will miss messages.
func (b *EventBus) Publish(msg BusMessage) {
	msg.ID = b.nextID.Add(1)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			// Drop message for slow consumer
		}
	}
}
