// Package bus defines the daemon's pub/sub contract and its two
// implementations: a single-process in-memory bus (the default) and a
// NATS-backed one for deployments that already run a broker. Subjects
// are dot-separated and support NATS wildcards in subscriptions.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one message on the bus. Services publish exactly one event
// per committed store mutation, after the transaction commits, so a
// subscriber observing an event can always read the matching state.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	// Source names the service that produced the event.
	Source string `json:"source"`
	// Subject is stamped by Publish with the concrete subject the event
	// went out on, so wildcard subscribers can tell deliveries apart.
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewEvent builds an event with a fresh id and UTC timestamp.
func NewEvent(eventType, source string, data any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler consumes one delivered event. Returning an error is
// logged by the bus; it does not redeliver.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is a live registration that can be torn down.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the pub/sub surface shared by the daemon's services, the
// websocket hub, and the scheduler's cancel signalling.
type EventBus interface {
	// Publish delivers the event to every subscriber whose pattern
	// matches the subject. Delivery to each subscriber is in publish
	// order for that subscriber.
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe registers a handler for a subject pattern ("*" matches
	// one token, ">" the remainder).
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// QueueSubscribe registers a handler in a named group; each matching
	// event reaches exactly one member of the group.
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)

	// Request publishes and waits for a single reply on a private inbox.
	Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error)

	// Close tears down every subscription.
	Close()

	// IsConnected reports whether the bus accepts publishes.
	IsConnected() bool
}
