// Package pubsub provides a generic publish/subscribe event system used to
// fan out log entries, transcript changes and accepted status events.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// CreatedEvent announces a new item (log line, transcript entry, accepted status event).
	CreatedEvent EventType = "created"
	// UpdatedEvent announces an in-place change to an existing item.
	UpdatedEvent EventType = "updated"
	// DeletedEvent announces removal (a cleared transcript).
	DeletedEvent EventType = "deleted"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}

// PubSub is both ends of a broker.
type PubSub[T any] interface {
	Subscriber[T]
	Publisher[T]
}
