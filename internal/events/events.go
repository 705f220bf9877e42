// Package events publishes todo and user lifecycle events.
package events

import (
	"context"
	"time"
)

type Type string

const (
	TodoCreated    Type = "todo.created"
	TodoUpdated    Type = "todo.updated"
	TodoToggled    Type = "todo.toggled"
	TodoDeleted    Type = "todo.deleted"
	UserRegistered Type = "user.registered"
)

// Event is the message payload written to the event stream.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	UserID     int64     `json:"user_id"`
	TodoID     int64     `json:"todo_id,omitempty"`
	Completed  *bool     `json:"completed,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
