// Package history defines an audit trail of backend events: interpreter
// lifecycle changes and module-resolution failures. Sinks are optional;
// the core owns no persisted state and keeps working when every Send fails.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of backend event.
type EventType string

const (
	EventSpawn       EventType = "spawn"
	EventExit        EventType = "exit"
	EventCrash       EventType = "crash"
	EventRestart     EventType = "restart"
	EventResolveFail EventType = "resolve_fail"
)

// Event is one audit record.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid,omitempty"`
	Module     string    `json:"module,omitempty"` // resolve_fail only
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
