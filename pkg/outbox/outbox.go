// Package outbox implements the transactional outbox: domain events are
// staged when a handler produces them and published only after the owning
// execution's state has been durably committed. A publish-time failure
// leaves the event pending for a later sweep, giving at-least-once delivery
// without holding a broker transaction open during business logic.
package outbox

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoPublisher      = errors.New("no publisher configured")
	ErrMissingExecution = errors.New("execution_id is required")
)

// Event is a staged domain event. Published flips once, after delivery.
type Event struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"execution_id"`
	EventType   string                 `json:"event_type"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Published   bool                   `json:"published"`
	Attempts    int                    `json:"attempts"`
	CreatedAt   time.Time              `json:"created_at"`
	PublishedAt *time.Time             `json:"published_at,omitempty"`
}

// Publisher delivers one event to the message bus. It must be safe to call
// more than once for the same event (at-least-once semantics).
type Publisher func(ctx context.Context, ev Event) error

// Outbox is the staging contract used by the lifecycle manager.
type Outbox interface {
	// AddEvent stages an event and returns its id. Staging never publishes.
	AddEvent(ctx context.Context, executionID, eventType string, payload map[string]interface{}) (string, error)
	// PublishEvents attempts delivery of the execution's pending events and
	// returns how many were published. Events that fail remain pending.
	PublishEvents(ctx context.Context, executionID string) (int, error)
	// GetPendingEvents returns the execution's unpublished events.
	GetPendingEvents(ctx context.Context, executionID string) ([]Event, error)
}

// Store extends Outbox with the cross-execution scan the sweeper needs.
type Store interface {
	Outbox
	ListUnpublished(ctx context.Context, limit int) ([]Event, error)
}
