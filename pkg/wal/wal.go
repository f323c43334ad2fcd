// Package wal implements the append-only write-ahead log of execution
// lifecycle milestones. The WAL is the single point of truth for "did this
// stage happen": every other component may lose its state and be
// reconstructed by replaying it. Entries are hash-chained per tenant and
// never rewritten or removed.
package wal

import (
	"context"
	"errors"
	"time"
)

// EventType is the closed set of lifecycle milestones.
type EventType string

const (
	EventIntentReceived     EventType = "INTENT_RECEIVED"
	EventExecutionStarted   EventType = "EXECUTION_STARTED"
	EventExecutionCompleted EventType = "EXECUTION_COMPLETED"
	EventExecutionFailed    EventType = "EXECUTION_FAILED"
)

// Valid reports whether t is a member of the closed event-type set.
func (t EventType) Valid() bool {
	switch t {
	case EventIntentReceived, EventExecutionStarted, EventExecutionCompleted, EventExecutionFailed:
		return true
	}
	return false
}

var (
	ErrUnknownEventType = errors.New("unknown WAL event type")
	ErrMissingTenant    = errors.New("tenant_id is required")
	ErrChainBroken      = errors.New("WAL hash chain is broken")
)

// Event is a single immutable WAL entry. Sequence is monotonic per tenant;
// cross-tenant ordering is not defined.
type Event struct {
	Sequence    uint64                 `json:"sequence"`
	EventType   EventType              `json:"event_type"`
	TenantID    string                 `json:"tenant_id"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	PayloadHash string                 `json:"payload_hash"`
	PrevHash    string                 `json:"prev_hash"`
	EntryHash   string                 `json:"entry_hash"`
	Timestamp   time.Time              `json:"timestamp"`
}

// WAL is the append-only log contract. Append must succeed before the
// recorded stage is considered to have happened.
type WAL interface {
	Append(ctx context.Context, eventType EventType, tenantID string, payload map[string]interface{}) error
	// Read returns the most recent limit events for the tenant in append
	// order. limit <= 0 returns all events.
	Read(ctx context.Context, tenantID string, limit int) ([]Event, error)
}
