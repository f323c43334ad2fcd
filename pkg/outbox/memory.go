package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryOutbox is a thread-safe in-memory outbox store.
type MemoryOutbox struct {
	mu        sync.Mutex
	publisher Publisher
	byExec    map[string][]*Event
	order     []string
	clock     func() time.Time
}

// NewMemoryOutbox creates an outbox delivering through publisher.
func NewMemoryOutbox(publisher Publisher) *MemoryOutbox {
	return &MemoryOutbox{
		publisher: publisher,
		byExec:    make(map[string][]*Event),
		clock:     time.Now,
	}
}

func (o *MemoryOutbox) AddEvent(ctx context.Context, executionID, eventType string, payload map[string]interface{}) (string, error) {
	if executionID == "" {
		return "", ErrMissingExecution
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	ev := &Event{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   o.clock().UTC(),
	}
	if _, ok := o.byExec[executionID]; !ok {
		o.order = append(o.order, executionID)
	}
	o.byExec[executionID] = append(o.byExec[executionID], ev)
	return ev.ID, nil
}

func (o *MemoryOutbox) PublishEvents(ctx context.Context, executionID string) (int, error) {
	if o.publisher == nil {
		return 0, ErrNoPublisher
	}
	o.mu.Lock()
	pending := make([]*Event, 0)
	for _, ev := range o.byExec[executionID] {
		if !ev.Published {
			pending = append(pending, ev)
		}
	}
	o.mu.Unlock()

	published := 0
	for _, ev := range pending {
		if err := o.publisher(ctx, *ev); err != nil {
			o.mu.Lock()
			ev.Attempts++
			o.mu.Unlock()
			return published, fmt.Errorf("publish failed for event %s: %w", ev.ID, err)
		}
		now := o.clock().UTC()
		o.mu.Lock()
		ev.Published = true
		ev.PublishedAt = &now
		o.mu.Unlock()
		published++
	}
	return published, nil
}

func (o *MemoryOutbox) GetPendingEvents(ctx context.Context, executionID string) ([]Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []Event
	for _, ev := range o.byExec[executionID] {
		if !ev.Published {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (o *MemoryOutbox) ListUnpublished(ctx context.Context, limit int) ([]Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []Event
	for _, execID := range o.order {
		for _, ev := range o.byExec[execID] {
			if !ev.Published {
				out = append(out, *ev)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}
