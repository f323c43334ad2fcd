// Package state implements the state surface: a tenant-scoped store of JSON
// documents keyed by execution or artifact id, used for durable snapshots
// and idempotency lookups.
package state

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("state document not found")
	ErrEmptyKey    = errors.New("document key is required")
	ErrEmptyTenant = errors.New("tenant_id is required")
)

// Execution snapshot statuses written by the lifecycle manager.
const (
	StatusCreated           = "created"
	StatusArtifactsReceived = "artifacts_received"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
)

// Surface is the keyed document store contract. Documents are plain JSON
// objects; callers own their shape.
type Surface interface {
	Put(ctx context.Context, tenantID, key string, doc map[string]interface{}) error
	Get(ctx context.Context, tenantID, key string) (map[string]interface{}, error)
	Delete(ctx context.Context, tenantID, key string) error
}
