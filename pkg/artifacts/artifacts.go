// Package artifacts manages execution outputs: the artifact catalog, the
// content-addressed blob stores behind it, the rendering cache, and the
// secondary discovery index.
package artifacts

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is an artifact's lifecycle position.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusReady    Status = "READY"
	StatusArchived Status = "ARCHIVED"
)

var (
	ErrInvalidStatus   = errors.New("invalid artifact status transition")
	ErrNotFound        = errors.New("artifact not found")
	ErrLineageCycle    = errors.New("artifact lineage would form a cycle")
	ErrMissingTenant   = errors.New("artifact tenant id is required")
	ErrUnknownParent   = errors.New("artifact parent does not exist")
	ErrInvalidBlobHash = errors.New("invalid blob hash")
)

// statusOrder makes the lifecycle monotonic: an artifact may only move to
// a strictly later status, and ARCHIVED is terminal.
var statusOrder = map[Status]int{
	StatusPending:  0,
	StatusReady:    1,
	StatusArchived: 2,
}

// Materialization records where a policy-approved rendering landed.
type Materialization struct {
	Rendering   string `json:"rendering"`
	StoragePath string `json:"storage_path"`
	ContentHash string `json:"content_hash"`
	SizeBytes   int    `json:"size_bytes"`
}

// Artifact is one catalogued execution output. SemanticPayload is the
// small always-kept summary; bulky renderings live behind Materializations
// in a blob store, subject to the materialization policy.
type Artifact struct {
	ArtifactID       string                 `json:"artifact_id"`
	TenantID         string                 `json:"tenant_id"`
	SessionID        string                 `json:"session_id,omitempty"`
	ExecutionID      string                 `json:"execution_id,omitempty"`
	ArtifactType     string                 `json:"artifact_type"`
	ResultType       string                 `json:"result_type,omitempty"`
	SemanticPayload  map[string]interface{} `json:"semantic_payload,omitempty"`
	Materializations []Materialization      `json:"materializations,omitempty"`
	ParentIDs        []string               `json:"parent_ids,omitempty"`
	ProducedBy       string                 `json:"produced_by,omitempty"`
	Status           Status                 `json:"status"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// New creates a PENDING artifact with a fresh id.
func New(tenantID, artifactType string) (*Artifact, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	now := time.Now().UTC()
	return &Artifact{
		ArtifactID:   uuid.New().String(),
		TenantID:     tenantID,
		ArtifactType: artifactType,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Transition moves the artifact to a later lifecycle status. Backward
// moves and repeats are rejected.
func (a *Artifact) Transition(next Status) error {
	from, ok := statusOrder[a.Status]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, a.Status)
	}
	to, ok := statusOrder[next]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, next)
	}
	if to <= from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, a.Status, next)
	}
	a.Status = next
	a.UpdatedAt = time.Now().UTC()
	return nil
}
