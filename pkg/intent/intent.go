// Package intent defines the unit of work accepted by the runtime execution
// core: the Intent value object, the per-execution context handed to
// handlers, and the terminal ExecutionResult.
package intent

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lattice-works/cortex/pkg/canonicalize"
)

var (
	ErrNilIntent      = errors.New("intent is nil")
	ErrMissingType    = errors.New("intent_type is required")
	ErrMissingTenant  = errors.New("tenant_id is required")
	ErrMissingSession = errors.New("session_id is required")
)

// Intent describes one requested unit of work. Immutable once created.
type Intent struct {
	IntentID   string                 `json:"intent_id"`
	IntentType string                 `json:"intent_type"`
	TenantID   string                 `json:"tenant_id"`
	SessionID  string                 `json:"session_id"`
	SolutionID string                 `json:"solution_id,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// New creates an Intent with a generated id and validates it.
func New(intentType, tenantID, sessionID string, params map[string]interface{}) (*Intent, error) {
	in := &Intent{
		IntentID:   uuid.New().String(),
		IntentType: intentType,
		TenantID:   tenantID,
		SessionID:  sessionID,
		Parameters: params,
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return in, nil
}

// Validate performs structural checks only. Parameter semantics belong to
// the registered handler's schema.
func (i *Intent) Validate() error {
	if i == nil {
		return ErrNilIntent
	}
	if i.IntentType == "" {
		return ErrMissingType
	}
	if i.TenantID == "" {
		return ErrMissingTenant
	}
	if i.SessionID == "" {
		return ErrMissingSession
	}
	return nil
}

// ContentKey derives a deterministic idempotency key from the intent type,
// session and parameters. Two intents asking for the same work in the same
// session hash to the same key regardless of intent_id.
func (i *Intent) ContentKey() (string, error) {
	key, err := canonicalize.CanonicalHash(struct {
		IntentType string                 `json:"intent_type"`
		SessionID  string                 `json:"session_id"`
		Parameters map[string]interface{} `json:"parameters"`
	}{i.IntentType, i.SessionID, i.Parameters})
	if err != nil {
		return "", fmt.Errorf("content key derivation failed: %w", err)
	}
	return key, nil
}

// StringParam returns a string parameter, or the fallback when absent.
func (i *Intent) StringParam(name, fallback string) string {
	if i.Parameters == nil {
		return fallback
	}
	if v, ok := i.Parameters[name].(string); ok && v != "" {
		return v
	}
	return fallback
}
