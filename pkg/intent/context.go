package intent

import "github.com/google/uuid"

// GateMetadata is the typed side-channel written by the gate stages of an
// execution and read by the dispatched handler. It replaces an open
// metadata bag for gate outputs so every field is statically checkable.
type GateMetadata struct {
	BoundaryContractID   string `json:"boundary_contract_id,omitempty"`
	MVPPermissive        bool   `json:"mvp_permissive,omitempty"`
	MaterializationType  string `json:"materialization_type,omitempty"`
	MaterializationScope string `json:"materialization_scope,omitempty"`
	BackingStore         string `json:"backing_store,omitempty"`
}

// ExecutionContext is created fresh per execution and owned exclusively by
// that execution. Metadata is handler scratch space; gate outputs live in
// the typed Gate field.
type ExecutionContext struct {
	ExecutionID string                 `json:"execution_id"`
	TenantID    string                 `json:"tenant_id"`
	SessionID   string                 `json:"session_id"`
	Intent      *Intent                `json:"intent"`
	Gate        GateMetadata           `json:"gate"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// NewExecutionContext assigns an execution id and binds the intent.
func NewExecutionContext(in *Intent) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID: uuid.New().String(),
		TenantID:    in.TenantID,
		SessionID:   in.SessionID,
		Intent:      in,
		Metadata:    make(map[string]interface{}),
	}
}

// Event is a domain event emitted by a handler, staged through the outbox.
type Event struct {
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
}

// ExecutionResult is the terminal outcome of Execute. Error is a
// human-readable string; the WAL holds the audit record.
type ExecutionResult struct {
	ExecutionID string                 `json:"execution_id,omitempty"`
	Success     bool                   `json:"success"`
	Artifacts   map[string]interface{} `json:"artifacts,omitempty"`
	Events      []Event                `json:"events,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}
