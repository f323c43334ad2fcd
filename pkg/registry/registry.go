// Package registry maps an intent type to its registered handlers. Realm
// collaborators register handlers at startup; the lifecycle manager resolves
// and dispatches through this registry at execution time.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lattice-works/cortex/pkg/intent"
)

var (
	ErrNoHandler     = errors.New("no handler registered for intent type")
	ErrNilHandler    = errors.New("nil handler")
	ErrEmptyIntent   = errors.New("intent type is required")
	ErrInvalidParams = errors.New("intent parameters failed schema validation")
)

// ArtifactPayload is the shape a handler returns per produced artifact.
// SemanticPayload is small and always kept; Renderings are bulky and
// policy-gated. Ref marks an entry that only references an existing
// artifact and is exempt from policy evaluation.
type ArtifactPayload struct {
	ResultType      string                 `json:"result_type"`
	SemanticPayload map[string]interface{} `json:"semantic_payload,omitempty"`
	Renderings      map[string]interface{} `json:"renderings,omitempty"`
	Ref             string                 `json:"artifact_ref,omitempty"`
}

// HandlerResult is the structured output of one handler invocation.
// Handlers return structured failures for expected business conditions and
// reserve errors for true infra faults.
type HandlerResult struct {
	Artifacts map[string]ArtifactPayload `json:"artifacts,omitempty"`
	Events    []intent.Event             `json:"events,omitempty"`
}

// Handler executes one intent inside its execution context.
type Handler interface {
	Execute(ctx context.Context, in *intent.Intent, ectx *intent.ExecutionContext) (*HandlerResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, in *intent.Intent, ectx *intent.ExecutionContext) (*HandlerResult, error)

func (f HandlerFunc) Execute(ctx context.Context, in *intent.Intent, ectx *intent.ExecutionContext) (*HandlerResult, error) {
	return f(ctx, in, ectx)
}

// Registry is a thread-safe intent-type → handlers map with optional
// per-type parameter schemas.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	schemas  map[string]*jsonschema.Schema
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		handlers: make(map[string][]Handler),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Register appends a handler for the intent type. Multiple handlers may be
// registered; they are dispatched in registration order.
func (r *Registry) Register(intentType string, h Handler) error {
	if intentType == "" {
		return ErrEmptyIntent
	}
	if h == nil {
		return ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[intentType] = append(r.handlers[intentType], h)
	return nil
}

// RegisterSchema attaches a JSON Schema that intent parameters must satisfy
// before dispatch.
func (r *Registry) RegisterSchema(intentType string, schemaJSON []byte) error {
	if intentType == "" {
		return ErrEmptyIntent
	}
	compiler := jsonschema.NewCompiler()
	url := "registry:///" + intentType + ".schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("invalid schema for %s: %w", intentType, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("schema compilation failed for %s: %w", intentType, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[intentType] = schema
	return nil
}

// Resolve returns the handlers for an intent type, or ErrNoHandler.
func (r *Registry) Resolve(intentType string) ([]Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handlers := r.handlers[intentType]
	if len(handlers) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, intentType)
	}
	out := make([]Handler, len(handlers))
	copy(out, handlers)
	return out, nil
}

// ValidateParams checks intent parameters against the type's schema, if one
// is registered. Parameters are normalized through JSON so schema validation
// sees plain JSON types.
func (r *Registry) ValidateParams(intentType string, params map[string]interface{}) error {
	r.mu.RLock()
	schema := r.schemas[intentType]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to normalize parameters: %w", err)
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return fmt.Errorf("failed to normalize parameters: %w", err)
	}
	if err := schema.Validate(normalized); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// List returns the registered intent types.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Unregister removes all handlers for an intent type.
func (r *Registry) Unregister(intentType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, intentType)
	delete(r.schemas, intentType)
}
