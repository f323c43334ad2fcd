// Package saga runs multi-phase workflows on top of the state surface.
// Phases execute strictly in order, each phase result is checkpointed, and
// the first failing phase short-circuits the run. Compensation of already
// completed phases is left to the caller; the checkpoints record exactly
// how far a saga got.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-works/cortex/pkg/intent"
	"github.com/lattice-works/cortex/pkg/state"
)

// Fusion pipeline phase names.
const (
	PhaseDataQuality            = "DATA_QUALITY"
	PhaseSemanticInterpretation = "SEMANTIC_INTERPRETATION"
	PhaseSemanticMapping        = "SEMANTIC_MAPPING"
	PhaseRegistered             = "REGISTERED"
)

// Saga run statuses recorded on the saga document.
const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

var (
	ErrNoPhases   = errors.New("saga requires at least one phase")
	ErrNilPhase   = errors.New("saga phase has no run function")
	ErrMissingIDs = errors.New("saga tenant and session ids are required")
)

// PhaseFunc executes one phase. The input map carries the saga input plus
// whatever earlier phases merged into it via result metadata.
type PhaseFunc func(ctx context.Context, input map[string]interface{}) (*intent.ExecutionResult, error)

// Phase is one named step of a saga.
type Phase struct {
	Name string
	Run  PhaseFunc
}

// Coordinator creates sagas bound to a state surface.
type Coordinator struct {
	surface state.Surface
	logger  *slog.Logger
}

// NewCoordinator wires a coordinator to the surface used for checkpoints.
func NewCoordinator(surface state.Surface) *Coordinator {
	return &Coordinator{
		surface: surface,
		logger:  slog.Default().With("component", "saga"),
	}
}

// Saga is one created workflow instance.
type Saga struct {
	SagaID    string
	TenantID  string
	SessionID string
	Name      string

	phases  []Phase
	surface state.Surface
	logger  *slog.Logger
}

// CreateSaga validates the phase list and returns a runnable saga.
func (c *Coordinator) CreateSaga(tenantID, sessionID, name string, phases []Phase) (*Saga, error) {
	if tenantID == "" || sessionID == "" {
		return nil, ErrMissingIDs
	}
	if len(phases) == 0 {
		return nil, ErrNoPhases
	}
	for _, p := range phases {
		if p.Run == nil {
			return nil, fmt.Errorf("%w: %s", ErrNilPhase, p.Name)
		}
	}
	id := uuid.New().String()
	return &Saga{
		SagaID:    id,
		TenantID:  tenantID,
		SessionID: sessionID,
		Name:      name,
		phases:    phases,
		surface:   c.surface,
		logger:    c.logger.With("saga_id", id, "saga", name),
	}, nil
}

// Run executes the phases in order. The first phase returning a failure
// result ends the run and that result is returned untouched; later phases
// never execute. Checkpointing failures abort the run because a saga whose
// progress cannot be recorded cannot be recovered.
func (s *Saga) Run(ctx context.Context, input map[string]interface{}) (*intent.ExecutionResult, error) {
	if err := s.checkpointSaga(ctx, StatusRunning, ""); err != nil {
		return nil, err
	}

	// Phases share an accumulating copy of the input; the caller's map is
	// never mutated.
	acc := make(map[string]interface{}, len(input))
	for k, v := range input {
		acc[k] = v
	}

	var last *intent.ExecutionResult
	for _, phase := range s.phases {
		s.logger.InfoContext(ctx, "phase starting", "phase", phase.Name)

		result, err := phase.Run(ctx, acc)
		if err != nil {
			result = &intent.ExecutionResult{
				Success: false,
				Error:   fmt.Sprintf("phase %s: %v", phase.Name, err),
			}
		}
		if result == nil {
			result = &intent.ExecutionResult{Success: true}
		}

		if cerr := s.checkpointPhase(ctx, phase.Name, result); cerr != nil {
			return nil, cerr
		}

		if !result.Success {
			s.logger.WarnContext(ctx, "phase failed, saga aborted",
				"phase", phase.Name, "error", result.Error)
			if cerr := s.checkpointSaga(ctx, StatusFailed, phase.Name); cerr != nil {
				return nil, cerr
			}
			return result, nil
		}
		for k, v := range result.Metadata {
			acc[k] = v
		}
		last = result
	}

	if err := s.checkpointSaga(ctx, StatusCompleted, ""); err != nil {
		return nil, err
	}
	return last, nil
}

func (s *Saga) checkpointSaga(ctx context.Context, status, failedPhase string) error {
	doc := map[string]interface{}{
		"saga_id":    s.SagaID,
		"session_id": s.SessionID,
		"name":       s.Name,
		"status":     status,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if failedPhase != "" {
		doc["failed_phase"] = failedPhase
	}
	if err := s.surface.Put(ctx, s.TenantID, "saga/"+s.SagaID, doc); err != nil {
		return fmt.Errorf("checkpoint saga %s: %w", s.SagaID, err)
	}
	return nil
}

func (s *Saga) checkpointPhase(ctx context.Context, phase string, result *intent.ExecutionResult) error {
	doc := map[string]interface{}{
		"saga_id":    s.SagaID,
		"phase":      phase,
		"success":    result.Success,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if result.Error != "" {
		doc["error"] = result.Error
	}
	if len(result.Metadata) > 0 {
		doc["metadata"] = result.Metadata
	}
	key := "saga/" + s.SagaID + "/" + phase
	if err := s.surface.Put(ctx, s.TenantID, key, doc); err != nil {
		return fmt.Errorf("checkpoint phase %s: %w", phase, err)
	}
	return nil
}
