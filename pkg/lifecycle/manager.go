// Package lifecycle implements the execution lifecycle manager, the
// orchestrator that takes an intent from validation through handler
// dispatch, materialization policy, state commit, and event publication,
// recording every milestone in the write-ahead log.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lattice-works/cortex/pkg/artifacts"
	"github.com/lattice-works/cortex/pkg/audit"
	"github.com/lattice-works/cortex/pkg/boundary"
	"github.com/lattice-works/cortex/pkg/canonicalize"
	"github.com/lattice-works/cortex/pkg/intent"
	"github.com/lattice-works/cortex/pkg/outbox"
	"github.com/lattice-works/cortex/pkg/policy"
	"github.com/lattice-works/cortex/pkg/registry"
	"github.com/lattice-works/cortex/pkg/state"
	"github.com/lattice-works/cortex/pkg/wal"
)

// Manager orchestrates one execution per Execute call. Every collaborator
// is constructor-injected; optional ones are nil-checked at the single
// site that uses them.
type Manager struct {
	wal       wal.WAL
	surface   state.Surface
	outbox    outbox.Outbox
	registry  *registry.Registry
	policy    *policy.Engine
	store     *artifacts.CompositeStore
	contracts *boundary.ContractStore

	gate    boundary.Gate
	cache   *artifacts.Cache
	index   artifacts.Index
	auditor audit.Logger
	tracer  trace.Tracer

	ingestTypes map[string]struct{}
	commitType  string
	logger      *slog.Logger
}

// Option configures optional collaborators.
type Option func(*Manager)

// WithBoundaryGate installs the external boundary gate. Without it, ingest
// intents receive locally synthesized permissive contracts.
func WithBoundaryGate(g boundary.Gate) Option {
	return func(m *Manager) { m.gate = g }
}

// WithCache installs the rendering cache used for CACHE decisions.
func WithCache(c *artifacts.Cache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithIndex installs the secondary discovery index. Index failures degrade
// the execution, they never fail it.
func WithIndex(i artifacts.Index) Option {
	return func(m *Manager) { m.index = i }
}

// WithAudit installs the audit logger.
func WithAudit(a audit.Logger) Option {
	return func(m *Manager) { m.auditor = a }
}

// WithTracer installs an OpenTelemetry tracer spanning each execution.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithIngestTypes declares which intent types take external data and so
// require a boundary contract.
func WithIngestTypes(types ...string) Option {
	return func(m *Manager) {
		m.ingestTypes = make(map[string]struct{}, len(types))
		for _, t := range types {
			m.ingestTypes[t] = struct{}{}
		}
	}
}

// WithCommitIntentType declares the intent type that triggers Phase B
// materialization authorization.
func WithCommitIntentType(t string) Option {
	return func(m *Manager) { m.commitType = t }
}

// NewManager wires the required collaborators and applies options.
func NewManager(w wal.WAL, surface state.Surface, ob outbox.Outbox, reg *registry.Registry,
	eng *policy.Engine, store *artifacts.CompositeStore, opts ...Option) *Manager {
	m := &Manager{
		wal:         w,
		surface:     surface,
		outbox:      ob,
		registry:    reg,
		policy:      eng,
		store:       store,
		contracts:   boundary.NewContractStore(),
		ingestTypes: map[string]struct{}{"ingest_file": {}},
		commitType:  "commit_artifact",
		logger:      slog.Default().With("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Contracts exposes the contract store for inspection.
func (m *Manager) Contracts() *boundary.ContractStore {
	return m.contracts
}

// Execute runs one intent to a terminal result. Once an execution id has
// been assigned the method never returns a bare error: every failure is
// converted into a failure result backed by an EXECUTION_FAILED record and
// a failed snapshot.
func (m *Manager) Execute(ctx context.Context, in *intent.Intent) *intent.ExecutionResult {
	// Stage 1: structural validation. No context, no execution id, no WAL
	// entry for malformed intents.
	if err := in.Validate(); err != nil {
		return &intent.ExecutionResult{Success: false, Error: err.Error()}
	}
	if err := m.registry.ValidateParams(in.IntentType, in.Parameters); err != nil {
		return &intent.ExecutionResult{Success: false, Error: err.Error()}
	}

	// Stage 2: the receipt record precedes every side effect.
	if err := m.wal.Append(ctx, wal.EventIntentReceived, in.TenantID, map[string]interface{}{
		"intent_id":   in.IntentID,
		"intent_type": in.IntentType,
		"session_id":  in.SessionID,
	}); err != nil {
		return &intent.ExecutionResult{Success: false, Error: fmt.Sprintf("wal append failed: %v", err)}
	}

	// Stage 3: execution context, initial snapshot, started record.
	ectx := intent.NewExecutionContext(in)
	logger := m.logger.With("execution_id", ectx.ExecutionID, "intent_type", in.IntentType, "tenant_id", in.TenantID)

	if m.tracer != nil {
		var span trace.Span
		ctx, span = m.tracer.Start(ctx, "lifecycle.execute")
		span.SetAttributes(
			attribute.String("intent.type", in.IntentType),
			attribute.String("execution.id", ectx.ExecutionID),
			attribute.String("tenant.id", in.TenantID),
		)
		defer span.End()
	}

	if err := m.surface.Put(ctx, in.TenantID, "execution/"+ectx.ExecutionID, map[string]interface{}{
		"execution_id": ectx.ExecutionID,
		"intent_id":    in.IntentID,
		"intent_type":  in.IntentType,
		"session_id":   in.SessionID,
		"status":       state.StatusCreated,
	}); err != nil {
		return m.fail(ctx, ectx, logger, fmt.Errorf("initial snapshot failed: %w", err))
	}
	if err := m.wal.Append(ctx, wal.EventExecutionStarted, in.TenantID, map[string]interface{}{
		"execution_id": ectx.ExecutionID,
		"intent_type":  in.IntentType,
	}); err != nil {
		return m.fail(ctx, ectx, logger, fmt.Errorf("wal append failed: %w", err))
	}

	// Stage 4: resolve handlers before spending any further work.
	handlers, err := m.registry.Resolve(in.IntentType)
	if err != nil {
		return m.fail(ctx, ectx, logger, err)
	}

	// Stage 5: boundary gate.
	if m.isIngest(in.IntentType) {
		contract := boundary.Negotiate(ctx, m.gate, m.contracts, in, ectx,
			in.StringParam("external_source_type", "upload"), m.sourceIdentifier(in), in.Parameters)
		ectx.Gate.BoundaryContractID = contract.ContractID
		ectx.Gate.MVPPermissive = contract.MVPPermissive
	}
	if in.IntentType == m.commitType {
		contractID := in.StringParam("boundary_contract_id", "")
		grant, err := boundary.AuthorizeCommit(ctx, m.gate, m.contracts, contractID, in.TenantID, ectx, nil)
		if err != nil {
			return m.fail(ctx, ectx, logger, err)
		}
		ectx.Gate.BoundaryContractID = contractID
		ectx.Gate.MaterializationType = grant.MaterializationType
		ectx.Gate.MaterializationScope = grant.MaterializationScope
		ectx.Gate.BackingStore = grant.BackingStore
	}

	// Idempotency lookaside: a completed execution with the same content
	// key short-circuits dispatch and returns its committed references.
	contentKey, err := in.ContentKey()
	if err != nil {
		return m.fail(ctx, ectx, logger, fmt.Errorf("content key: %w", err))
	}
	if prior, err := m.surface.Get(ctx, in.TenantID, "idempotency/"+contentKey); err == nil {
		logger.InfoContext(ctx, "idempotent replay, reusing committed artifacts",
			"prior_execution_id", prior["execution_id"])
		priorRefs := toArtifactMap(prior["artifacts"])
		return m.complete(ctx, ectx, logger, priorRefs, priorRefs, nil, map[string]interface{}{
			"idempotent_replay":  true,
			"prior_execution_id": prior["execution_id"],
		})
	}

	// Stage 6: dispatch. Handler panics and errors both become failure
	// results, never a crash.
	merged := &registry.HandlerResult{Artifacts: make(map[string]registry.ArtifactPayload)}
	for _, h := range handlers {
		result, err := m.dispatch(ctx, h, in, ectx)
		if err != nil {
			logger.ErrorContext(ctx, "handler failed", "error", err)
			return m.fail(ctx, ectx, logger, err)
		}
		if result == nil {
			continue
		}
		for name, payload := range result.Artifacts {
			merged.Artifacts[name] = payload
		}
		merged.Events = append(merged.Events, result.Events...)
	}

	// Stage 7: per-artifact materialization policy.
	refs, full, err := m.materialize(ctx, ectx, logger, merged.Artifacts)
	if err != nil {
		return m.fail(ctx, ectx, logger, err)
	}

	// Record the content key so a retry of the same work converges.
	if err := m.surface.Put(ctx, in.TenantID, "idempotency/"+contentKey, map[string]interface{}{
		"execution_id": ectx.ExecutionID,
		"artifacts":    refs,
	}); err != nil {
		logger.WarnContext(ctx, "idempotency record failed", "error", err)
	}

	return m.complete(ctx, ectx, logger, refs, full, merged.Events, nil)
}

func (m *Manager) isIngest(intentType string) bool {
	_, ok := m.ingestTypes[intentType]
	return ok
}

func (m *Manager) sourceIdentifier(in *intent.Intent) string {
	if id := in.StringParam("external_source_identifier", ""); id != "" {
		return id
	}
	return in.StringParam("ui_name", "unknown")
}

func (m *Manager) dispatch(ctx context.Context, h registry.Handler, in *intent.Intent,
	ectx *intent.ExecutionContext) (result *registry.HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h.Execute(ctx, in, ectx)
}

// materialize applies the policy engine to each non-reference artifact. It
// returns two projections of the same artifacts: the reference-only form
// committed as the final snapshot, and the full form carrying the semantic
// payloads, written to the artifacts_received snapshot so small semantic
// content survives a restart regardless of the rendering decision.
func (m *Manager) materialize(ctx context.Context, ectx *intent.ExecutionContext,
	logger *slog.Logger, payloads map[string]registry.ArtifactPayload) (map[string]interface{}, map[string]interface{}, error) {
	refs := make(map[string]interface{}, len(payloads))
	full := make(map[string]interface{}, len(payloads))

	for name, payload := range payloads {
		if payload.Ref != "" {
			ref := map[string]interface{}{"artifact_ref": payload.Ref}
			refs[name] = ref
			full[name] = ref
			continue
		}

		outcome := m.policy.Evaluate(ctx, policyInput(ectx.TenantID, payload))
		if outcome.Degraded {
			logger.WarnContext(ctx, "policy evaluation degraded, renderings discarded",
				"artifact", name, "reason", outcome.Reason)
		}

		a, err := m.store.Persist(ctx, artifacts.PersistInput{
			TenantID:          ectx.TenantID,
			SessionID:         ectx.SessionID,
			ExecutionID:       ectx.ExecutionID,
			ArtifactType:      name,
			ResultType:        payload.ResultType,
			ProducedBy:        ectx.Intent.IntentType,
			SemanticPayload:   payload.SemanticPayload,
			Renderings:        payload.Renderings,
			PersistRenderings: outcome.Decision == policy.DecisionPersist,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("persist artifact %s: %w", name, err)
		}

		if outcome.Decision == policy.DecisionCache && m.cache != nil {
			for rendering, content := range payload.Renderings {
				raw, err := canonicalize.JCS(content)
				if err != nil {
					logger.WarnContext(ctx, "rendering not cacheable", "artifact", name, "error", err)
					continue
				}
				if err := m.cache.PutRendering(ctx, ectx.TenantID, a.ArtifactID, rendering, raw); err != nil {
					logger.WarnContext(ctx, "rendering cache write failed", "artifact", name, "error", err)
				}
			}
		}

		if m.index != nil {
			if err := m.index.Add(a); err != nil {
				logger.WarnContext(ctx, "artifact indexing failed", "artifact_id", a.ArtifactID, "error", err)
			}
		}

		ref := map[string]interface{}{
			"artifact_id": a.ArtifactID,
			"decision":    string(outcome.Decision),
		}
		if len(a.Materializations) > 0 {
			ref["storage_path"] = a.Materializations[0].StoragePath
		}
		refs[name] = ref

		fullForm := map[string]interface{}{
			"result_type":      payload.ResultType,
			"semantic_payload": payload.SemanticPayload,
		}
		for k, v := range ref {
			fullForm[k] = v
		}
		full[name] = fullForm
	}
	return refs, full, nil
}

func policyInput(tenantID string, p registry.ArtifactPayload) policy.Input {
	semantic, _ := canonicalize.JCS(p.SemanticPayload)
	renderings, _ := canonicalize.JCS(p.Renderings)
	return policy.Input{
		ArtifactType:   p.ResultType,
		ResultType:     p.ResultType,
		TenantID:       tenantID,
		SemanticBytes:  len(semantic),
		RenderingBytes: len(renderings),
		RenderingCount: len(p.Renderings),
	}
}

// complete runs stages 8 through 10: commit snapshots, stage and publish
// outbox events, and append the terminal COMPLETED record.
func (m *Manager) complete(ctx context.Context, ectx *intent.ExecutionContext, logger *slog.Logger,
	refs, full map[string]interface{}, events []intent.Event, extra map[string]interface{}) *intent.ExecutionResult {
	tenantID := ectx.TenantID

	// Stage 8: state before events. The full form lands first, then the
	// reference-only completed snapshot.
	if err := m.surface.Put(ctx, tenantID, "execution/"+ectx.ExecutionID, map[string]interface{}{
		"execution_id": ectx.ExecutionID,
		"status":       state.StatusArtifactsReceived,
		"artifacts":    full,
	}); err != nil {
		return m.fail(ctx, ectx, logger, fmt.Errorf("state commit failed: %w", err))
	}
	if err := m.surface.Put(ctx, tenantID, "execution/"+ectx.ExecutionID, map[string]interface{}{
		"execution_id": ectx.ExecutionID,
		"status":       state.StatusCompleted,
		"artifacts":    refs,
	}); err != nil {
		return m.fail(ctx, ectx, logger, fmt.Errorf("state commit failed: %w", err))
	}

	// Stage 9: staging failures are fatal, the event would be lost.
	// Publish failures are not: the event stays pending for the sweeper.
	for _, ev := range events {
		if _, err := m.outbox.AddEvent(ctx, ectx.ExecutionID, ev.EventType, ev.EventData); err != nil {
			return m.fail(ctx, ectx, logger, fmt.Errorf("outbox staging failed: %w", err))
		}
	}
	if len(events) > 0 {
		if _, err := m.outbox.PublishEvents(ctx, ectx.ExecutionID); err != nil {
			logger.WarnContext(ctx, "event publication deferred to sweeper", "error", err)
		}
	}

	// Stage 10: terminal record.
	if err := m.wal.Append(ctx, wal.EventExecutionCompleted, tenantID, map[string]interface{}{
		"execution_id":   ectx.ExecutionID,
		"artifact_count": len(refs),
		"event_count":    len(events),
	}); err != nil {
		return m.fail(ctx, ectx, logger, fmt.Errorf("wal append failed: %w", err))
	}

	m.record(ctx, ectx, "execution.completed")
	logger.InfoContext(ctx, "execution completed", "artifacts", len(refs), "events", len(events))

	result := &intent.ExecutionResult{
		ExecutionID: ectx.ExecutionID,
		Success:     true,
		Artifacts:   refs,
		Events:      events,
		Metadata:    extra,
	}
	return result
}

// fail is the single terminal failure path once an execution id exists.
// The FAILED record and snapshot are best effort; the result is returned
// regardless.
func (m *Manager) fail(ctx context.Context, ectx *intent.ExecutionContext,
	logger *slog.Logger, cause error) *intent.ExecutionResult {
	logger.ErrorContext(ctx, "execution failed", "error", cause)

	if err := m.wal.Append(ctx, wal.EventExecutionFailed, ectx.TenantID, map[string]interface{}{
		"execution_id": ectx.ExecutionID,
		"error":        cause.Error(),
	}); err != nil {
		logger.ErrorContext(ctx, "failed to record EXECUTION_FAILED", "error", err)
	}
	if err := m.surface.Put(ctx, ectx.TenantID, "execution/"+ectx.ExecutionID, map[string]interface{}{
		"execution_id": ectx.ExecutionID,
		"status":       state.StatusFailed,
		"error":        cause.Error(),
	}); err != nil {
		logger.ErrorContext(ctx, "failed snapshot write failed", "error", err)
	}
	m.record(ctx, ectx, "execution.failed")

	return &intent.ExecutionResult{
		ExecutionID: ectx.ExecutionID,
		Success:     false,
		Error:       cause.Error(),
	}
}

func (m *Manager) record(ctx context.Context, ectx *intent.ExecutionContext, action string) {
	if m.auditor == nil {
		return
	}
	actx := audit.WithTenant(ctx, ectx.TenantID)
	if err := m.auditor.Record(actx, audit.EventMutation, action, "execution/"+ectx.ExecutionID,
		map[string]interface{}{"intent_type": ectx.Intent.IntentType}); err != nil {
		m.logger.WarnContext(ctx, "audit record failed", "error", err)
	}
}

func toArtifactMap(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}
