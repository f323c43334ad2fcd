package boundary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lattice-works/cortex/pkg/intent"
)

var ErrMaterializationDenied = errors.New("materialization authorization denied")

// AccessGrant is the Phase A response.
type AccessGrant struct {
	AccessGranted bool   `json:"access_granted"`
	ContractID    string `json:"contract_id"`
	AccessReason  string `json:"access_reason,omitempty"`
}

// MaterializationGrant is the Phase B response.
type MaterializationGrant struct {
	MaterializationAllowed bool   `json:"materialization_allowed"`
	MaterializationType    string `json:"materialization_type,omitempty"`
	MaterializationScope   string `json:"materialization_scope,omitempty"`
	BackingStore           string `json:"materialization_backing_store,omitempty"`
	Reason                 string `json:"reason,omitempty"`
}

// Gate is the external boundary-gate collaborator. A deployment without a
// gate passes nil; the negotiation falls back to permissive contracts.
type Gate interface {
	RequestDataAccess(ctx context.Context, in *intent.Intent, ectx *intent.ExecutionContext,
		sourceType, sourceID string, sourceMeta map[string]interface{}) (*AccessGrant, error)
	AuthorizeMaterialization(ctx context.Context, contractID, tenantID string,
		ectx *intent.ExecutionContext, policy map[string]interface{}) (*MaterializationGrant, error)
}

// Negotiate runs Phase A for an ingest intent and always returns a usable
// contract: gate absence, gate failure, and explicit denial all degrade to
// a locally synthesized permissive contract. The returned contract is
// already stored.
func Negotiate(ctx context.Context, gate Gate, store *ContractStore,
	in *intent.Intent, ectx *intent.ExecutionContext,
	sourceType, sourceID string, sourceMeta map[string]interface{}) *Contract {
	logger := slog.Default().With("component", "boundary", "execution_id", ectx.ExecutionID)

	if gate == nil {
		c := NewPermissiveContract(in.TenantID, sourceType, sourceID)
		store.Put(c)
		logger.InfoContext(ctx, "no boundary gate configured, issued permissive contract",
			"contract_id", c.ContractID)
		return c
	}

	grant, err := gate.RequestDataAccess(ctx, in, ectx, sourceType, sourceID, sourceMeta)
	if err != nil || grant == nil || !grant.AccessGranted || grant.ContractID == "" {
		c := NewPermissiveContract(in.TenantID, sourceType, sourceID)
		store.Put(c)
		logger.WarnContext(ctx, "boundary gate unavailable or denied, issued permissive contract",
			"contract_id", c.ContractID, "error", err)
		return c
	}

	c := &Contract{
		ContractID:               grant.ContractID,
		TenantID:                 in.TenantID,
		ExternalSourceType:       sourceType,
		ExternalSourceIdentifier: sourceID,
		AccessGranted:            true,
		AccessReason:             grant.AccessReason,
		State:                    StateNoContract,
		CreatedAt:                time.Now().UTC(),
	}
	// Walk the contract through its ingest-time states.
	_ = c.Transition(StatePendingAccess)
	_ = c.Transition(StateAccessGranted)
	store.Put(c)
	return c
}

// AuthorizeCommit runs Phase B for a commit intent. Unlike Phase A there is
// no fallback: failure or denial aborts the execution, because committing
// is an explicit user action.
func AuthorizeCommit(ctx context.Context, gate Gate, store *ContractStore,
	contractID, tenantID string, ectx *intent.ExecutionContext,
	policy map[string]interface{}) (*MaterializationGrant, error) {
	if gate == nil {
		return nil, fmt.Errorf("%w: no boundary gate configured", ErrMaterializationDenied)
	}

	if _, err := store.Get(contractID, tenantID); err != nil {
		return nil, err
	}

	grant, err := gate.AuthorizeMaterialization(ctx, contractID, tenantID, ectx, policy)
	if err != nil {
		return nil, fmt.Errorf("materialization authorization failed: %w", err)
	}
	if grant == nil || !grant.MaterializationAllowed {
		reason := ""
		if grant != nil {
			reason = grant.Reason
		}
		return nil, fmt.Errorf("%w: %s", ErrMaterializationDenied, reason)
	}

	if _, err := store.Transition(contractID, tenantID, StateMaterializationAuthorized); err != nil {
		return nil, err
	}
	return grant, nil
}
