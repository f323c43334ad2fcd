// Package boundary implements the two-phase data-access gate. Phase A
// negotiates whether external data may be accepted at all; Phase B decides,
// at commit time, whether and where an artifact may be durably materialized.
package boundary

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ContractState is the position of an ingest contract in its lifecycle.
type ContractState string

const (
	StateNoContract                ContractState = "NO_CONTRACT"
	StatePendingAccess             ContractState = "PENDING_ACCESS"
	StateAccessGranted             ContractState = "ACCESS_GRANTED"
	StateMaterializationAuthorized ContractState = "MATERIALIZATION_AUTHORIZED"
)

var (
	ErrInvalidTransition = errors.New("invalid contract state transition")
	ErrContractNotFound  = errors.New("boundary contract not found")
	ErrTenantMismatch    = errors.New("contract belongs to a different tenant")
)

// validTransitions encodes the one-way contract lifecycle.
var validTransitions = map[ContractState][]ContractState{
	StateNoContract:                {StatePendingAccess},
	StatePendingAccess:             {StateAccessGranted},
	StateAccessGranted:             {StateMaterializationAuthorized},
	StateMaterializationAuthorized: {},
}

// Contract authorizes intake of data from one external source. Immutable
// after creation except for its state, which only moves forward.
type Contract struct {
	ContractID               string                 `json:"contract_id"`
	TenantID                 string                 `json:"tenant_id"`
	ExternalSourceType       string                 `json:"external_source_type"`
	ExternalSourceIdentifier string                 `json:"external_source_identifier"`
	MaterializationPolicy    map[string]interface{} `json:"materialization_policy,omitempty"`
	AccessGranted            bool                   `json:"access_granted"`
	AccessReason             string                 `json:"access_reason,omitempty"`
	MVPPermissive            bool                   `json:"mvp_permissive,omitempty"`
	State                    ContractState          `json:"state"`
	CreatedAt                time.Time              `json:"created_at"`
}

// Transition advances the contract state, rejecting any backward or
// skipping move.
func (c *Contract) Transition(next ContractState) error {
	for _, allowed := range validTransitions[c.State] {
		if allowed == next {
			c.State = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, next)
}

// NewPermissiveContract synthesizes a locally granted MVP contract. It is
// the fallback when the gate is absent, unreachable, or denies access at
// ingest time: every ingest execution must hold a contract.
func NewPermissiveContract(tenantID, sourceType, sourceID string) *Contract {
	return &Contract{
		ContractID:               uuid.New().String(),
		TenantID:                 tenantID,
		ExternalSourceType:       sourceType,
		ExternalSourceIdentifier: sourceID,
		AccessGranted:            true,
		AccessReason:             "mvp permissive fallback",
		MVPPermissive:            true,
		State:                    StateAccessGranted,
		CreatedAt:                time.Now().UTC(),
	}
}

// ContractStore is a thread-safe in-memory contract store.
type ContractStore struct {
	mu        sync.RWMutex
	contracts map[string]*Contract
}

// NewContractStore creates an empty store.
func NewContractStore() *ContractStore {
	return &ContractStore{contracts: make(map[string]*Contract)}
}

// Put stores a contract by id.
func (s *ContractStore) Put(c *Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[c.ContractID] = c
}

// Transition advances a stored contract under the store's write lock, so
// concurrent commits on one contract serialize and at most one reaches the
// terminal state.
func (s *ContractStore) Transition(contractID, tenantID string, next ContractState) (*Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[contractID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, contractID)
	}
	if c.TenantID != tenantID {
		return nil, ErrTenantMismatch
	}
	if err := c.Transition(next); err != nil {
		return nil, err
	}
	return c, nil
}

// Get retrieves a contract, enforcing tenant ownership.
func (s *ContractStore) Get(contractID, tenantID string) (*Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[contractID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, contractID)
	}
	if c.TenantID != tenantID {
		return nil, ErrTenantMismatch
	}
	return c, nil
}
