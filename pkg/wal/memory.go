package wal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lattice-works/cortex/pkg/canonicalize"
)

const genesisHash = "genesis"

// MemoryWAL is a thread-safe in-memory WAL, chained per tenant.
type MemoryWAL struct {
	mu     sync.RWMutex
	chains map[string]*tenantChain
	clock  func() time.Time
}

type tenantChain struct {
	sequence uint64
	head     string
	entries  []Event
}

// NewMemoryWAL creates an empty in-memory WAL.
func NewMemoryWAL() *MemoryWAL {
	return &MemoryWAL{
		chains: make(map[string]*tenantChain),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for testing.
func (w *MemoryWAL) WithClock(clock func() time.Time) *MemoryWAL {
	w.clock = clock
	return w
}

func (w *MemoryWAL) Append(ctx context.Context, eventType EventType, tenantID string, payload map[string]interface{}) error {
	if !eventType.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	if tenantID == "" {
		return ErrMissingTenant
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize payload: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	chain, ok := w.chains[tenantID]
	if !ok {
		chain = &tenantChain{head: genesisHash}
		w.chains[tenantID] = chain
	}

	chain.sequence++
	entry := Event{
		Sequence:    chain.sequence,
		EventType:   eventType,
		TenantID:    tenantID,
		Payload:     payload,
		PayloadHash: canonicalize.HashBytes(payloadBytes),
		PrevHash:    chain.head,
		Timestamp:   w.clock().UTC(),
	}
	entryHash, err := computeEntryHash(entry)
	if err != nil {
		chain.sequence--
		return err
	}
	entry.EntryHash = entryHash

	chain.entries = append(chain.entries, entry)
	chain.head = entryHash
	return nil
}

func (w *MemoryWAL) Read(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	chain, ok := w.chains[tenantID]
	if !ok {
		return nil, nil
	}

	entries := chain.entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]Event, len(entries))
	copy(out, entries)
	return out, nil
}

// VerifyChain checks the integrity of a tenant's hash chain.
func (w *MemoryWAL) VerifyChain(tenantID string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	chain, ok := w.chains[tenantID]
	if !ok {
		return nil
	}

	expectedPrev := genesisHash
	for i, entry := range chain.entries {
		if entry.PrevHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has prev_hash %s, expected %s",
				ErrChainBroken, i+1, entry.PrevHash, expectedPrev)
		}
		computed, err := computeEntryHash(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, i+1, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i+1)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}

// computeEntryHash hashes the chained representation of an entry. EntryHash
// itself is excluded from the input.
func computeEntryHash(entry Event) (string, error) {
	hashable := struct {
		Sequence    uint64    `json:"sequence"`
		EventType   EventType `json:"event_type"`
		TenantID    string    `json:"tenant_id"`
		PayloadHash string    `json:"payload_hash"`
		PrevHash    string    `json:"prev_hash"`
		Timestamp   time.Time `json:"timestamp"`
	}{entry.Sequence, entry.EventType, entry.TenantID, entry.PayloadHash, entry.PrevHash, entry.Timestamp}

	raw, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry for hashing: %w", err)
	}
	return canonicalize.HashBytes(raw), nil
}
