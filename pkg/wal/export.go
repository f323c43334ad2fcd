package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-works/cortex/pkg/canonicalize"
)

var ErrEmptyBundle = errors.New("no events to bundle")

// Bundle is an exportable, self-verifying slice of a tenant's WAL, used for
// post-hoc audit handoff.
type Bundle struct {
	BundleID   string    `json:"bundle_id"`
	TenantID   string    `json:"tenant_id"`
	CreatedAt  time.Time `json:"created_at"`
	StartSeq   uint64    `json:"start_sequence"`
	EndSeq     uint64    `json:"end_sequence"`
	EventCount int       `json:"event_count"`
	Events     []Event   `json:"events"`
	ChainHead  string    `json:"chain_head"`
	BundleHash string    `json:"bundle_hash"`
}

// NewBundle wraps events into a hashed audit bundle.
func NewBundle(tenantID string, events []Event) (*Bundle, error) {
	if len(events) == 0 {
		return nil, ErrEmptyBundle
	}
	b := &Bundle{
		BundleID:   uuid.New().String(),
		TenantID:   tenantID,
		CreatedAt:  time.Now().UTC(),
		StartSeq:   events[0].Sequence,
		EndSeq:     events[len(events)-1].Sequence,
		EventCount: len(events),
		Events:     events,
		ChainHead:  events[len(events)-1].EntryHash,
	}
	raw, err := json.Marshal(b.Events)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bundle events: %w", err)
	}
	b.BundleHash = canonicalize.HashBytes(raw)
	return b, nil
}

// VerifyBundle checks the bundle hash and internal chain consistency.
func VerifyBundle(b *Bundle) error {
	if b == nil || len(b.Events) == 0 {
		return ErrEmptyBundle
	}
	raw, err := json.Marshal(b.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle events: %w", err)
	}
	if canonicalize.HashBytes(raw) != b.BundleHash {
		return errors.New("bundle hash mismatch")
	}
	for i := 1; i < len(b.Events); i++ {
		if b.Events[i].PrevHash != b.Events[i-1].EntryHash {
			return fmt.Errorf("%w: at event %d", ErrChainBroken, i)
		}
	}
	return nil
}
