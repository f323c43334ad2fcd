package wal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lattice-works/cortex/pkg/canonicalize"

	_ "github.com/lib/pq"
)

// PostgresWAL is a durable WAL backed by Postgres, for deployments that
// already carry a relational store.
type PostgresWAL struct {
	db    *sql.DB
	clock func() time.Time
}

// NewPostgresWAL wraps an open Postgres connection and runs migrations.
func NewPostgresWAL(db *sql.DB) (*PostgresWAL, error) {
	w := &PostgresWAL{db: db, clock: time.Now}
	if err := w.migrate(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *PostgresWAL) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS wal_events (
		tenant_id    TEXT NOT NULL,
		seq          BIGINT NOT NULL,
		event_type   TEXT NOT NULL,
		payload      JSONB,
		payload_hash TEXT NOT NULL,
		prev_hash    TEXT NOT NULL,
		entry_hash   TEXT NOT NULL,
		ts           TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, seq)
	)`
	_, err := w.db.ExecContext(context.Background(), query)
	return err
}

func (w *PostgresWAL) Append(ctx context.Context, eventType EventType, tenantID string, payload map[string]interface{}) error {
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

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize concurrent appends for the tenant so the chain stays linear.
	var seq uint64
	var prevHash string
	row := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0),
		       COALESCE((SELECT entry_hash FROM wal_events WHERE tenant_id = $1 ORDER BY seq DESC LIMIT 1), $2)
		FROM wal_events WHERE tenant_id = $1`, tenantID, genesisHash)
	if err := row.Scan(&seq, &prevHash); err != nil {
		return fmt.Errorf("failed to read chain head: %w", err)
	}

	entry := Event{
		Sequence:    seq + 1,
		EventType:   eventType,
		TenantID:    tenantID,
		Payload:     payload,
		PayloadHash: canonicalize.HashBytes(payloadBytes),
		PrevHash:    prevHash,
		Timestamp:   w.clock().UTC(),
	}
	entryHash, err := computeEntryHash(entry)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wal_events (tenant_id, seq, event_type, payload, payload_hash, prev_hash, entry_hash, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tenantID, entry.Sequence, string(eventType), string(payloadBytes),
		entry.PayloadHash, entry.PrevHash, entryHash, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append WAL event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit WAL append: %w", err)
	}
	return nil
}

func (w *PostgresWAL) Read(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	query := `
		SELECT seq, event_type, payload, payload_hash, prev_hash, entry_hash, ts
		FROM wal_events WHERE tenant_id = $1 ORDER BY seq ASC`
	rows, err := w.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			seq         uint64
			et          string
			payloadJSON sql.NullString
			payloadHash string
			prevHash    string
			entryHash   string
			ts          time.Time
		)
		if err := rows.Scan(&seq, &et, &payloadJSON, &payloadHash, &prevHash, &entryHash, &ts); err != nil {
			return nil, err
		}
		ev := Event{
			Sequence:    seq,
			EventType:   EventType(et),
			TenantID:    tenantID,
			PayloadHash: payloadHash,
			PrevHash:    prevHash,
			EntryHash:   entryHash,
			Timestamp:   ts,
		}
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("corrupt payload JSON at seq %d: %w", seq, err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}
