package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresSurface is a durable state surface backed by Postgres, paired
// with the Postgres WAL and outbox so committed execution state survives a
// restart.
type PostgresSurface struct {
	db *sql.DB
}

// NewPostgresSurface wraps an open Postgres connection and runs migrations.
func NewPostgresSurface(db *sql.DB) (*PostgresSurface, error) {
	s := &PostgresSurface{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresSurface) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS state_docs (
		tenant_id  TEXT NOT NULL,
		doc_key    TEXT NOT NULL,
		doc        JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, doc_key)
	)`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresSurface) Put(ctx context.Context, tenantID, key string, doc map[string]interface{}) error {
	if tenantID == "" {
		return ErrEmptyTenant
	}
	if key == "" {
		return ErrEmptyKey
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}
	query := `
		INSERT INTO state_docs (tenant_id, doc_key, doc, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, doc_key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`
	_, err = s.db.ExecContext(ctx, query, tenantID, key, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write state document: %w", err)
	}
	return nil
}

func (s *PostgresSurface) Get(ctx context.Context, tenantID, key string) (map[string]interface{}, error) {
	var raw []byte
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM state_docs WHERE tenant_id = $1 AND doc_key = $2`, tenantID, key)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read state document: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("corrupt document %s: %w", key, err)
	}
	return doc, nil
}

func (s *PostgresSurface) Delete(ctx context.Context, tenantID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM state_docs WHERE tenant_id = $1 AND doc_key = $2`, tenantID, key)
	if err != nil {
		return fmt.Errorf("failed to delete state document: %w", err)
	}
	return nil
}
