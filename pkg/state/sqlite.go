package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSurface is a durable state surface backed by SQLite.
type SQLiteSurface struct {
	db *sql.DB
}

// NewSQLiteSurface wraps an open SQLite database and runs migrations.
func NewSQLiteSurface(db *sql.DB) (*SQLiteSurface, error) {
	s := &SQLiteSurface{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSurface) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS state_docs (
		tenant_id  TEXT NOT NULL,
		doc_key    TEXT NOT NULL,
		doc        TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, doc_key)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteSurface) Put(ctx context.Context, tenantID, key string, doc map[string]interface{}) error {
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
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, doc_key) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query, tenantID, key, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write state document: %w", err)
	}
	return nil
}

func (s *SQLiteSurface) Get(ctx context.Context, tenantID, key string) (map[string]interface{}, error) {
	var raw string
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM state_docs WHERE tenant_id = ? AND doc_key = ?`, tenantID, key)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read state document: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("corrupt document %s: %w", key, err)
	}
	return doc, nil
}

func (s *SQLiteSurface) Delete(ctx context.Context, tenantID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM state_docs WHERE tenant_id = ? AND doc_key = ?`, tenantID, key)
	if err != nil {
		return fmt.Errorf("failed to delete state document: %w", err)
	}
	return nil
}
