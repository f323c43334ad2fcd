package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/lib/pq"
)

// PostgresOutbox is a durable outbox store. Staging uses ON CONFLICT DO
// NOTHING so re-staging the same event id is idempotent.
type PostgresOutbox struct {
	db        *sql.DB
	publisher Publisher
}

// NewPostgresOutbox wraps an open Postgres connection and runs migrations.
func NewPostgresOutbox(db *sql.DB, publisher Publisher) (*PostgresOutbox, error) {
	o := &PostgresOutbox{db: db, publisher: publisher}
	if err := o.migrate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *PostgresOutbox) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS outbox_events (
		id           TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		payload      JSONB,
		published    BOOLEAN NOT NULL DEFAULT FALSE,
		attempts     INTEGER NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ
	)`
	_, err := o.db.ExecContext(context.Background(), query)
	return err
}

func (o *PostgresOutbox) AddEvent(ctx context.Context, executionID, eventType string, payload map[string]interface{}) (string, error) {
	if executionID == "" {
		return "", ErrMissingExecution
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize event payload: %w", err)
	}
	id := uuid.New().String()
	query := `
		INSERT INTO outbox_events (id, execution_id, event_type, payload, published, attempts, created_at)
		VALUES ($1, $2, $3, $4, FALSE, 0, $5)
		ON CONFLICT (id) DO NOTHING`
	if _, err := o.db.ExecContext(ctx, query, id, executionID, eventType, payloadJSON, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to stage outbox event: %w", err)
	}
	return id, nil
}

func (o *PostgresOutbox) PublishEvents(ctx context.Context, executionID string) (int, error) {
	if o.publisher == nil {
		return 0, ErrNoPublisher
	}
	pending, err := o.GetPendingEvents(ctx, executionID)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, ev := range pending {
		if err := o.publisher(ctx, ev); err != nil {
			if _, uerr := o.db.ExecContext(ctx,
				`UPDATE outbox_events SET attempts = attempts + 1 WHERE id = $1`, ev.ID); uerr != nil {
				return published, fmt.Errorf("publish failed for event %s and attempt count not recorded: %w", ev.ID, uerr)
			}
			return published, fmt.Errorf("publish failed for event %s: %w", ev.ID, err)
		}
		if _, err := o.db.ExecContext(ctx,
			`UPDATE outbox_events SET published = TRUE, published_at = $2 WHERE id = $1`,
			ev.ID, time.Now().UTC()); err != nil {
			return published, fmt.Errorf("failed to mark event %s published: %w", ev.ID, err)
		}
		published++
	}
	return published, nil
}

func (o *PostgresOutbox) GetPendingEvents(ctx context.Context, executionID string) ([]Event, error) {
	query := `
		SELECT id, execution_id, event_type, payload, published, attempts, created_at, published_at
		FROM outbox_events
		WHERE execution_id = $1 AND published = FALSE
		ORDER BY created_at ASC`
	rows, err := o.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

func (o *PostgresOutbox) ListUnpublished(ctx context.Context, limit int) ([]Event, error) {
	query := `
		SELECT id, execution_id, event_type, payload, published, attempts, created_at, published_at
		FROM outbox_events
		WHERE published = FALSE
		ORDER BY created_at ASC
		LIMIT $1`
	rows, err := o.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan unpublished events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			ev          Event
			payloadJSON []byte
			publishedAt sql.NullTime
		)
		if err := rows.Scan(&ev.ID, &ev.ExecutionID, &ev.EventType, &payloadJSON,
			&ev.Published, &ev.Attempts, &ev.CreatedAt, &publishedAt); err != nil {
			return nil, err
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
				return nil, fmt.Errorf("corrupt payload JSON in outbox event %s: %w", ev.ID, err)
			}
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			ev.PublishedAt = &t
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
