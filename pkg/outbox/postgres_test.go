package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockOutbox(t *testing.T, publisher Publisher) (*PostgresOutbox, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS outbox_events").WillReturnResult(sqlmock.NewResult(0, 0))
	o, err := NewPostgresOutbox(db, publisher)
	require.NoError(t, err)
	return o, mock
}

func TestPostgresAddEventStages(t *testing.T) {
	o, mock := newMockOutbox(t, nil)

	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(sqlmock.AnyArg(), "e1", "file_ingested", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := o.AddEvent(context.Background(), "e1", "file_ingested", map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPublishEventsMarksPublished(t *testing.T) {
	var delivered []Event
	publisher := func(ctx context.Context, ev Event) error {
		delivered = append(delivered, ev)
		return nil
	}
	o, mock := newMockOutbox(t, publisher)

	rows := sqlmock.NewRows([]string{"id", "execution_id", "event_type", "payload", "published", "attempts", "created_at", "published_at"}).
		AddRow("ev-1", "e1", "file_ingested", []byte(`{"k":"v"}`), false, 0, time.Now(), nil)
	mock.ExpectQuery("SELECT id, execution_id, event_type, payload, published, attempts, created_at, published_at").
		WithArgs("e1").
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE outbox_events SET published = TRUE").
		WithArgs("ev-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := o.PublishEvents(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, delivered, 1)
	assert.Equal(t, "file_ingested", delivered[0].EventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPublishFailureIncrementsAttempts(t *testing.T) {
	publisher := func(ctx context.Context, ev Event) error {
		return assert.AnError
	}
	o, mock := newMockOutbox(t, publisher)

	rows := sqlmock.NewRows([]string{"id", "execution_id", "event_type", "payload", "published", "attempts", "created_at", "published_at"}).
		AddRow("ev-1", "e1", "file_ingested", nil, false, 2, time.Now(), nil)
	mock.ExpectQuery("SELECT id, execution_id, event_type, payload, published, attempts, created_at, published_at").
		WithArgs("e1").
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE outbox_events SET attempts = attempts \\+ 1").
		WithArgs("ev-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := o.PublishEvents(context.Background(), "e1")
	assert.Error(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
