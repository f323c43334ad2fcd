package state

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSurface(t *testing.T) (*PostgresSurface, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS state_docs").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewPostgresSurface(db)
	require.NoError(t, err)
	return s, mock
}

func TestPostgresPutUpserts(t *testing.T) {
	s, mock := newMockSurface(t)

	mock.ExpectExec("INSERT INTO state_docs").
		WithArgs("t1", "execution/e1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Put(context.Background(), "t1", "execution/e1", map[string]interface{}{"status": "created"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutValidates(t *testing.T) {
	s, _ := newMockSurface(t)

	assert.ErrorIs(t, s.Put(context.Background(), "", "k", nil), ErrEmptyTenant)
	assert.ErrorIs(t, s.Put(context.Background(), "t1", "", nil), ErrEmptyKey)
}

func TestPostgresGetReturnsDocument(t *testing.T) {
	s, mock := newMockSurface(t)

	rows := sqlmock.NewRows([]string{"doc"}).AddRow([]byte(`{"status":"completed"}`))
	mock.ExpectQuery("SELECT doc FROM state_docs").
		WithArgs("t1", "execution/e1").
		WillReturnRows(rows)

	doc, err := s.Get(context.Background(), "t1", "execution/e1")
	require.NoError(t, err)
	assert.Equal(t, "completed", doc["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetMissingDocument(t *testing.T) {
	s, mock := newMockSurface(t)

	mock.ExpectQuery("SELECT doc FROM state_docs").
		WithArgs("t1", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}))

	_, err := s.Get(context.Background(), "t1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
