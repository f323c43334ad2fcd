package wal

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/wal.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteWALAppendAndRead(t *testing.T) {
	w, err := NewSQLiteWAL(openTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, w.Append(ctx, EventIntentReceived, "t1", map[string]interface{}{"intent_id": "i1"}))
	require.NoError(t, w.Append(ctx, EventExecutionStarted, "t1", map[string]interface{}{"execution_id": "e1"}))
	require.NoError(t, w.Append(ctx, EventExecutionCompleted, "t1", map[string]interface{}{"execution_id": "e1"}))

	events, err := w.Read(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(1), events[0].Sequence)
	assert.Equal(t, "genesis", events[0].PrevHash)
	assert.Equal(t, events[0].EntryHash, events[1].PrevHash)
	assert.Equal(t, events[1].EntryHash, events[2].PrevHash)
	assert.Equal(t, "e1", events[1].Payload["execution_id"])
}

func TestSQLiteWALTenantIsolation(t *testing.T) {
	w, err := NewSQLiteWAL(openTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, w.Append(ctx, EventIntentReceived, "t1", nil))
	require.NoError(t, w.Append(ctx, EventIntentReceived, "t2", nil))

	t2, err := w.Read(ctx, "t2", 0)
	require.NoError(t, err)
	require.Len(t, t2, 1)
	assert.Equal(t, uint64(1), t2[0].Sequence)
}

func TestSQLiteWALReadLimit(t *testing.T) {
	w, err := NewSQLiteWAL(openTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, w.Append(ctx, EventIntentReceived, "t1", nil))
	}
	events, err := w.Read(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(3), events[0].Sequence)
}

func TestSQLiteWALRejectsUnknownEventType(t *testing.T) {
	w, err := NewSQLiteWAL(openTestDB(t))
	require.NoError(t, err)
	assert.ErrorIs(t, w.Append(context.Background(), EventType("BOGUS"), "t1", nil), ErrUnknownEventType)
}
