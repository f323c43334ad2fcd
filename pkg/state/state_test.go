package state

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func surfaces(t *testing.T) map[string]Surface {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/state.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sq, err := NewSQLiteSurface(db)
	require.NoError(t, err)
	return map[string]Surface{
		"memory": NewMemorySurface(),
		"sqlite": sq,
	}
}

func TestSurfacePutGet(t *testing.T) {
	for name, s := range surfaces(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			doc := map[string]interface{}{"status": StatusCreated, "n": float64(3)}
			require.NoError(t, s.Put(ctx, "t1", "execution/e1", doc))

			got, err := s.Get(ctx, "t1", "execution/e1")
			require.NoError(t, err)
			assert.Equal(t, StatusCreated, got["status"])
			assert.Equal(t, float64(3), got["n"])
		})
	}
}

func TestSurfaceOverwrite(t *testing.T) {
	for name, s := range surfaces(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, "t1", "k", map[string]interface{}{"status": StatusCreated}))
			require.NoError(t, s.Put(ctx, "t1", "k", map[string]interface{}{"status": StatusCompleted}))
			got, err := s.Get(ctx, "t1", "k")
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, got["status"])
		})
	}
}

func TestSurfaceTenantIsolation(t *testing.T) {
	for name, s := range surfaces(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, "t1", "k", map[string]interface{}{"v": "a"}))
			_, err := s.Get(ctx, "t2", "k")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSurfaceDelete(t *testing.T) {
	for name, s := range surfaces(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, "t1", "k", map[string]interface{}{"v": "a"}))
			require.NoError(t, s.Delete(ctx, "t1", "k"))
			_, err := s.Get(ctx, "t1", "k")
			assert.ErrorIs(t, err, ErrNotFound)
			// Delete is idempotent.
			assert.NoError(t, s.Delete(ctx, "t1", "k"))
		})
	}
}

func TestSurfaceValidation(t *testing.T) {
	for name, s := range surfaces(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			assert.ErrorIs(t, s.Put(ctx, "", "k", nil), ErrEmptyTenant)
			assert.ErrorIs(t, s.Put(ctx, "t1", "", nil), ErrEmptyKey)
		})
	}
}

func TestMemorySurfaceCopiesDocuments(t *testing.T) {
	s := NewMemorySurface()
	ctx := context.Background()
	doc := map[string]interface{}{"v": "original"}
	require.NoError(t, s.Put(ctx, "t1", "k", doc))
	doc["v"] = "mutated"

	got, err := s.Get(ctx, "t1", "k")
	require.NoError(t, err)
	assert.Equal(t, "original", got["v"])
}
