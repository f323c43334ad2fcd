package artifacts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReady(t *testing.T, c *Catalog, tenantID string, parents ...string) *Artifact {
	t.Helper()
	a, err := New(tenantID, "table")
	require.NoError(t, err)
	a.ParentIDs = parents
	require.NoError(t, a.Transition(StatusReady))
	require.NoError(t, c.Put(a))
	return a
}

func TestLifecycleForwardOnly(t *testing.T) {
	a, err := New("t1", "table")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, a.Status)

	require.NoError(t, a.Transition(StatusReady))
	require.NoError(t, a.Transition(StatusArchived))

	assert.ErrorIs(t, a.Transition(StatusReady), ErrInvalidStatus)
	assert.ErrorIs(t, a.Transition(StatusArchived), ErrInvalidStatus)
}

func TestLifecycleSkipToArchived(t *testing.T) {
	a, err := New("t1", "table")
	require.NoError(t, err)
	require.NoError(t, a.Transition(StatusArchived))
}

func TestNewRequiresTenant(t *testing.T) {
	_, err := New("", "table")
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestCatalogPutGet(t *testing.T) {
	c := NewCatalog()
	a := newReady(t, c, "t1")

	got, err := c.Get("t1", a.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, a.ArtifactID, got.ArtifactID)

	_, err = c.Get("t2", a.ArtifactID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalogLineage(t *testing.T) {
	c := NewCatalog()
	parent := newReady(t, c, "t1")
	child := newReady(t, c, "t1", parent.ArtifactID)

	got, err := c.Get("t1", child.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, []string{parent.ArtifactID}, got.ParentIDs)
}

func TestCatalogRejectsUnknownParent(t *testing.T) {
	c := NewCatalog()
	a, err := New("t1", "table")
	require.NoError(t, err)
	a.ParentIDs = []string{"missing"}
	assert.ErrorIs(t, c.Put(a), ErrUnknownParent)
}

func TestCatalogRejectsCrossTenantParent(t *testing.T) {
	c := NewCatalog()
	parent := newReady(t, c, "t1")

	a, err := New("t2", "table")
	require.NoError(t, err)
	a.ParentIDs = []string{parent.ArtifactID}
	assert.ErrorIs(t, c.Put(a), ErrUnknownParent)
}

func TestCatalogRejectsLineageCycle(t *testing.T) {
	c := NewCatalog()
	a := newReady(t, c, "t1")
	b := newReady(t, c, "t1", a.ArtifactID)

	// Re-inserting a with b as parent would close the loop a -> b -> a.
	a.ParentIDs = []string{b.ArtifactID}
	assert.ErrorIs(t, c.Put(a), ErrLineageCycle)
}

func TestCatalogDeleteIsIdempotent(t *testing.T) {
	c := NewCatalog()
	a := newReady(t, c, "t1")

	require.NoError(t, c.Delete("t1", a.ArtifactID))
	require.NoError(t, c.Delete("t1", a.ArtifactID))
	_, err := c.Get("t1", a.ArtifactID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalogDeleteEnforcesTenant(t *testing.T) {
	c := NewCatalog()
	a := newReady(t, c, "t1")
	assert.ErrorIs(t, c.Delete("t2", a.ArtifactID), ErrNotFound)
}

func TestCatalogArchive(t *testing.T) {
	c := NewCatalog()
	a := newReady(t, c, "t1")

	require.NoError(t, c.Archive("t1", a.ArtifactID))
	got, err := c.Get("t1", a.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, got.Status)

	assert.ErrorIs(t, c.Archive("t1", a.ArtifactID), ErrInvalidStatus)
}

func TestCatalogListByExecution(t *testing.T) {
	c := NewCatalog()
	a := newReady(t, c, "t1")
	a.ExecutionID = "e1"
	b := newReady(t, c, "t1")
	b.ExecutionID = "e2"

	got := c.ListByExecution("t1", "e1")
	require.Len(t, got, 1)
	assert.Equal(t, a.ArtifactID, got[0].ArtifactID)
}

func TestMemoryIndex(t *testing.T) {
	idx := NewMemoryIndex()
	a, err := New("t1", "table")
	require.NoError(t, err)
	require.NoError(t, idx.Add(a))

	assert.Equal(t, []string{a.ArtifactID}, idx.FindByType("t1", "table"))
	assert.Empty(t, idx.FindByType("t2", "table"))
	assert.Empty(t, idx.FindByType("t1", "chart"))
}
