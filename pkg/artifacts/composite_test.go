package artifacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newComposite(t *testing.T) *CompositeStore {
	t.Helper()
	blobs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewCompositeStore(NewCatalog(), blobs)
}

func TestPersistWithRenderings(t *testing.T) {
	s := newComposite(t)

	a, err := s.Persist(context.Background(), PersistInput{
		TenantID:          "t1",
		SessionID:         "s1",
		ExecutionID:       "e1",
		ArtifactType:      "table",
		ResultType:        "preview",
		SemanticPayload:   map[string]interface{}{"rows": 3},
		Renderings:        map[string]interface{}{"json": []interface{}{"a", "b"}},
		PersistRenderings: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusReady, a.Status)
	require.Len(t, a.Materializations, 1)
	m := a.Materializations[0]
	assert.Equal(t, "json", m.Rendering)
	assert.Equal(t, "blob/"+m.ContentHash, m.StoragePath)

	data, err := s.blobs.Get(context.Background(), m.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, string(data))

	got, err := s.Catalog().Get("t1", a.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, a.ArtifactID, got.ArtifactID)
}

func TestPersistWithoutRenderings(t *testing.T) {
	s := newComposite(t)

	a, err := s.Persist(context.Background(), PersistInput{
		TenantID:        "t1",
		ArtifactType:    "table",
		SemanticPayload: map[string]interface{}{"rows": 3},
		Renderings:      map[string]interface{}{"json": "bulky"},
	})
	require.NoError(t, err)
	assert.Empty(t, a.Materializations)
	assert.Equal(t, map[string]interface{}{"rows": 3}, a.SemanticPayload)
}

func TestPersistLinksParents(t *testing.T) {
	s := newComposite(t)
	ctx := context.Background()

	parent, err := s.Persist(ctx, PersistInput{TenantID: "t1", ArtifactType: "table"})
	require.NoError(t, err)

	child, err := s.Persist(ctx, PersistInput{
		TenantID:     "t1",
		ArtifactType: "chart",
		ParentIDs:    []string{parent.ArtifactID},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{parent.ArtifactID}, child.ParentIDs)

	_, err = s.Persist(ctx, PersistInput{
		TenantID:     "t1",
		ArtifactType: "chart",
		ParentIDs:    []string{"missing"},
	})
	assert.ErrorIs(t, err, ErrUnknownParent)
}

func TestPersistIdenticalRenderingsShareBlobs(t *testing.T) {
	s := newComposite(t)
	ctx := context.Background()

	in := PersistInput{
		TenantID:          "t1",
		ArtifactType:      "table",
		Renderings:        map[string]interface{}{"json": map[string]interface{}{"b": 2, "a": 1}},
		PersistRenderings: true,
	}
	a1, err := s.Persist(ctx, in)
	require.NoError(t, err)
	// Key order must not matter: canonicalization fixes the blob identity.
	in.Renderings = map[string]interface{}{"json": map[string]interface{}{"a": 1, "b": 2}}
	a2, err := s.Persist(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, a1.Materializations[0].ContentHash, a2.Materializations[0].ContentHash)
	assert.NotEqual(t, a1.ArtifactID, a2.ArtifactID)
}
