package artifacts

import (
	"context"
	"fmt"

	"github.com/lattice-works/cortex/pkg/canonicalize"
)

// PersistInput describes one artifact to catalogue. Renderings are only
// written to the blob store when PersistRenderings is set; the semantic
// payload is always kept on the catalog entry.
type PersistInput struct {
	TenantID          string
	SessionID         string
	ExecutionID       string
	ArtifactType      string
	ResultType        string
	ProducedBy        string
	SemanticPayload   map[string]interface{}
	Renderings        map[string]interface{}
	ParentIDs         []string
	PersistRenderings bool
}

// CompositeStore combines the catalog with a blob store: small semantic
// payloads live in the catalog, bulky renderings as content-addressed
// blobs.
type CompositeStore struct {
	catalog *Catalog
	blobs   BlobStore
}

// NewCompositeStore wires a catalog to a blob store.
func NewCompositeStore(catalog *Catalog, blobs BlobStore) *CompositeStore {
	return &CompositeStore{catalog: catalog, blobs: blobs}
}

// Catalog exposes the underlying catalog for reads.
func (s *CompositeStore) Catalog() *Catalog {
	return s.catalog
}

// Persist creates a READY artifact from the input. Each rendering is
// canonicalized before storage so identical content always lands at the
// same blob.
func (s *CompositeStore) Persist(ctx context.Context, in PersistInput) (*Artifact, error) {
	a, err := New(in.TenantID, in.ArtifactType)
	if err != nil {
		return nil, err
	}
	a.SessionID = in.SessionID
	a.ExecutionID = in.ExecutionID
	a.ResultType = in.ResultType
	a.ProducedBy = in.ProducedBy
	a.SemanticPayload = in.SemanticPayload
	a.ParentIDs = in.ParentIDs

	if in.PersistRenderings {
		for name, rendering := range in.Renderings {
			raw, err := canonicalize.JCS(rendering)
			if err != nil {
				return nil, fmt.Errorf("canonicalize rendering %s: %w", name, err)
			}
			hash, err := s.blobs.Put(ctx, raw)
			if err != nil {
				return nil, fmt.Errorf("store rendering %s: %w", name, err)
			}
			a.Materializations = append(a.Materializations, Materialization{
				Rendering:   name,
				StoragePath: "blob/" + hash,
				ContentHash: hash,
				SizeBytes:   len(raw),
			})
		}
	}

	if err := a.Transition(StatusReady); err != nil {
		return nil, err
	}
	if err := s.catalog.Put(a); err != nil {
		return nil, err
	}
	return a, nil
}
