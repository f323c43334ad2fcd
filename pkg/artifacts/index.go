package artifacts

import "sync"

// Index is the secondary discovery surface. Indexing failures are
// degraded, not fatal: callers log and continue, the catalog remains the
// source of truth.
type Index interface {
	Add(a *Artifact) error
	FindByType(tenantID, artifactType string) []string
}

// MemoryIndex is a thread-safe in-memory Index.
type MemoryIndex struct {
	mu     sync.RWMutex
	byType map[string][]string
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{byType: make(map[string][]string)}
}

func indexKey(tenantID, artifactType string) string {
	return tenantID + "\x00" + artifactType
}

// Add records the artifact id under its tenant and type.
func (i *MemoryIndex) Add(a *Artifact) error {
	if a.TenantID == "" {
		return ErrMissingTenant
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	key := indexKey(a.TenantID, a.ArtifactType)
	i.byType[key] = append(i.byType[key], a.ArtifactID)
	return nil
}

// FindByType lists artifact ids of one type within a tenant.
func (i *MemoryIndex) FindByType(tenantID, artifactType string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	ids := i.byType[indexKey(tenantID, artifactType)]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
