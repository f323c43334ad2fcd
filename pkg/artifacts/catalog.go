package artifacts

import (
	"fmt"
	"sync"
)

// Catalog is the in-memory artifact catalog. Lineage is validated on
// insert so the parent graph stays acyclic.
type Catalog struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{artifacts: make(map[string]*Artifact)}
}

// Put inserts or replaces an artifact. Parents must already exist, belong
// to the same tenant, and not produce a cycle through the new entry.
func (c *Catalog) Put(a *Artifact) error {
	if a.TenantID == "" {
		return ErrMissingTenant
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pid := range a.ParentIDs {
		parent, ok := c.artifacts[pid]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParent, pid)
		}
		if parent.TenantID != a.TenantID {
			return fmt.Errorf("%w: %s belongs to another tenant", ErrUnknownParent, pid)
		}
		if c.reaches(pid, a.ArtifactID) {
			return fmt.Errorf("%w: %s -> %s", ErrLineageCycle, a.ArtifactID, pid)
		}
	}
	c.artifacts[a.ArtifactID] = a
	return nil
}

// reaches walks parent links from id looking for target. Caller holds the
// lock.
func (c *Catalog) reaches(id, target string) bool {
	if id == target {
		return true
	}
	a, ok := c.artifacts[id]
	if !ok {
		return false
	}
	for _, pid := range a.ParentIDs {
		if c.reaches(pid, target) {
			return true
		}
	}
	return false
}

// Get retrieves an artifact scoped to its tenant.
func (c *Catalog) Get(tenantID, artifactID string) (*Artifact, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.artifacts[artifactID]
	if !ok || a.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, artifactID)
	}
	return a, nil
}

// ListByExecution returns the artifacts produced by one execution.
func (c *Catalog) ListByExecution(tenantID, executionID string) []*Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Artifact
	for _, a := range c.artifacts {
		if a.TenantID == tenantID && a.ExecutionID == executionID {
			out = append(out, a)
		}
	}
	return out
}

// Archive moves an artifact to ARCHIVED.
func (c *Catalog) Archive(tenantID, artifactID string) error {
	a, err := c.Get(tenantID, artifactID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return a.Transition(StatusArchived)
}

// Delete hard-removes an artifact. Deleting an absent artifact is a no-op
// so retries converge.
func (c *Catalog) Delete(tenantID, artifactID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.artifacts[artifactID]
	if !ok {
		return nil
	}
	if a.TenantID != tenantID {
		return fmt.Errorf("%w: %s", ErrNotFound, artifactID)
	}
	delete(c.artifacts, artifactID)
	return nil
}
