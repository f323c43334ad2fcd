package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemorySurface is a thread-safe in-memory state surface. Documents are
// stored as serialized JSON so callers never share mutable maps.
type MemorySurface struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemorySurface creates an empty in-memory surface.
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{docs: make(map[string][]byte)}
}

func docKey(tenantID, key string) string {
	return tenantID + "\x00" + key
}

func (s *MemorySurface) Put(ctx context.Context, tenantID, key string, doc map[string]interface{}) error {
	if tenantID == "" {
		return ErrEmptyTenant
	}
	if key == "" {
		return ErrEmptyKey
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docKey(tenantID, key)] = raw
	return nil
}

func (s *MemorySurface) Get(ctx context.Context, tenantID, key string) (map[string]interface{}, error) {
	s.mu.RLock()
	raw, ok := s.docs[docKey(tenantID, key)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("corrupt document %s: %w", key, err)
	}
	return doc, nil
}

func (s *MemorySurface) Delete(ctx context.Context, tenantID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, docKey(tenantID, key))
	return nil
}
