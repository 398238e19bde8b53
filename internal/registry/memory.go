package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/asanchezmanas/tactics/internal/domain"
)

// MemoryStore is an in-memory Store used by tests and single-process runs
// that do not need durability.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string]map[string]domain.ModelSnapshot // namespace -> version id -> snapshot
	current  map[string]string                          // namespace -> version id
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string]map[string]domain.ModelSnapshot),
		current:  make(map[string]string),
	}
}

func namespace(tenantID, modelName string) string {
	return tenantID + "/" + modelName
}

func (s *MemoryStore) Insert(_ context.Context, snap domain.ModelSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := namespace(snap.TenantID, snap.ModelName)
	if s.versions[ns] == nil {
		s.versions[ns] = make(map[string]domain.ModelSnapshot)
	}
	if _, exists := s.versions[ns][snap.VersionID]; exists {
		return fmt.Errorf("version %s already exists in %s", snap.VersionID, ns)
	}
	s.versions[ns][snap.VersionID] = clone(snap)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID, modelName, versionID string) (*domain.ModelSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.versions[namespace(tenantID, modelName)][versionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(snap)
	return &out, nil
}

func (s *MemoryStore) List(_ context.Context, tenantID, modelName string) ([]domain.ModelSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ModelSnapshot
	for _, snap := range s.versions[namespace(tenantID, modelName)] {
		out = append(out, clone(snap))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].VersionID > out[j].VersionID
	})
	return out, nil
}

func (s *MemoryStore) CurrentID(_ context.Context, tenantID, modelName string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.current[namespace(tenantID, modelName)]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *MemoryStore) SetCurrent(_ context.Context, tenantID, modelName, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := namespace(tenantID, modelName)
	if _, ok := s.versions[ns][versionID]; !ok {
		return ErrNotFound
	}
	s.current[ns] = versionID
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID, modelName, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := namespace(tenantID, modelName)
	if _, ok := s.versions[ns][versionID]; !ok {
		return ErrNotFound
	}
	delete(s.versions[ns], versionID)
	return nil
}

// clone copies the snapshot so callers can never mutate stored state through
// the shared params slice.
func clone(snap domain.ModelSnapshot) domain.ModelSnapshot {
	out := snap
	out.Params = append([]byte(nil), snap.Params...)
	if snap.Metrics != nil {
		out.Metrics = make(map[string]float64, len(snap.Metrics))
		for k, v := range snap.Metrics {
			out.Metrics[k] = v
		}
	}
	return out
}
