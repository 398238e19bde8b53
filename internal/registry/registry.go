// Package registry manages immutable, content-addressed snapshots of fitted
// model parameters, one namespace per tenant. Every save creates a new
// version; the tenant's per-model current pointer is the only mutable state,
// and moving it is serialized through a lock scoped to (tenant, model).
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/asanchezmanas/tactics/internal/domain"
	"github.com/asanchezmanas/tactics/internal/pkg/distlock"
)

// ErrNotFound is returned when a version or current pointer does not exist.
var ErrNotFound = errors.New("snapshot not found")

// Store persists snapshots and current pointers. Implementations must treat
// inserted snapshots as immutable and scope everything by tenant.
type Store interface {
	Insert(ctx context.Context, snap domain.ModelSnapshot) error
	Get(ctx context.Context, tenantID, modelName, versionID string) (*domain.ModelSnapshot, error)
	List(ctx context.Context, tenantID, modelName string) ([]domain.ModelSnapshot, error)
	CurrentID(ctx context.Context, tenantID, modelName string) (string, error)
	SetCurrent(ctx context.Context, tenantID, modelName, versionID string) error
	Delete(ctx context.Context, tenantID, modelName, versionID string) error
}

// LockFactory builds the mutual-exclusion lock guarding a pointer move.
type LockFactory func(key string) distlock.DistLock

// Registry is the versioned model store facade used by the pipeline and API.
type Registry struct {
	store      Store
	newLock    LockFactory
	staleAfter time.Duration
	now        func() time.Time
}

// New builds a registry. staleAfter controls when LoadCurrent reports a
// snapshot as stale; zero disables staleness checks.
func New(store Store, newLock LockFactory, staleAfter time.Duration) *Registry {
	return &Registry{
		store:      store,
		newLock:    newLock,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SaveSnapshot serializes params, creates a new immutable version and moves
// the tenant's current pointer to it. Returns the new version id.
func (r *Registry) SaveSnapshot(ctx context.Context, tenantID, modelName string, params any, metrics map[string]float64, reason string) (string, error) {
	if tenantID == "" || modelName == "" {
		return "", fmt.Errorf("%w: tenant and model name are required", domain.ErrInvalidInput)
	}

	blob, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal params for %s/%s: %w", tenantID, modelName, err)
	}
	digest := sha256.Sum256(blob)

	snap := domain.ModelSnapshot{
		VersionID:    uuid.New().String(),
		TenantID:     tenantID,
		ModelName:    modelName,
		Params:       blob,
		ParamsDigest: hex.EncodeToString(digest[:]),
		Metrics:      metrics,
		Reason:       reason,
		CreatedAt:    r.now(),
	}
	if err := r.store.Insert(ctx, snap); err != nil {
		return "", fmt.Errorf("insert snapshot %s/%s: %w", tenantID, modelName, err)
	}
	if err := r.moveCurrent(ctx, tenantID, modelName, snap.VersionID); err != nil {
		return "", err
	}
	return snap.VersionID, nil
}

// LoadCurrent returns the tenant's current snapshot for the model. The
// returned stale flag is a warning annotation, never a hard failure: callers
// still get the snapshot.
func (r *Registry) LoadCurrent(ctx context.Context, tenantID, modelName string) (*domain.ModelSnapshot, bool, error) {
	id, err := r.store.CurrentID(ctx, tenantID, modelName)
	if err != nil {
		return nil, false, fmt.Errorf("current pointer %s/%s: %w", tenantID, modelName, err)
	}
	snap, err := r.store.Get(ctx, tenantID, modelName, id)
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot %s/%s@%s: %w", tenantID, modelName, id, err)
	}
	stale := r.staleAfter > 0 && r.now().Sub(snap.CreatedAt) > r.staleAfter
	return snap, stale, nil
}

// LoadVersion returns one specific version.
func (r *Registry) LoadVersion(ctx context.Context, tenantID, modelName, versionID string) (*domain.ModelSnapshot, error) {
	snap, err := r.store.Get(ctx, tenantID, modelName, versionID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s/%s@%s: %w", tenantID, modelName, versionID, err)
	}
	return snap, nil
}

// ListVersions returns all versions for the model, newest first.
func (r *Registry) ListVersions(ctx context.Context, tenantID, modelName string) ([]domain.ModelSnapshot, error) {
	return r.store.List(ctx, tenantID, modelName)
}

// Rollback moves the current pointer to an existing prior version. History
// is untouched; the version's params are returned exactly as saved.
func (r *Registry) Rollback(ctx context.Context, tenantID, modelName, versionID string) error {
	if _, err := r.store.Get(ctx, tenantID, modelName, versionID); err != nil {
		return fmt.Errorf("rollback target %s/%s@%s: %w", tenantID, modelName, versionID, err)
	}
	return r.moveCurrent(ctx, tenantID, modelName, versionID)
}

// PruneVersions deletes the oldest versions beyond keep. The current version
// is never deleted, regardless of age.
func (r *Registry) PruneVersions(ctx context.Context, tenantID, modelName string, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	versions, err := r.store.List(ctx, tenantID, modelName)
	if err != nil {
		return 0, err
	}
	if len(versions) <= keep {
		return 0, nil
	}
	currentID, err := r.store.CurrentID(ctx, tenantID, modelName)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	deleted := 0
	// List is newest-first; everything past keep is a candidate.
	for _, v := range versions[keep:] {
		if v.VersionID == currentID {
			continue
		}
		if err := r.store.Delete(ctx, tenantID, modelName, v.VersionID); err != nil {
			return deleted, fmt.Errorf("prune %s/%s@%s: %w", tenantID, modelName, v.VersionID, err)
		}
		deleted++
	}
	return deleted, nil
}

// moveCurrent serializes pointer moves per (tenant, model). Concurrent runs
// for the same tenant contend here and nowhere else.
func (r *Registry) moveCurrent(ctx context.Context, tenantID, modelName, versionID string) error {
	if r.newLock != nil {
		lock := r.newLock(distlock.RegistryKey(tenantID, modelName))
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire registry lock %s/%s: %w", tenantID, modelName, err)
		}
		if !acquired {
			return fmt.Errorf("registry lock %s/%s held by another run", tenantID, modelName)
		}
		defer lock.Release(ctx)
	}
	if err := r.store.SetCurrent(ctx, tenantID, modelName, versionID); err != nil {
		return fmt.Errorf("move current pointer %s/%s -> %s: %w", tenantID, modelName, versionID, err)
	}
	return nil
}
