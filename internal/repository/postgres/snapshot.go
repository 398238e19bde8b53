// Package postgres implements the persistence interfaces against PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/asanchezmanas/tactics/internal/domain"
	"github.com/asanchezmanas/tactics/internal/registry"
)

// SnapshotStore implements registry.Store against PostgreSQL. Versions live
// in model_snapshots; the per-(tenant, model) current pointer lives in
// model_current and is moved with an upsert.
type SnapshotStore struct{ db *sql.DB }

// NewSnapshotStore creates a Postgres-backed snapshot store.
func NewSnapshotStore(db *sql.DB) *SnapshotStore { return &SnapshotStore{db: db} }

func (s *SnapshotStore) Insert(ctx context.Context, snap domain.ModelSnapshot) error {
	metrics, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("marshal snapshot metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_snapshots (version_id, tenant_id, model_name, params, params_digest, metrics, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, snap.VersionID, snap.TenantID, snap.ModelName, []byte(snap.Params), snap.ParamsDigest, metrics, snap.Reason, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Get(ctx context.Context, tenantID, modelName, versionID string) (*domain.ModelSnapshot, error) {
	snap := &domain.ModelSnapshot{}
	var params, metrics []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT version_id, tenant_id, model_name, params, params_digest, metrics, reason, created_at
		FROM model_snapshots
		WHERE tenant_id = $1 AND model_name = $2 AND version_id = $3
	`, tenantID, modelName, versionID).Scan(
		&snap.VersionID, &snap.TenantID, &snap.ModelName, &params,
		&snap.ParamsDigest, &metrics, &snap.Reason, &snap.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	snap.Params = params
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &snap.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot metrics: %w", err)
		}
	}
	return snap, nil
}

func (s *SnapshotStore) List(ctx context.Context, tenantID, modelName string) ([]domain.ModelSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version_id, tenant_id, model_name, params, params_digest, metrics, reason, created_at
		FROM model_snapshots
		WHERE tenant_id = $1 AND model_name = $2
		ORDER BY created_at DESC, version_id DESC
	`, tenantID, modelName)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.ModelSnapshot
	for rows.Next() {
		var snap domain.ModelSnapshot
		var params, metrics []byte
		if err := rows.Scan(
			&snap.VersionID, &snap.TenantID, &snap.ModelName, &params,
			&snap.ParamsDigest, &metrics, &snap.Reason, &snap.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Params = params
		if len(metrics) > 0 {
			if err := json.Unmarshal(metrics, &snap.Metrics); err != nil {
				return nil, fmt.Errorf("unmarshal snapshot metrics: %w", err)
			}
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SnapshotStore) CurrentID(ctx context.Context, tenantID, modelName string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT version_id FROM model_current
		WHERE tenant_id = $1 AND model_name = $2
	`, tenantID, modelName).Scan(&id)
	if err == sql.ErrNoRows {
		return "", registry.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get current pointer: %w", err)
	}
	return id, nil
}

func (s *SnapshotStore) SetCurrent(ctx context.Context, tenantID, modelName, versionID string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO model_current (tenant_id, model_name, version_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, model_name)
		DO UPDATE SET version_id = EXCLUDED.version_id, updated_at = NOW()
	`, tenantID, modelName, versionID)
	if err != nil {
		return fmt.Errorf("set current pointer: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("set current pointer: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Delete(ctx context.Context, tenantID, modelName, versionID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM model_snapshots
		WHERE tenant_id = $1 AND model_name = $2 AND version_id = $3
	`, tenantID, modelName, versionID)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}
