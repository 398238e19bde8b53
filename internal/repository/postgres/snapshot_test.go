package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asanchezmanas/tactics/internal/domain"
	"github.com/asanchezmanas/tactics/internal/registry"
)

func TestSnapshotStoreInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	snap := domain.ModelSnapshot{
		VersionID:    "v-1",
		TenantID:     "tenant-a",
		ModelName:    domain.ModelPurchaseProcess,
		Params:       json.RawMessage(`{"r":0.5}`),
		ParamsDigest: "abc",
		Metrics:      map[string]float64{"ll": -12},
		Reason:       domain.ReasonScheduled,
		CreatedAt:    time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO model_snapshots").
		WithArgs(snap.VersionID, snap.TenantID, snap.ModelName, []byte(snap.Params),
			snap.ParamsDigest, sqlmock.AnyArg(), snap.Reason, snap.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewSnapshotStore(db)
	require.NoError(t, store.Insert(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotStoreGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT version_id, tenant_id, model_name").
		WithArgs("tenant-a", domain.ModelPurchaseProcess, "missing").
		WillReturnRows(sqlmock.NewRows([]string{"version_id"}))

	store := NewSnapshotStore(db)
	_, err = store.Get(context.Background(), "tenant-a", domain.ModelPurchaseProcess, "missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"version_id", "tenant_id", "model_name", "params", "params_digest", "metrics", "reason", "created_at",
	}).AddRow("v-1", "tenant-a", domain.ModelPurchaseProcess,
		[]byte(`{"r":0.5}`), "abc", []byte(`{"ll":-12}`), domain.ReasonScheduled, created)

	mock.ExpectQuery("SELECT version_id, tenant_id, model_name").
		WithArgs("tenant-a", domain.ModelPurchaseProcess, "v-1").
		WillReturnRows(rows)

	store := NewSnapshotStore(db)
	snap, err := store.Get(context.Background(), "tenant-a", domain.ModelPurchaseProcess, "v-1")
	require.NoError(t, err)
	assert.Equal(t, "v-1", snap.VersionID)
	assert.JSONEq(t, `{"r":0.5}`, string(snap.Params))
	assert.Equal(t, -12.0, snap.Metrics["ll"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotStoreSetCurrentUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO model_current").
		WithArgs("tenant-a", domain.ModelPurchaseProcess, "v-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewSnapshotStore(db)
	require.NoError(t, store.SetCurrent(context.Background(), "tenant-a", domain.ModelPurchaseProcess, "v-2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotStoreDeleteNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM model_snapshots").
		WithArgs("tenant-a", domain.ModelPurchaseProcess, "v-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewSnapshotStore(db)
	err = store.Delete(context.Background(), "tenant-a", domain.ModelPurchaseProcess, "v-9")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
