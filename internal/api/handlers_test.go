package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asanchezmanas/tactics/internal/domain"
	"github.com/asanchezmanas/tactics/internal/pipeline"
	"github.com/asanchezmanas/tactics/internal/registry"
	"github.com/asanchezmanas/tactics/internal/repository/postgres"
)

type fakePredictions struct {
	records map[string]domain.PredictionRecord // customerID -> record
}

func (f *fakePredictions) GetByCustomer(_ context.Context, tenantID, customerID, snapshotID string) (*domain.PredictionRecord, error) {
	rec, ok := f.records[customerID]
	if !ok || rec.SnapshotID != snapshotID || tenantID != "acme" {
		return nil, postgres.ErrNoPredictions
	}
	return &rec, nil
}

func (f *fakePredictions) ListBySnapshot(_ context.Context, tenantID, snapshotID string, limit, offset int) ([]domain.PredictionRecord, error) {
	var out []domain.PredictionRecord
	for _, rec := range f.records {
		if rec.SnapshotID == snapshotID && tenantID == "acme" {
			out = append(out, rec)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePredictions) SegmentCounts(_ context.Context, tenantID, snapshotID string) (map[string]int, error) {
	counts := make(map[string]int)
	for _, rec := range f.records {
		if rec.SnapshotID == snapshotID && tenantID == "acme" {
			counts[string(rec.Segment)]++
		}
	}
	if len(counts) == 0 {
		return nil, postgres.ErrNoPredictions
	}
	return counts, nil
}

type fakeAllocations struct {
	alloc *domain.BudgetAllocation
}

func (f *fakeAllocations) GetBySnapshot(_ context.Context, tenantID, snapshotID string) (*domain.BudgetAllocation, error) {
	if f.alloc == nil || f.alloc.SnapshotID != snapshotID || tenantID != "acme" {
		return nil, postgres.ErrNoAllocation
	}
	return f.alloc, nil
}

type fakeRunner struct {
	report *pipeline.Report
	err    error
	got    pipeline.Input
}

func (f *fakeRunner) Run(_ context.Context, in pipeline.Input) (*pipeline.Report, error) {
	f.got = in
	return f.report, f.err
}

func newTestHandlers(t *testing.T) (*Handlers, *fakePredictions, *fakeAllocations, *fakeRunner, *registry.Registry) {
	t.Helper()

	preds := &fakePredictions{records: map[string]domain.PredictionRecord{
		"c-1": {
			CustomerID:     "c-1",
			SnapshotID:     "run-1",
			ProbAlive:      0.82,
			PredictedValue: 640,
			ValueInterval:  domain.Interval{Lower: 410, Upper: 930},
			Segment:        domain.SegmentLoyal,
			Reason:         domain.ReasonSteadyRepeatBuyer,
		},
		"c-2": {
			CustomerID:     "c-2",
			SnapshotID:     "run-1",
			ProbAlive:      0.12,
			PredictedValue: 40,
			ValueInterval:  domain.Interval{Lower: 10, Upper: 95},
			Segment:        domain.SegmentLost,
			Reason:         domain.ReasonLongPurchaseGap,
		},
	}}
	allocs := &fakeAllocations{alloc: &domain.BudgetAllocation{
		SnapshotID:  "run-1",
		TotalBudget: 5000,
		Amounts:     map[string]float64{"search": 3200, "email": 1800},
	}}
	runner := &fakeRunner{report: &pipeline.Report{RunID: "run-2", TenantID: "acme"}}
	reg := registry.New(registry.NewMemoryStore(), nil, 0)

	return NewHandlers(reg, preds, allocs, runner), preds, allocs, runner, reg
}

func doRequest(t *testing.T, h *Handlers, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	SetupRoutes(h).ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	rec := doRequest(t, h, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestGetPrediction(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	rec := doRequest(t, h, http.MethodGet, "/api/tenants/acme/predictions/run-1/customers/c-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.PredictionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "c-1", got.CustomerID)
	assert.Equal(t, domain.SegmentLoyal, got.Segment)
	assert.InDelta(t, 640.0, got.PredictedValue, 1e-9)
}

func TestGetPredictionNotFound(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	rec := doRequest(t, h, http.MethodGet, "/api/tenants/acme/predictions/run-1/customers/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPredictionWrongTenant(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	// Another tenant must not see acme's records.
	rec := doRequest(t, h, http.MethodGet, "/api/tenants/rival/predictions/run-1/customers/c-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPredictions(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	rec := doRequest(t, h, http.MethodGet, "/api/tenants/acme/predictions/run-1?limit=10", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Predictions []domain.PredictionRecord `json:"predictions"`
		Count       int                       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Len(t, body.Predictions, 2)
}

func TestSegmentCounts(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	rec := doRequest(t, h, http.MethodGet, "/api/tenants/acme/predictions/run-1/segments", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Segments map[string]int `json:"segments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Segments[string(domain.SegmentLoyal)])
	assert.Equal(t, 1, body.Segments[string(domain.SegmentLost)])
}

func TestGetExplanation(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	rec := doRequest(t, h, http.MethodGet, "/api/tenants/acme/predictions/run-1/customers/c-2/explanation", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "c-2", body["customer_id"])
	assert.Equal(t, string(domain.ReasonLongPurchaseGap), body["reason_code"])
	assert.Equal(t, string(domain.SegmentLost), body["segment"])
}

func TestGetAllocation(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	rec := doRequest(t, h, http.MethodGet, "/api/tenants/acme/allocations/run-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.BudgetAllocation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.InDelta(t, 5000.0, got.TotalBudget, 1e-9)
	assert.InDelta(t, 3200.0, got.Amounts["search"], 1e-9)
}

func TestGetAllocationNotFound(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	rec := doRequest(t, h, http.MethodGet, "/api/tenants/acme/allocations/run-99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerRun(t *testing.T) {
	h, _, _, runner, _ := newTestHandlers(t)

	cutoff := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rec := doRequest(t, h, http.MethodPost, "/api/tenants/acme/runs", map[string]interface{}{
		"cutoff":       cutoff,
		"total_budget": 10000,
		"reason":       "scheduled",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", runner.got.TenantID)
	assert.True(t, runner.got.Cutoff.Equal(cutoff))
	assert.InDelta(t, 10000.0, runner.got.TotalBudget, 1e-9)

	var report pipeline.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "run-2", report.RunID)
}

func TestTriggerRunMapsDomainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"insufficient data", domain.ErrInsufficientData, http.StatusUnprocessableEntity},
		{"infeasible budget", domain.ErrOptimizerInfeasible, http.StatusUnprocessableEntity},
		{"invalid input", domain.ErrInvalidInput, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _, runner, _ := newTestHandlers(t)
			runner.report = nil
			runner.err = tt.err

			rec := doRequest(t, h, http.MethodPost, "/api/tenants/acme/runs", map[string]interface{}{
				"total_budget": 100,
			})
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestLatestRun(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	rec := doRequest(t, h, http.MethodGet, "/api/tenants/acme/runs/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/tenants/acme/runs", map[string]interface{}{
		"total_budget": 100,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/tenants/acme/runs/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report pipeline.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "run-2", report.RunID)

	// Runs are per tenant; another tenant sees nothing.
	rec = doRequest(t, h, http.MethodGet, "/api/tenants/rival/runs/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerRunBadBody(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/tenants/acme/runs", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	SetupRoutes(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSnapshotEndpoints(t *testing.T) {
	h, _, _, _, reg := newTestHandlers(t)
	ctx := context.Background()

	v1, err := reg.SaveSnapshot(ctx, "acme", "purchase", map[string]float64{"r": 0.5}, nil, "initial fit")
	require.NoError(t, err)
	v2, err := reg.SaveSnapshot(ctx, "acme", "purchase", map[string]float64{"r": 0.7}, nil, "refit")
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodGet, "/api/tenants/acme/snapshots/purchase", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Versions []domain.ModelSnapshot `json:"versions"`
		Count    int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)

	rec = doRequest(t, h, http.MethodGet, "/api/tenants/acme/snapshots/purchase/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var current struct {
		Snapshot domain.ModelSnapshot `json:"snapshot"`
		Stale    bool                 `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	assert.Equal(t, v2, current.Snapshot.VersionID)
	assert.False(t, current.Stale)

	rec = doRequest(t, h, http.MethodPost, "/api/tenants/acme/snapshots/purchase/rollback", map[string]string{
		"version_id": v1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/tenants/acme/snapshots/purchase/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	assert.Equal(t, v1, current.Snapshot.VersionID)
}

func TestRollbackUnknownVersion(t *testing.T) {
	h, _, _, _, reg := newTestHandlers(t)
	ctx := context.Background()

	_, err := reg.SaveSnapshot(ctx, "acme", "purchase", map[string]float64{"r": 0.5}, nil, "initial fit")
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodPost, "/api/tenants/acme/snapshots/purchase/rollback", map[string]string{
		"version_id": "no-such-version",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRollbackMissingVersionID(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	rec := doRequest(t, h, http.MethodPost, "/api/tenants/acme/snapshots/purchase/rollback", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCurrentSnapshotNotFound(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	rec := doRequest(t, h, http.MethodGet, "/api/tenants/acme/snapshots/purchase/current", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
