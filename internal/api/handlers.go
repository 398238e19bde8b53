package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/asanchezmanas/tactics/internal/domain"
	"github.com/asanchezmanas/tactics/internal/pipeline"
	"github.com/asanchezmanas/tactics/internal/registry"
	"github.com/asanchezmanas/tactics/internal/repository/postgres"
)

// PredictionReader reads published prediction records.
type PredictionReader interface {
	GetByCustomer(ctx context.Context, tenantID, customerID, snapshotID string) (*domain.PredictionRecord, error)
	ListBySnapshot(ctx context.Context, tenantID, snapshotID string, limit, offset int) ([]domain.PredictionRecord, error)
	SegmentCounts(ctx context.Context, tenantID, snapshotID string) (map[string]int, error)
}

// AllocationReader reads published budget allocations.
type AllocationReader interface {
	GetBySnapshot(ctx context.Context, tenantID, snapshotID string) (*domain.BudgetAllocation, error)
}

// Runner triggers an on-demand pipeline run.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Report, error)
}

// Handlers contains the HTTP handlers and their dependencies.
type Handlers struct {
	registry    *registry.Registry
	predictions PredictionReader
	allocations AllocationReader
	runner      Runner
	startTime   time.Time

	mu       sync.RWMutex
	lastRuns map[string]*pipeline.Report
}

// NewHandlers creates the handler set. runner may be nil for read-only
// deployments.
func NewHandlers(reg *registry.Registry, predictions PredictionReader, allocations AllocationReader, runner Runner) *Handlers {
	return &Handlers{
		registry:    reg,
		predictions: predictions,
		allocations: allocations,
		runner:      runner,
		startTime:   time.Now(),
		lastRuns:    make(map[string]*pipeline.Report),
	}
}

// HealthCheck responds to GET /health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(h.startTime).String(),
	})
}

// TriggerRun handles POST /api/tenants/{tenantID}/runs: one on-demand batch
// run over the posted ledger.
func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		respondError(w, http.StatusNotImplemented, "run trigger not available on this deployment")
		return
	}

	var body struct {
		Transactions []domain.Transaction  `json:"transactions"`
		Channels     []domain.ChannelPoint `json:"channels"`
		Cutoff       time.Time             `json:"cutoff"`
		TotalBudget  float64               `json:"total_budget"`
		Reason       string                `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	tenantID := chi.URLParam(r, "tenantID")
	report, err := h.runner.Run(r.Context(), pipeline.Input{
		TenantID:     tenantID,
		Transactions: body.Transactions,
		Channels:     body.Channels,
		Cutoff:       body.Cutoff,
		TotalBudget:  body.TotalBudget,
		Reason:       body.Reason,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.mu.Lock()
	h.lastRuns[tenantID] = report
	h.mu.Unlock()

	respondJSON(w, http.StatusOK, report)
}

// LatestRun handles GET .../runs/latest: this process's most recent run
// report for the tenant, carrying the data-quality report and drift status.
func (h *Handlers) LatestRun(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	report, ok := h.lastRuns[chi.URLParam(r, "tenantID")]
	h.mu.RUnlock()
	if !ok {
		respondError(w, http.StatusNotFound, "no run recorded for tenant")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// ListPredictions handles GET /api/tenants/{tenantID}/predictions/{snapshotID}.
func (h *Handlers) ListPredictions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.predictions.ListBySnapshot(r.Context(),
		chi.URLParam(r, "tenantID"), chi.URLParam(r, "snapshotID"), limit, offset)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": records,
		"count":       len(records),
	})
}

// SegmentCounts handles GET .../predictions/{snapshotID}/segments.
func (h *Handlers) SegmentCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.predictions.SegmentCounts(r.Context(),
		chi.URLParam(r, "tenantID"), chi.URLParam(r, "snapshotID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"segments": counts})
}

// GetPrediction handles GET .../predictions/{snapshotID}/customers/{customerID}.
func (h *Handlers) GetPrediction(w http.ResponseWriter, r *http.Request) {
	record, err := h.predictions.GetByCustomer(r.Context(),
		chi.URLParam(r, "tenantID"), chi.URLParam(r, "customerID"), chi.URLParam(r, "snapshotID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// GetExplanation handles GET .../customers/{customerID}/explanation: the
// structured payload the presentation layer renders into prose.
func (h *Handlers) GetExplanation(w http.ResponseWriter, r *http.Request) {
	record, err := h.predictions.GetByCustomer(r.Context(),
		chi.URLParam(r, "tenantID"), chi.URLParam(r, "customerID"), chi.URLParam(r, "snapshotID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"customer_id":         record.CustomerID,
		"snapshot_id":         record.SnapshotID,
		"predicted_value":     record.PredictedValue,
		"confidence_interval": record.ValueInterval,
		"prob_alive":          record.ProbAlive,
		"segment":             record.Segment,
		"reason_code":         record.Reason,
		"warnings":            record.Warnings,
	})
}

// GetAllocation handles GET /api/tenants/{tenantID}/allocations/{snapshotID}.
func (h *Handlers) GetAllocation(w http.ResponseWriter, r *http.Request) {
	alloc, err := h.allocations.GetBySnapshot(r.Context(),
		chi.URLParam(r, "tenantID"), chi.URLParam(r, "snapshotID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, alloc)
}

// ListSnapshots handles GET /api/tenants/{tenantID}/snapshots/{modelName}.
func (h *Handlers) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	versions, err := h.registry.ListVersions(r.Context(),
		chi.URLParam(r, "tenantID"), chi.URLParam(r, "modelName"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"versions": versions,
		"count":    len(versions),
	})
}

// GetCurrentSnapshot handles GET .../snapshots/{modelName}/current. A stale
// snapshot is annotated, never withheld.
func (h *Handlers) GetCurrentSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, stale, err := h.registry.LoadCurrent(r.Context(),
		chi.URLParam(r, "tenantID"), chi.URLParam(r, "modelName"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	resp := map[string]interface{}{"snapshot": snap, "stale": stale}
	if stale {
		resp["warning"] = domain.ErrModelStale.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// Rollback handles POST .../snapshots/{modelName}/rollback.
func (h *Handlers) Rollback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VersionID string `json:"version_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.VersionID == "" {
		respondError(w, http.StatusBadRequest, "version_id is required")
		return
	}

	tenantID := chi.URLParam(r, "tenantID")
	modelName := chi.URLParam(r, "modelName")
	if err := h.registry.Rollback(r.Context(), tenantID, modelName, body.VersionID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"model_name": modelName,
		"current":    body.VersionID,
	})
}

// ========== Response Helpers ==========

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps the error taxonomy onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, postgres.ErrNoPredictions),
		errors.Is(err, postgres.ErrNoAllocation):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientData),
		errors.Is(err, domain.ErrOptimizerInfeasible),
		errors.Is(err, domain.ErrConvergenceFailure):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
