// Package pipeline orchestrates one tenant's end-to-end run: aggregate the
// ledger, fit the customer-side and channel-side models concurrently, score
// every customer, solve the budget allocation, and publish immutable
// snapshots. A run processes exactly one tenant and terminates; partial fits
// are never persisted as current.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asanchezmanas/tactics/internal/aggregate"
	"github.com/asanchezmanas/tactics/internal/allocator"
	"github.com/asanchezmanas/tactics/internal/bgnbd"
	"github.com/asanchezmanas/tactics/internal/config"
	"github.com/asanchezmanas/tactics/internal/domain"
	"github.com/asanchezmanas/tactics/internal/drift"
	"github.com/asanchezmanas/tactics/internal/gammagamma"
	"github.com/asanchezmanas/tactics/internal/pkg/logger"
	"github.com/asanchezmanas/tactics/internal/registry"
	"github.com/asanchezmanas/tactics/internal/response"
	"github.com/asanchezmanas/tactics/internal/segment"
	"github.com/asanchezmanas/tactics/internal/uncertainty"
)

// PredictionStore receives one run's scored customers.
type PredictionStore interface {
	SaveBatch(ctx context.Context, tenantID string, records []domain.PredictionRecord) error
}

// AllocationStore receives one run's budget allocation.
type AllocationStore interface {
	Save(ctx context.Context, tenantID string, a domain.BudgetAllocation) error
}

// Input is everything one run consumes: a bounded, already-fetched batch.
type Input struct {
	TenantID     string
	Transactions []domain.Transaction
	Channels     []domain.ChannelPoint
	Cutoff       time.Time
	TotalBudget  float64
	Reason       string
	// Progress, when set, receives Monte-Carlo progress for the CLI.
	Progress func(done, total int)
}

// Report summarizes a completed run.
type Report struct {
	RunID       string                   `json:"run_id"`
	TenantID    string                   `json:"tenant_id"`
	Quality     aggregate.QualityReport  `json:"quality"`
	VersionIDs  map[string]string        `json:"version_ids"`
	Predictions int                      `json:"predictions"`
	Allocation  *domain.BudgetAllocation `json:"allocation,omitempty"`
	Drift       *drift.Report            `json:"drift,omitempty"`
	Warnings    []string                 `json:"warnings,omitempty"`
	StageErrors []string                 `json:"stage_errors,omitempty"`
	Duration    time.Duration            `json:"duration"`
}

// Pipeline wires the stages to their stores.
type Pipeline struct {
	cfg         *config.Config
	registry    *registry.Registry
	predictions PredictionStore
	allocations AllocationStore
	now         func() time.Time
}

// New builds a pipeline. predictions and allocations may be nil when the
// caller only wants fitted snapshots.
func New(cfg *config.Config, reg *registry.Registry, predictions PredictionStore, allocations AllocationStore) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		registry:    reg,
		predictions: predictions,
		allocations: allocations,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one tenant's batch. Aggregation failure aborts the run; a
// failed side (customer or channel) is recorded as a stage error while the
// other side still completes and publishes.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Report, error) {
	if in.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", domain.ErrInvalidInput)
	}
	start := p.now()
	report := &Report{
		RunID:      uuid.New().String(),
		TenantID:   in.TenantID,
		VersionIDs: make(map[string]string),
	}
	logger.Info("pipeline run starting",
		"tenant_id", in.TenantID, "run_id", report.RunID,
		"transactions", len(in.Transactions), "channel_rows", len(in.Channels))

	var windowStart time.Time
	if p.cfg.Analysis.LookbackDays > 0 {
		windowStart = in.Cutoff.AddDate(0, 0, -p.cfg.Analysis.LookbackDays)
	}
	agg, err := aggregate.Aggregate(in.Transactions, in.Channels, aggregate.Options{
		WindowStart:      windowStart,
		Cutoff:           in.Cutoff,
		DailyGranularity: p.cfg.Analysis.DailyGranularity,
		MinHistoryMonths: p.cfg.Analysis.MinHistoryMonths,
	})
	if err != nil {
		return nil, domain.NewStageError("aggregate", in.TenantID, err)
	}
	report.Quality = agg.Quality
	report.Warnings = append(report.Warnings, agg.Quality.Warnings...)

	// The drift baseline comes from the snapshot that was current before
	// this run, so the comparison is against the population the active
	// model was actually fit on.
	report.Drift = p.checkDrift(ctx, in.TenantID, agg.Summaries, agg.Channels)

	// The two sides share nothing after aggregation and run concurrently.
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		customerErr error
		channelErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		customerErr = p.runCustomerSide(ctx, in, agg, report, &mu)
	}()
	go func() {
		defer wg.Done()
		channelErr = p.runChannelSide(ctx, in, agg, report, &mu)
	}()
	wg.Wait()

	for stage, err := range map[string]error{"customer": customerErr, "channel": channelErr} {
		if err != nil {
			stageErr := domain.NewStageError(stage, in.TenantID, err)
			report.StageErrors = append(report.StageErrors, stageErr.Error())
			logger.Warn("pipeline stage failed", "tenant_id", in.TenantID, "stage", stage, "error", err.Error())
		}
	}

	report.Duration = p.now().Sub(start)
	logger.Info("pipeline run finished",
		"tenant_id", in.TenantID, "run_id", report.RunID,
		"predictions", report.Predictions, "stage_errors", len(report.StageErrors),
		"duration_ms", report.Duration.Milliseconds())
	return report, nil
}

func (p *Pipeline) runCustomerSide(ctx context.Context, in Input, agg *aggregate.Result, report *Report, mu *sync.Mutex) error {
	fitOpts := bgnbd.FitOptions{
		PenalizerCoef:      p.cfg.Fit.PenalizerCoef,
		MinRepeatCustomers: p.cfg.Fit.MinRepeatCustomers,
		MaxIterations:      p.cfg.Fit.MaxIterations,
	}
	purchase, err := bgnbd.Fit(agg.Summaries, fitOpts)
	if err != nil {
		return fmt.Errorf("purchase-process fit: %w", err)
	}

	monetary, err := gammagamma.Fit(agg.Summaries, gammagamma.FitOptions{
		PenalizerCoef:            p.cfg.Fit.PenalizerCoef,
		MinRepeatCustomers:       p.cfg.Fit.MinRepeatCustomers,
		MaxIterations:            p.cfg.Fit.MaxIterations,
		CorrelationWarnThreshold: p.cfg.Fit.CorrelationWarnThreshold,
	})
	if err != nil && !errors.Is(err, domain.ErrInsufficientData) {
		return fmt.Errorf("monetary fit: %w", err)
	}

	var runWarnings []string
	if monetary == nil {
		runWarnings = append(runWarnings, "monetary model unavailable; predicted values omitted")
	} else if monetary.Warning != "" {
		runWarnings = append(runWarnings, monetary.Warning)
	}

	records, err := p.score(purchase, monetary, agg.Summaries, report.RunID, runWarnings)
	if err != nil {
		return err
	}
	if p.predictions != nil {
		if err := p.predictions.SaveBatch(ctx, in.TenantID, records); err != nil {
			return fmt.Errorf("save predictions: %w", err)
		}
	}

	reason := in.Reason
	if reason == "" {
		reason = domain.ReasonScheduled
	}
	baseline := drift.BaselineFromData(agg.Summaries, agg.Channels)
	metrics := baseline.Metrics()
	metrics["log_likelihood"] = purchase.LogLikelihood
	metrics["repeat_customers"] = float64(purchase.RepeatCustomers)

	ppVersion, err := p.registry.SaveSnapshot(ctx, in.TenantID, domain.ModelPurchaseProcess, purchase, metrics, reason)
	if err != nil {
		return fmt.Errorf("save purchase-process snapshot: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	report.VersionIDs[domain.ModelPurchaseProcess] = ppVersion
	report.Predictions = len(records)
	report.Warnings = append(report.Warnings, runWarnings...)

	if monetary != nil {
		mvVersion, err := p.registry.SaveSnapshot(ctx, in.TenantID, domain.ModelMonetaryValue, monetary,
			map[string]float64{"log_likelihood": monetary.LogLikelihood, "correlation": monetary.Correlation}, reason)
		if err != nil {
			return fmt.Errorf("save monetary snapshot: %w", err)
		}
		report.VersionIDs[domain.ModelMonetaryValue] = mvVersion
	}
	return nil
}

// score builds one prediction record per customer, with value intervals from
// joint perturbation of the purchase and monetary parameters.
func (p *Pipeline) score(purchase *bgnbd.Model, monetary *gammagamma.Model, summaries []domain.RFMSummary, runID string, warnings []string) ([]domain.PredictionRecord, error) {
	horizon := p.cfg.Analysis.HorizonDays
	minHistoryDays := float64(p.cfg.Analysis.MinHistoryMonths) * 30
	created := p.now()

	params := []float64{
		purchase.Params.R, purchase.Params.Alpha, purchase.Params.A, purchase.Params.B,
	}
	if monetary != nil {
		params = append(params, monetary.Params.P, monetary.Params.Q, monetary.Params.V)
	}

	records := make([]domain.PredictionRecord, 0, len(summaries))
	for _, s := range summaries {
		probAlive := purchase.ProbabilityAlive(s)
		expected := purchase.ExpectedPurchases(s, float64(horizon))

		value := 0.0
		interval := domain.Interval{}
		if monetary != nil {
			predict := func(theta []float64) float64 {
				pp := bgnbd.Model{Params: bgnbd.Params{R: theta[0], Alpha: theta[1], A: theta[2], B: theta[3]}}
				mv := gammagamma.Model{Params: gammagamma.Params{P: theta[4], Q: theta[5], V: theta[6]}}
				return pp.ExpectedPurchases(s, float64(horizon)) * mv.ExpectedAverageValue(s)
			}
			var err error
			value, interval, err = uncertainty.Interval(params, purchase.SampleSize, predict, uncertainty.Options{
				Iterations: p.cfg.Uncertainty.MCIterations,
				Confidence: p.cfg.Uncertainty.ConfidenceLevel,
			})
			if err != nil {
				return nil, fmt.Errorf("value interval for %s: %w", s.CustomerID, err)
			}
		}

		segIn := segment.Input{
			ProbAlive:         probAlive,
			PredictedValue:    value,
			ExpectedPurchases: expected,
			Frequency:         s.Frequency,
			Recency:           s.Recency,
			T:                 s.T,
			HorizonDays:       horizon,
			BelowMinHistory:   s.T < minHistoryDays,
		}
		label := segment.Classify(segIn, p.cfg.Segmentation)

		rec := domain.PredictionRecord{
			CustomerID:        s.CustomerID,
			SnapshotID:        runID,
			ProbAlive:         probAlive,
			ExpectedPurchases: expected,
			HorizonDays:       horizon,
			PredictedValue:    value,
			ValueInterval:     interval,
			Segment:           label,
			Reason:            segment.Reason(segIn, label),
			Warnings:          warnings,
			CreatedAt:         created,
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("prediction for %s failed validation: %w", s.CustomerID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (p *Pipeline) runChannelSide(ctx context.Context, in Input, agg *aggregate.Result, report *Report, mu *sync.Mutex) error {
	if len(agg.Channels) == 0 {
		return nil
	}

	curves := make([]domain.ResponseCurve, 0, len(agg.Channels))
	for _, series := range agg.Channels {
		curve, err := response.FitCurve(series, response.FitOptions{
			Kernel:     domain.AdstockKernel(p.cfg.Response.AdstockKernel),
			Saturation: domain.SaturationFunc(p.cfg.Response.SaturationFunction),
			MaxLag:     p.cfg.Response.MaxLag,
			MaxIter:    p.cfg.Fit.MaxIterations,
		})
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientData) {
				logger.Warn("skipping channel with insufficient history",
					"tenant_id", in.TenantID, "channel_id", series.ChannelID)
				continue
			}
			return fmt.Errorf("fit channel %s: %w", series.ChannelID, err)
		}
		curves = append(curves, curve)
	}
	if len(curves) == 0 {
		return nil
	}

	reason := in.Reason
	if reason == "" {
		reason = domain.ReasonScheduled
	}
	rcVersion, err := p.registry.SaveSnapshot(ctx, in.TenantID, domain.ModelResponseCurves, curves, nil, reason)
	if err != nil {
		return fmt.Errorf("save response-curve snapshot: %w", err)
	}

	alloc, err := allocator.SolveMonteCarlo(curves, in.TotalBudget,
		allocator.Options{ObjectiveWeight: p.cfg.Optimizer.ObjectiveWeight, MaxIter: p.cfg.Optimizer.MaxIterations},
		allocator.MCOptions{
			Iterations:       p.cfg.Optimizer.MCIterations,
			ParamUncertainty: p.cfg.Optimizer.ParamUncertainty,
			Confidence:       p.cfg.Uncertainty.ConfidenceLevel,
			Progress:         in.Progress,
		})
	if err != nil {
		return fmt.Errorf("solve allocation: %w", err)
	}
	alloc.SnapshotID = report.RunID
	if p.allocations != nil {
		if err := p.allocations.Save(ctx, in.TenantID, *alloc); err != nil {
			return fmt.Errorf("save allocation: %w", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	report.VersionIDs[domain.ModelResponseCurves] = rcVersion
	report.Allocation = alloc
	return nil
}

// checkDrift compares this run's cohort against the baseline stored with the
// previously current purchase-process snapshot. First runs have no baseline
// and no report.
func (p *Pipeline) checkDrift(ctx context.Context, tenantID string, summaries []domain.RFMSummary, series map[string]domain.ChannelSeries) *drift.Report {
	snap, _, err := p.registry.LoadCurrent(ctx, tenantID, domain.ModelPurchaseProcess)
	if err != nil {
		return nil
	}
	baseline, ok := drift.BaselineFromMetrics(snap.Metrics)
	if !ok {
		return nil
	}
	detector := drift.Detector{
		Threshold: p.cfg.Drift.Threshold,
		Cooldown:  p.cfg.Drift.Cooldown(),
	}
	report := detector.Check(baseline, drift.BaselineFromData(summaries, series), snap.CreatedAt, p.now())
	return &report
}
