package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asanchezmanas/tactics/internal/aggregate"
	"github.com/asanchezmanas/tactics/internal/config"
	"github.com/asanchezmanas/tactics/internal/domain"
	"github.com/asanchezmanas/tactics/internal/registry"
)

type memPredictions struct {
	mu      sync.Mutex
	batches map[string][]domain.PredictionRecord
}

func (m *memPredictions) SaveBatch(_ context.Context, tenantID string, records []domain.PredictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batches == nil {
		m.batches = make(map[string][]domain.PredictionRecord)
	}
	m.batches[tenantID] = append(m.batches[tenantID], records...)
	return nil
}

type memAllocations struct {
	mu    sync.Mutex
	saved map[string][]domain.BudgetAllocation
}

func (m *memAllocations) Save(_ context.Context, tenantID string, a domain.BudgetAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string][]domain.BudgetAllocation)
	}
	m.saved[tenantID] = append(m.saved[tenantID], a)
	return nil
}

// testLedger builds a plausible tenant: 150 repeat-heavy customers over six
// months plus two channels of daily spend with revenue following a concave
// response.
func testLedger(seed uint64) ([]domain.Transaction, []domain.ChannelPoint, time.Time) {
	rng := rand.New(rand.NewPCG(seed, 99))
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cutoff := start.AddDate(0, 6, 0)

	var txs []domain.Transaction
	for i := 0; i < 150; i++ {
		id := fmt.Sprintf("cust-%04d", i)
		orders := 1 + rng.IntN(6)
		day := rng.IntN(30)
		for o := 0; o < orders; o++ {
			txs = append(txs, domain.Transaction{
				CustomerID: id,
				Timestamp:  start.AddDate(0, 0, day),
				Amount:     20 + 80*rng.Float64(),
			})
			day += 5 + rng.IntN(40)
			if day > 180 {
				break
			}
		}
	}

	var points []domain.ChannelPoint
	for _, ch := range []string{"search", "social"} {
		for d := 0; d < 180; d++ {
			spend := 100 + 400*rng.Float64()
			points = append(points, domain.ChannelPoint{
				ChannelID: ch,
				Date:      start.AddDate(0, 0, d),
				Spend:     spend,
				Revenue:   1200 * spend / (spend + 400) * (1 + 0.05*rng.NormFloat64()),
			})
		}
	}
	return txs, points, cutoff
}

func newTestPipeline() (*Pipeline, *registry.Registry, *memPredictions, *memAllocations) {
	cfg := config.Default()
	cfg.Uncertainty.MCIterations = 10
	cfg.Optimizer.MCIterations = 5
	reg := registry.New(registry.NewMemoryStore(), nil, cfg.Registry.StaleAfter())
	preds := &memPredictions{}
	allocs := &memAllocations{}
	return New(cfg, reg, preds, allocs), reg, preds, allocs
}

func TestRunEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("full pipeline run")
	}
	p, reg, preds, allocs := newTestPipeline()
	txs, points, cutoff := testLedger(42)

	report, err := p.Run(context.Background(), Input{
		TenantID:     "tenant-a",
		Transactions: txs,
		Channels:     points,
		Cutoff:       cutoff,
		TotalBudget:  10000,
	})
	require.NoError(t, err)
	assert.Empty(t, report.StageErrors)
	assert.NotEmpty(t, report.RunID)

	// All three models published, predictions and allocation stored.
	assert.Contains(t, report.VersionIDs, domain.ModelPurchaseProcess)
	assert.Contains(t, report.VersionIDs, domain.ModelMonetaryValue)
	assert.Contains(t, report.VersionIDs, domain.ModelResponseCurves)

	records := preds.batches["tenant-a"]
	require.NotEmpty(t, records)
	assert.Equal(t, report.Predictions, len(records))
	for _, r := range records {
		require.NoError(t, r.Validate())
		assert.Equal(t, report.RunID, r.SnapshotID)
	}

	require.Len(t, allocs.saved["tenant-a"], 1)
	alloc := allocs.saved["tenant-a"][0]
	total := 0.0
	for _, v := range alloc.Amounts {
		total += v
	}
	assert.InEpsilon(t, 10000, total, 1e-6)

	// Registry agrees with the report.
	current, stale, err := reg.LoadCurrent(context.Background(), "tenant-a", domain.ModelPurchaseProcess)
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, report.VersionIDs[domain.ModelPurchaseProcess], current.VersionID)

	// First run has no drift baseline to compare against.
	assert.Nil(t, report.Drift)
}

func TestSecondRunReportsDrift(t *testing.T) {
	if testing.Short() {
		t.Skip("full pipeline run")
	}
	p, _, _, _ := newTestPipeline()
	txs, points, cutoff := testLedger(7)

	ctx := context.Background()
	first, err := p.Run(ctx, Input{
		TenantID: "tenant-a", Transactions: txs, Channels: points,
		Cutoff: cutoff, TotalBudget: 5000,
	})
	require.NoError(t, err)
	require.Empty(t, first.StageErrors)

	second, err := p.Run(ctx, Input{
		TenantID: "tenant-a", Transactions: txs, Channels: points,
		Cutoff: cutoff, TotalBudget: 5000,
	})
	require.NoError(t, err)
	require.NotNil(t, second.Drift, "second run compares against the stored baseline")
	assert.False(t, second.Drift.RetrainRecommended, "identical cohort shows no drift")
}

func TestLookbackBoundsAnalysisWindow(t *testing.T) {
	p, _, _, _ := newTestPipeline()
	p.cfg.Analysis.LookbackDays = 90
	_, points, cutoff := testLedger(13)

	// One transaction well before the lookback window, one inside it.
	txs := []domain.Transaction{
		{CustomerID: "c-old", Timestamp: cutoff.AddDate(0, 0, -120), Amount: 50},
		{CustomerID: "c-new", Timestamp: cutoff.AddDate(0, 0, -30), Amount: 50},
	}

	report, err := p.Run(context.Background(), Input{
		TenantID: "tenant-a", Transactions: txs, Channels: points,
		Cutoff: cutoff, TotalBudget: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Quality.RejectedByReason[aggregate.RejectOutsideWindow])
	assert.Equal(t, 1, report.Quality.TransactionsKept)
}

func TestRunTenantRequired(t *testing.T) {
	p, _, _, _ := newTestPipeline()
	_, err := p.Run(context.Background(), Input{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRunCustomerSideInsufficientData(t *testing.T) {
	p, _, _, allocs := newTestPipeline()
	_, points, cutoff := testLedger(11)

	// Five customers cannot support a fit; the channel side still runs.
	var txs []domain.Transaction
	start := cutoff.AddDate(0, -3, 0)
	for i := 0; i < 5; i++ {
		txs = append(txs, domain.Transaction{
			CustomerID: fmt.Sprintf("c%d", i), Timestamp: start, Amount: 50,
		})
	}

	report, err := p.Run(context.Background(), Input{
		TenantID: "tenant-a", Transactions: txs, Channels: points,
		Cutoff: cutoff, TotalBudget: 2000,
	})
	require.NoError(t, err)
	require.Len(t, report.StageErrors, 1)
	assert.Contains(t, report.StageErrors[0], "insufficient data")
	assert.Contains(t, report.VersionIDs, domain.ModelResponseCurves)
	assert.NotContains(t, report.VersionIDs, domain.ModelPurchaseProcess)
	assert.Len(t, allocs.saved["tenant-a"], 1)
}
