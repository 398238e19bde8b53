package segment

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asanchezmanas/tactics/internal/config"
	"github.com/asanchezmanas/tactics/internal/domain"
)

func thresholds() config.SegmentationConfig {
	cfg := config.Default()
	return cfg.Segmentation
}

func TestClassifyKnownCases(t *testing.T) {
	cfg := thresholds()

	cases := []struct {
		name string
		in   Input
		want domain.SegmentLabel
	}{
		{"below history minimum", Input{BelowMinHistory: true, ProbAlive: 0.9}, domain.SegmentInsufficientData},
		{"lost", Input{ProbAlive: 0.1, PredictedValue: 5000}, domain.SegmentLost},
		{"high value at risk", Input{ProbAlive: 0.3, PredictedValue: 800}, domain.SegmentHighValueAtRisk},
		{"low value at risk is standard", Input{ProbAlive: 0.3, PredictedValue: 50, Frequency: 2}, domain.SegmentStandard},
		{"whale", Input{ProbAlive: 0.95, PredictedValue: 3000, ExpectedPurchases: 4, Frequency: 6}, domain.SegmentWhalePotential},
		{"loyal", Input{ProbAlive: 0.9, PredictedValue: 300, ExpectedPurchases: 2, Frequency: 5}, domain.SegmentLoyal},
		{"new customer", Input{ProbAlive: 0.7, PredictedValue: 100, Frequency: 0}, domain.SegmentNewLowData},
		{"standard", Input{ProbAlive: 0.6, PredictedValue: 100, Frequency: 3}, domain.SegmentStandard},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.in, cfg))
		})
	}
}

// The taxonomy must be total and mutually exclusive: every generated input
// yields exactly one known label.
func TestClassifyIsTotal(t *testing.T) {
	cfg := thresholds()
	known := map[domain.SegmentLabel]bool{
		domain.SegmentInsufficientData: true,
		domain.SegmentHighValueAtRisk:  true,
		domain.SegmentLost:             true,
		domain.SegmentLoyal:            true,
		domain.SegmentWhalePotential:   true,
		domain.SegmentNewLowData:       true,
		domain.SegmentStandard:         true,
	}

	rng := rand.New(rand.NewPCG(42, 0))
	seen := make(map[domain.SegmentLabel]int)
	for i := 0; i < 10000; i++ {
		in := Input{
			ProbAlive:         rng.Float64(),
			PredictedValue:    rng.Float64() * 5000,
			ExpectedPurchases: rng.Float64() * 10,
			Frequency:         rng.IntN(20),
			T:                 rng.Float64() * 365,
			HorizonDays:       90,
			BelowMinHistory:   rng.IntN(10) == 0,
		}
		label := Classify(in, cfg)
		require.True(t, known[label], "unknown label %q for input %+v", label, in)
		seen[label]++
	}
	// The generator should reach every branch of the taxonomy.
	assert.Len(t, seen, len(known))
}

func TestReasonCodes(t *testing.T) {
	assert.Equal(t, domain.ReasonBelowHistoryMinimum,
		Reason(Input{}, domain.SegmentInsufficientData))
	assert.Equal(t, domain.ReasonSinglePurchaseOnly,
		Reason(Input{Frequency: 0}, domain.SegmentNewLowData))
	assert.Equal(t, domain.ReasonLongPurchaseGap,
		Reason(Input{}, domain.SegmentLost))
	assert.Equal(t, domain.ReasonLongPurchaseGap,
		Reason(Input{}, domain.SegmentHighValueAtRisk))
	assert.Equal(t, domain.ReasonRecentLargeOrder,
		Reason(Input{}, domain.SegmentWhalePotential))
	assert.Equal(t, domain.ReasonSteadyRepeatBuyer,
		Reason(Input{}, domain.SegmentLoyal))

	// Standard customers split on forecast pace versus their own history.
	steady := Input{Frequency: 4, T: 360, HorizonDays: 90, ExpectedPurchases: 0.5}
	assert.Equal(t, domain.ReasonSteadyRepeatBuyer, Reason(steady, domain.SegmentStandard))

	fast := Input{Frequency: 4, T: 360, HorizonDays: 90, ExpectedPurchases: 3}
	assert.Equal(t, domain.ReasonAcceleratingPurchases, Reason(fast, domain.SegmentStandard))
}
