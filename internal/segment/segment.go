// Package segment maps model outputs to the fixed taxonomy of actionable
// customer labels. The classifier is a pure function over its input and the
// configured thresholds: every valid input maps to exactly one label, and
// customers with too little history get an explicit insufficient-data label
// instead of a default that implies false confidence.
package segment

import (
	"github.com/asanchezmanas/tactics/internal/config"
	"github.com/asanchezmanas/tactics/internal/domain"
)

// Input is everything the classifier and reason derivation look at.
type Input struct {
	ProbAlive         float64
	PredictedValue    float64
	ExpectedPurchases float64
	Frequency         int
	Recency           float64
	T                 float64
	HorizonDays       int
	BelowMinHistory   bool
}

// Classify maps the input to exactly one segment label. The branch order is
// the mutual-exclusion rule: the first matching branch wins.
func Classify(in Input, cfg config.SegmentationConfig) domain.SegmentLabel {
	switch {
	case in.BelowMinHistory:
		return domain.SegmentInsufficientData
	case in.ProbAlive < cfg.LostProbAlive:
		return domain.SegmentLost
	case in.ProbAlive < cfg.AtRiskProbAlive && in.PredictedValue >= cfg.HighValueFloor:
		return domain.SegmentHighValueAtRisk
	case in.ProbAlive >= cfg.LoyalProbAlive && in.PredictedValue >= cfg.WhaleValueFloor:
		return domain.SegmentWhalePotential
	case in.ProbAlive >= cfg.LoyalProbAlive && in.ExpectedPurchases >= cfg.LoyalMinPurchases:
		return domain.SegmentLoyal
	case in.Frequency == 0:
		return domain.SegmentNewLowData
	default:
		return domain.SegmentStandard
	}
}

// Reason derives the structured explanation code for a labeled customer.
// The presentation layer turns these into prose; nothing here is free text.
func Reason(in Input, label domain.SegmentLabel) domain.ReasonCode {
	switch label {
	case domain.SegmentInsufficientData:
		return domain.ReasonBelowHistoryMinimum
	case domain.SegmentNewLowData:
		return domain.ReasonSinglePurchaseOnly
	case domain.SegmentLost, domain.SegmentHighValueAtRisk:
		return domain.ReasonLongPurchaseGap
	case domain.SegmentWhalePotential:
		return domain.ReasonRecentLargeOrder
	case domain.SegmentLoyal:
		return domain.ReasonSteadyRepeatBuyer
	default:
		if in.Frequency == 0 {
			return domain.ReasonSinglePurchaseOnly
		}
		if accelerating(in) {
			return domain.ReasonAcceleratingPurchases
		}
		return domain.ReasonSteadyRepeatBuyer
	}
}

// accelerating reports whether the forecast purchase pace exceeds the
// customer's own historical pace over the same horizon.
func accelerating(in Input) bool {
	if in.T <= 0 || in.HorizonDays <= 0 || in.Frequency == 0 {
		return false
	}
	historical := float64(in.Frequency) / in.T * float64(in.HorizonDays)
	return in.ExpectedPurchases > historical
}
