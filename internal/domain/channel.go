package domain

import (
	"fmt"
	"sort"
	"time"
)

// ChannelPoint is one channel's observed activity for one day. Zero-spend
// days are valid rows; a date missing inside the observed span is a
// data-quality signal, not an absence of a row.
type ChannelPoint struct {
	ChannelID   string    `json:"channel_id" db:"channel_id"`
	Date        time.Time `json:"date" db:"date"`
	Spend       float64   `json:"spend" db:"spend"`
	Impressions int64     `json:"impressions" db:"impressions"`
	Clicks      int64     `json:"clicks" db:"clicks"`
	Revenue     float64   `json:"revenue" db:"revenue"`
}

// ChannelSeries is a channel's daily history, sorted ascending by date.
type ChannelSeries struct {
	ChannelID string         `json:"channel_id"`
	Points    []ChannelPoint `json:"points"`
}

// Sort orders the points ascending by date.
func (s *ChannelSeries) Sort() {
	sort.Slice(s.Points, func(i, j int) bool { return s.Points[i].Date.Before(s.Points[j].Date) })
}

// Spend returns the raw daily spend vector in date order.
func (s ChannelSeries) Spend() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Spend
	}
	return out
}

// AdstockKernel selects the carryover transform for a channel.
type AdstockKernel string

const (
	AdstockGeometric AdstockKernel = "geometric"
	AdstockWeibull   AdstockKernel = "weibull"
)

// SaturationFunc selects the diminishing-returns transform for a channel.
type SaturationFunc string

const (
	SaturationHill            SaturationFunc = "hill"
	SaturationMichaelisMenten SaturationFunc = "michaelis_menten"
)

// ResponseCurve holds one channel's fitted carryover and saturation
// parameters. Curves are fit per tenant per channel; a shared global decay
// is a modeling error and is rejected upstream.
type ResponseCurve struct {
	ChannelID string        `json:"channel_id"`
	Kernel    AdstockKernel `json:"adstock_kernel"`

	// Geometric kernel parameter.
	Decay float64 `json:"decay,omitempty"`
	// Weibull kernel parameters (delayed-peak response).
	Shape float64 `json:"shape,omitempty"`
	Scale float64 `json:"scale,omitempty"`

	Saturation     SaturationFunc `json:"saturation_function"`
	Ceiling        float64        `json:"ceiling"`         // alpha: upper bound of response
	Gamma          float64        `json:"gamma"`           // hill shape; 1 for michaelis-menten
	HalfSaturation float64        `json:"half_saturation"` // spend at 50% of ceiling

	// Weight applied when blending revenue and value objectives.
	ValueWeight float64 `json:"value_weight,omitempty"`
}

// Validate rejects parameterizations the transforms cannot honor.
func (c ResponseCurve) Validate() error {
	if c.ChannelID == "" {
		return fmt.Errorf("%w: response curve missing channel_id", ErrInvalidInput)
	}
	switch c.Kernel {
	case AdstockGeometric:
		if c.Decay < 0 || c.Decay >= 1 {
			return fmt.Errorf("%w: decay %.3f out of [0,1) for %s", ErrInvalidInput, c.Decay, c.ChannelID)
		}
	case AdstockWeibull:
		if c.Shape <= 0 || c.Scale <= 0 {
			return fmt.Errorf("%w: weibull shape/scale must be positive for %s", ErrInvalidInput, c.ChannelID)
		}
	default:
		return fmt.Errorf("%w: unknown adstock kernel %q", ErrInvalidInput, c.Kernel)
	}
	switch c.Saturation {
	case SaturationHill, SaturationMichaelisMenten:
	default:
		return fmt.Errorf("%w: unknown saturation function %q", ErrInvalidInput, c.Saturation)
	}
	if c.Ceiling <= 0 {
		return fmt.Errorf("%w: non-positive ceiling for %s", ErrInvalidInput, c.ChannelID)
	}
	if c.Gamma <= 0 {
		return fmt.Errorf("%w: non-positive gamma for %s", ErrInvalidInput, c.ChannelID)
	}
	if c.HalfSaturation <= 0 {
		return fmt.Errorf("%w: non-positive half-saturation for %s", ErrInvalidInput, c.ChannelID)
	}
	return nil
}

// BudgetAllocation is the optimizer's output for one run: per-channel spend
// summing to the total budget, with optional confidence bands from the
// Monte-Carlo variant.
type BudgetAllocation struct {
	SnapshotID      string              `json:"snapshot_id" db:"snapshot_id"`
	TotalBudget     float64             `json:"total_budget" db:"total_budget"`
	Amounts         map[string]float64  `json:"amounts"`
	Bands           map[string]Interval `json:"bands,omitempty"`
	ExpectedOutcome float64             `json:"expected_outcome" db:"expected_outcome"`
	OutcomeInterval Interval            `json:"outcome_interval"`
	MarginalROAS    map[string]float64  `json:"marginal_roas,omitempty"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
}
