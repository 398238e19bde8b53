package domain

import (
	"fmt"
	"time"
)

// Transaction is a single netted purchase event. Immutable once ingested;
// the aggregator owns the input stream and rejects rows it cannot accept.
type Transaction struct {
	CustomerID string    `json:"customer_id" db:"customer_id"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	Amount     float64   `json:"amount" db:"amount"`
}

// RFMSummary is the per-customer summary driving the purchase-process and
// monetary models. One row per customer per analysis snapshot.
//
// Frequency counts repeat purchase occasions (first purchase excluded).
// Recency and T are measured in days; Recency <= T always holds for a valid
// summary. MonetaryValue is the mean repeat transaction value and is
// undefined (zero) when Frequency == 0.
type RFMSummary struct {
	CustomerID    string  `json:"customer_id" db:"customer_id"`
	Frequency     int     `json:"frequency" db:"frequency"`
	Recency       float64 `json:"recency" db:"recency"`
	T             float64 `json:"t" db:"t"`
	MonetaryValue float64 `json:"monetary_value" db:"monetary_value"`
}

// Validate checks the structural invariants of the summary.
func (s RFMSummary) Validate() error {
	if s.CustomerID == "" {
		return fmt.Errorf("%w: rfm summary missing customer_id", ErrInvalidInput)
	}
	if s.Frequency < 0 {
		return fmt.Errorf("%w: negative frequency %d for %s", ErrInvalidInput, s.Frequency, s.CustomerID)
	}
	if s.Recency < 0 || s.T < 0 {
		return fmt.Errorf("%w: negative recency/T for %s", ErrInvalidInput, s.CustomerID)
	}
	if s.Recency > s.T {
		return fmt.Errorf("%w: recency %.2f exceeds T %.2f for %s", ErrInvalidInput, s.Recency, s.T, s.CustomerID)
	}
	return nil
}

// Interval is a two-sided confidence interval around a scalar estimate.
type Interval struct {
	Lower float64 `json:"lower" db:"lower"`
	Upper float64 `json:"upper" db:"upper"`
}

// Width returns the interval width.
func (i Interval) Width() float64 { return i.Upper - i.Lower }

// Contains reports whether v lies inside the interval (inclusive).
func (i Interval) Contains(v float64) bool { return v >= i.Lower && v <= i.Upper }

// SegmentLabel enumerates the fixed, mutually exclusive customer segments.
type SegmentLabel string

const (
	SegmentInsufficientData SegmentLabel = "insufficient_data"
	SegmentHighValueAtRisk  SegmentLabel = "high_value_at_risk"
	SegmentLost             SegmentLabel = "lost"
	SegmentLoyal            SegmentLabel = "loyal"
	SegmentWhalePotential   SegmentLabel = "whale_potential"
	SegmentNewLowData       SegmentLabel = "new_low_data"
	SegmentStandard         SegmentLabel = "standard"
)

// ReasonCode is the structured explanation attached to a prediction. The
// presentation layer renders these into prose; this core never emits prose.
type ReasonCode string

const (
	ReasonAcceleratingPurchases ReasonCode = "accelerating_purchase_pattern"
	ReasonRecentLargeOrder      ReasonCode = "recent_large_order"
	ReasonLongPurchaseGap       ReasonCode = "long_purchase_gap"
	ReasonSteadyRepeatBuyer     ReasonCode = "steady_repeat_buyer"
	ReasonSinglePurchaseOnly    ReasonCode = "single_purchase_only"
	ReasonBelowHistoryMinimum   ReasonCode = "below_history_minimum"
)

// PredictionRecord is one customer's scored output for one pipeline run.
// Records are superseded by the next run, never mutated.
type PredictionRecord struct {
	CustomerID        string       `json:"customer_id" db:"customer_id"`
	SnapshotID        string       `json:"snapshot_id" db:"snapshot_id"`
	ProbAlive         float64      `json:"prob_alive" db:"prob_alive"`
	ExpectedPurchases float64      `json:"expected_purchases" db:"expected_purchases"`
	HorizonDays       int          `json:"horizon_days" db:"horizon_days"`
	PredictedValue    float64      `json:"predicted_value" db:"predicted_value"`
	ValueInterval     Interval     `json:"confidence_interval"`
	Segment           SegmentLabel `json:"segment" db:"segment"`
	Reason            ReasonCode   `json:"reason_code" db:"reason_code"`
	Warnings          []string     `json:"warnings,omitempty"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
}

// Validate checks the output-shape invariants of a prediction record.
func (p PredictionRecord) Validate() error {
	if p.ProbAlive < 0 || p.ProbAlive > 1 {
		return fmt.Errorf("prob_alive %.4f out of [0,1] for %s", p.ProbAlive, p.CustomerID)
	}
	if p.ExpectedPurchases < 0 {
		return fmt.Errorf("negative expected_purchases for %s", p.CustomerID)
	}
	if p.PredictedValue < 0 {
		return fmt.Errorf("negative predicted_value for %s", p.CustomerID)
	}
	if !p.ValueInterval.Contains(p.PredictedValue) {
		return fmt.Errorf("predicted_value %.2f outside interval [%.2f, %.2f] for %s",
			p.PredictedValue, p.ValueInterval.Lower, p.ValueInterval.Upper, p.CustomerID)
	}
	return nil
}
