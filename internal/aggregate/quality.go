package aggregate

import (
	"time"
)

// Reject reasons reported per run. New reasons extend the list; the report
// always carries counts per reason so rejections are auditable.
const (
	RejectMissingCustomer    = "missing_customer_id"
	RejectMissingChannel     = "missing_channel_id"
	RejectNonPositiveAmount  = "non_positive_amount"
	RejectNegativeChannelRow = "negative_channel_row"
	RejectMalformedTimestamp = "malformed_timestamp"
	RejectOutsideWindow      = "outside_analysis_window"
)

// Quality levels, from unusable to optimal.
const (
	LevelCritical  = "critical"
	LevelLow       = "low"
	LevelMedium    = "medium"
	LevelHigh      = "high"
	LevelExcellent = "excellent"
)

const staleThresholdDays = 90

// ChannelQuality describes one channel's coverage over the analysis window.
// A channel with GapDays > 0 reported spend and went dark; a channel absent
// from the report never reported at all.
type ChannelQuality struct {
	ObservedDays   int `json:"observed_days"`
	TotalDays      int `json:"total_days"`
	GapDays        int `json:"gap_days"`
	LongestGapDays int `json:"longest_gap_days"`
	ZeroSpendDays  int `json:"zero_spend_days"`
}

// QualityReport is the per-run data-quality summary emitted alongside the
// aggregated outputs.
type QualityReport struct {
	TransactionsIn   int            `json:"transactions_in"`
	TransactionsKept int            `json:"transactions_kept"`
	ChannelRowsIn    int            `json:"channel_rows_in"`
	ChannelRowsKept  int            `json:"channel_rows_kept"`
	RejectedByReason map[string]int `json:"rejected_by_reason"`

	Customers              int     `json:"customers"`
	ZeroFrequencyCustomers int     `json:"zero_frequency_customers"`
	BelowMinHistory        int     `json:"below_min_history"`
	BelowMinHistoryShare   float64 `json:"below_min_history_share"`

	DateMin         time.Time `json:"date_min"`
	DateMax         time.Time `json:"date_max"`
	SpanDays        int       `json:"span_days"`
	SpanMonths      int       `json:"span_months"`
	RecordsPerMonth float64   `json:"records_per_month"`
	IsStale         bool      `json:"is_stale"`

	Channels map[string]ChannelQuality `json:"channels"`

	OverallScore int      `json:"overall_score"`
	Level        string   `json:"level"`
	Warnings     []string `json:"warnings,omitempty"`
}

func newQualityReport() QualityReport {
	return QualityReport{
		RejectedByReason: make(map[string]int),
		Channels:         make(map[string]ChannelQuality),
	}
}

func (q *QualityReport) reject(reason string) {
	q.RejectedByReason[reason]++
}

func (q *QualityReport) observe(t time.Time) {
	if q.DateMin.IsZero() || t.Before(q.DateMin) {
		q.DateMin = t
	}
	if t.After(q.DateMax) {
		q.DateMax = t
	}
}

func (q *QualityReport) finalize(opts Options) {
	if !q.DateMin.IsZero() {
		q.SpanDays = int(q.DateMax.Sub(q.DateMin).Hours() / dayHours)
		q.SpanMonths = q.SpanDays / 30
		if q.SpanMonths < 1 {
			q.SpanMonths = 1
		}
		q.RecordsPerMonth = float64(q.TransactionsKept) / float64(q.SpanMonths)
		q.IsStale = opts.Cutoff.Sub(q.DateMax).Hours()/dayHours > staleThresholdDays
	} else {
		q.IsStale = true
	}
	if q.Customers > 0 {
		q.BelowMinHistoryShare = float64(q.BelowMinHistory) / float64(q.Customers)
	}

	q.OverallScore = q.score()
	q.Level = scoreToLevel(q.OverallScore)
	q.Warnings = q.warnings(opts)
}

// score weighs volume, temporal depth, keep ratio and density into a 0-100
// total, then deducts five points for stale data.
func (q *QualityReport) score() int {
	score := 0

	switch {
	case q.TransactionsKept >= 1000:
		score += 25
	case q.TransactionsKept >= 500:
		score += 20
	case q.TransactionsKept >= 100:
		score += 15
	case q.TransactionsKept >= 50:
		score += 10
	default:
		score += 5
	}

	switch {
	case q.SpanMonths >= 24:
		score += 30
	case q.SpanMonths >= 12:
		score += 25
	case q.SpanMonths >= 6:
		score += 20
	case q.SpanMonths >= 3:
		score += 15
	case q.SpanMonths >= 1:
		score += 10
	default:
		score += 5
	}

	if q.TransactionsIn > 0 {
		keepRatio := float64(q.TransactionsKept) / float64(q.TransactionsIn)
		score += int(keepRatio * 25)
	}

	density := q.RecordsPerMonth
	if density > 100 {
		density = 100
	}
	score += int(density / 100 * 15)

	if !q.IsStale {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}

func scoreToLevel(score int) string {
	switch {
	case score >= 85:
		return LevelExcellent
	case score >= 70:
		return LevelHigh
	case score >= 50:
		return LevelMedium
	case score >= 30:
		return LevelLow
	default:
		return LevelCritical
	}
}

func (q *QualityReport) warnings(opts Options) []string {
	var out []string
	if q.TransactionsKept < 50 {
		out = append(out, "fewer than 50 usable transactions; fits will likely report insufficient data")
	}
	if q.SpanMonths < opts.MinHistoryMonths {
		out = append(out, "history span below the configured minimum; predictions will be unreliable")
	}
	if q.IsStale {
		out = append(out, "no recent transactions in the last 90 days before the cutoff")
	}
	if q.BelowMinHistoryShare > 0.5 {
		out = append(out, "more than half of customers are below the minimum history threshold")
	}
	for id, cq := range q.Channels {
		if cq.LongestGapDays >= 14 {
			out = append(out, "channel "+id+" has a reporting gap of two weeks or longer")
		}
	}
	return out
}
