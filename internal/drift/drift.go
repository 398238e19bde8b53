// Package drift detects distributional shift between the population a model
// was fit on and the most recent data window. Detection only ever flags a
// recommendation: retraining is the caller's decision, and machine-flagged
// retraining is rate-limited by a cooldown. Manual retraining is never
// blocked here.
package drift

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/asanchezmanas/tactics/internal/domain"
)

// Baseline captures the summary statistics of the population a model was
// fit on. It is persisted inside the snapshot's metrics so later windows can
// be compared against it without reloading the original data.
type Baseline struct {
	MedianRecency  float64
	MeanFrequency  float64
	MeanMonetary   float64
	MeanDailySpend float64
	Customers      int
}

// Metric keys used when a baseline rides along in snapshot metrics.
const (
	metricMedianRecency  = "baseline_median_recency"
	metricMeanFrequency  = "baseline_mean_frequency"
	metricMeanMonetary   = "baseline_mean_monetary"
	metricMeanDailySpend = "baseline_mean_daily_spend"
	metricCustomers      = "baseline_customers"
)

// BaselineFromSummaries computes the baseline over a cohort without channel
// spend statistics.
func BaselineFromSummaries(summaries []domain.RFMSummary) Baseline {
	return BaselineFromData(summaries, nil)
}

// BaselineFromData computes the baseline over a cohort and its channel
// series. MeanDailySpend is the mean spend per observed channel-day across
// all channels.
func BaselineFromData(summaries []domain.RFMSummary, series map[string]domain.ChannelSeries) Baseline {
	if len(summaries) == 0 {
		return Baseline{}
	}
	recencies := make([]float64, 0, len(summaries))
	freqSum, monetarySum := 0.0, 0.0
	monetaryN := 0
	for _, s := range summaries {
		recencies = append(recencies, s.Recency)
		freqSum += float64(s.Frequency)
		if s.Frequency > 0 {
			monetarySum += s.MonetaryValue
			monetaryN++
		}
	}
	sort.Float64s(recencies)

	b := Baseline{
		MedianRecency: stat.Quantile(0.5, stat.Empirical, recencies, nil),
		MeanFrequency: freqSum / float64(len(summaries)),
		Customers:     len(summaries),
	}
	if monetaryN > 0 {
		b.MeanMonetary = monetarySum / float64(monetaryN)
	}

	spendSum, spendDays := 0.0, 0
	for _, s := range series {
		for _, p := range s.Points {
			spendSum += p.Spend
			spendDays++
		}
	}
	if spendDays > 0 {
		b.MeanDailySpend = spendSum / float64(spendDays)
	}
	return b
}

// Metrics flattens the baseline for storage in a model snapshot.
func (b Baseline) Metrics() map[string]float64 {
	return map[string]float64{
		metricMedianRecency:  b.MedianRecency,
		metricMeanFrequency:  b.MeanFrequency,
		metricMeanMonetary:   b.MeanMonetary,
		metricMeanDailySpend: b.MeanDailySpend,
		metricCustomers:      float64(b.Customers),
	}
}

// BaselineFromMetrics reconstructs a baseline stored via Metrics. The second
// return is false when the metrics carry no baseline.
func BaselineFromMetrics(m map[string]float64) (Baseline, bool) {
	if m == nil {
		return Baseline{}, false
	}
	customers, ok := m[metricCustomers]
	if !ok {
		return Baseline{}, false
	}
	return Baseline{
		MedianRecency:  m[metricMedianRecency],
		MeanFrequency:  m[metricMeanFrequency],
		MeanMonetary:   m[metricMeanMonetary],
		MeanDailySpend: m[metricMeanDailySpend],
		Customers:      int(customers),
	}, true
}

// Stat is one compared statistic in a drift report.
type Stat struct {
	Baseline       float64 `json:"baseline"`
	Current        float64 `json:"current"`
	RelativeChange float64 `json:"relative_change"`
	Exceeded       bool    `json:"exceeded"`
}

// Report is the outcome of one drift check.
type Report struct {
	Stats                map[string]Stat `json:"stats"`
	RetrainRecommended   bool            `json:"retrain_recommended"`
	SuppressedByCooldown bool            `json:"suppressed_by_cooldown"`
	CheckedAt            time.Time       `json:"checked_at"`
}

// Detector compares populations against a relative-change threshold.
type Detector struct {
	// Threshold is the relative change above which a statistic counts as
	// drifted.
	Threshold float64
	// Cooldown suppresses a machine-triggered retrain recommendation when
	// the active model is younger than this.
	Cooldown time.Duration
}

// Check compares the current window against the model's baseline.
// modelCreatedAt is when the active snapshot was created; a recommendation
// within the cooldown window is reported but suppressed.
func (d Detector) Check(baseline, current Baseline, modelCreatedAt, now time.Time) Report {
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = 0.25
	}

	report := Report{
		Stats:     make(map[string]Stat),
		CheckedAt: now,
	}
	compare := func(name string, base, cur float64) {
		s := Stat{Baseline: base, Current: cur}
		s.RelativeChange = relativeChange(base, cur)
		s.Exceeded = s.RelativeChange > threshold
		report.Stats[name] = s
		if s.Exceeded {
			report.RetrainRecommended = true
		}
	}
	compare("median_recency", baseline.MedianRecency, current.MedianRecency)
	compare("mean_frequency", baseline.MeanFrequency, current.MeanFrequency)
	compare("mean_monetary", baseline.MeanMonetary, current.MeanMonetary)
	compare("mean_daily_spend", baseline.MeanDailySpend, current.MeanDailySpend)
	compare("customers", float64(baseline.Customers), float64(current.Customers))

	if report.RetrainRecommended && d.Cooldown > 0 && now.Sub(modelCreatedAt) < d.Cooldown {
		report.RetrainRecommended = false
		report.SuppressedByCooldown = true
	}
	return report
}

func relativeChange(base, cur float64) float64 {
	if base == 0 {
		if cur == 0 {
			return 0
		}
		return 1
	}
	diff := cur - base
	if diff < 0 {
		diff = -diff
	}
	if base < 0 {
		base = -base
	}
	return diff / base
}
