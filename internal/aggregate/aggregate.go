// Package aggregate turns the raw per-tenant ledger into the summaries the
// estimators consume: RFM rows per customer and validated daily series per
// channel. Invalid rows are rejected and counted, never silently dropped,
// and every run emits a data-quality report.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/asanchezmanas/tactics/internal/domain"
)

const dayHours = 24.0

// Options configures a single aggregation run.
type Options struct {
	// WindowStart and Cutoff bound the analysis window. Transactions
	// outside [WindowStart, Cutoff] are rejected.
	WindowStart time.Time
	Cutoff      time.Time
	// DailyGranularity collapses same-day transactions per customer into a
	// single purchase occasion, summing their amounts. Frequency then
	// counts occasions, not line items.
	DailyGranularity bool
	// MinHistoryMonths is the history below which a customer is counted as
	// under-observed in the quality report.
	MinHistoryMonths int
}

func (o *Options) defaults() {
	if o.MinHistoryMonths <= 0 {
		o.MinHistoryMonths = 3
	}
}

func (o Options) validate() error {
	if o.Cutoff.IsZero() {
		return fmt.Errorf("%w: analysis cutoff is required", domain.ErrInvalidInput)
	}
	if !o.WindowStart.IsZero() && o.WindowStart.After(o.Cutoff) {
		return fmt.Errorf("%w: window start %s after cutoff %s",
			domain.ErrInvalidInput, o.WindowStart.Format(time.DateOnly), o.Cutoff.Format(time.DateOnly))
	}
	return nil
}

// Result is the output of one aggregation run.
type Result struct {
	Summaries []domain.RFMSummary
	Channels  map[string]domain.ChannelSeries
	Quality   QualityReport
}

// Aggregate validates and summarizes one tenant's transaction ledger and
// channel spend rows for a single analysis window.
func Aggregate(transactions []domain.Transaction, points []domain.ChannelPoint, opts Options) (*Result, error) {
	opts.defaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	q := newQualityReport()
	summaries := aggregateCustomers(transactions, opts, &q)
	channels := aggregateChannels(points, opts, &q)
	q.finalize(opts)

	return &Result{Summaries: summaries, Channels: channels, Quality: q}, nil
}

// occasion is one purchase event after optional same-day collapsing.
type occasion struct {
	t      time.Time
	amount float64
}

func aggregateCustomers(transactions []domain.Transaction, opts Options, q *QualityReport) []domain.RFMSummary {
	q.TransactionsIn = len(transactions)

	byCustomer := make(map[string][]occasion)
	for _, tx := range transactions {
		switch {
		case tx.CustomerID == "":
			q.reject(RejectMissingCustomer)
		case tx.Amount <= 0:
			q.reject(RejectNonPositiveAmount)
		case tx.Timestamp.IsZero():
			q.reject(RejectMalformedTimestamp)
		case tx.Timestamp.After(opts.Cutoff),
			!opts.WindowStart.IsZero() && tx.Timestamp.Before(opts.WindowStart):
			q.reject(RejectOutsideWindow)
		default:
			byCustomer[tx.CustomerID] = append(byCustomer[tx.CustomerID],
				occasion{t: tx.Timestamp, amount: tx.Amount})
			q.TransactionsKept++
			q.observe(tx.Timestamp)
		}
	}

	summaries := make([]domain.RFMSummary, 0, len(byCustomer))
	for id, occasions := range byCustomer {
		sort.Slice(occasions, func(i, j int) bool { return occasions[i].t.Before(occasions[j].t) })
		if opts.DailyGranularity {
			occasions = collapseDaily(occasions)
		}

		first := occasions[0].t
		last := occasions[len(occasions)-1].t
		s := domain.RFMSummary{
			CustomerID: id,
			Frequency:  len(occasions) - 1,
			Recency:    last.Sub(first).Hours() / dayHours,
			T:          opts.Cutoff.Sub(first).Hours() / dayHours,
		}
		if s.Frequency > 0 {
			total := 0.0
			for _, o := range occasions[1:] {
				total += o.amount
			}
			s.MonetaryValue = total / float64(s.Frequency)
		} else {
			q.ZeroFrequencyCustomers++
		}
		if s.T < float64(opts.MinHistoryMonths)*30 {
			q.BelowMinHistory++
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].CustomerID < summaries[j].CustomerID })

	q.Customers = len(summaries)
	return summaries
}

func collapseDaily(occasions []occasion) []occasion {
	out := occasions[:0:0]
	for _, o := range occasions {
		day := o.t.Truncate(dayHours * time.Hour)
		if len(out) > 0 && out[len(out)-1].t.Equal(day) {
			out[len(out)-1].amount += o.amount
			continue
		}
		out = append(out, occasion{t: day, amount: o.amount})
	}
	return out
}

// aggregateChannels validates spend rows and fills interior date gaps with
// explicit zero-spend points. A gap is reported, not treated as an error:
// the report is what distinguishes a dark period on a live channel from a
// channel that never reported at all.
func aggregateChannels(points []domain.ChannelPoint, opts Options, q *QualityReport) map[string]domain.ChannelSeries {
	q.ChannelRowsIn = len(points)

	byChannel := make(map[string][]domain.ChannelPoint)
	for _, p := range points {
		switch {
		case p.ChannelID == "":
			q.reject(RejectMissingChannel)
		case p.Spend < 0 || p.Revenue < 0 || p.Impressions < 0 || p.Clicks < 0:
			q.reject(RejectNegativeChannelRow)
		case p.Date.IsZero():
			q.reject(RejectMalformedTimestamp)
		case p.Date.After(opts.Cutoff):
			q.reject(RejectOutsideWindow)
		default:
			byChannel[p.ChannelID] = append(byChannel[p.ChannelID], p)
			q.ChannelRowsKept++
		}
	}

	channels := make(map[string]domain.ChannelSeries, len(byChannel))
	for id, pts := range byChannel {
		series := domain.ChannelSeries{ChannelID: id, Points: pts}
		series.Sort()

		filled, cq := fillGaps(id, series.Points)
		series.Points = filled
		q.Channels[id] = cq
		channels[id] = series
	}
	return channels
}

func fillGaps(channelID string, pts []domain.ChannelPoint) ([]domain.ChannelPoint, ChannelQuality) {
	cq := ChannelQuality{ObservedDays: len(pts)}
	if len(pts) == 0 {
		return pts, cq
	}

	filled := make([]domain.ChannelPoint, 0, len(pts))
	filled = append(filled, pts[0])
	run := 0
	for i := 1; i < len(pts); i++ {
		prev := filled[len(filled)-1].Date
		for d := prev.AddDate(0, 0, 1); d.Before(pts[i].Date); d = d.AddDate(0, 0, 1) {
			filled = append(filled, domain.ChannelPoint{ChannelID: channelID, Date: d})
			cq.GapDays++
			run++
		}
		if run > cq.LongestGapDays {
			cq.LongestGapDays = run
		}
		run = 0
		filled = append(filled, pts[i])
	}

	for _, p := range filled {
		if p.Spend == 0 {
			cq.ZeroSpendDays++
		}
	}
	cq.TotalDays = len(filled)
	return filled, cq
}
