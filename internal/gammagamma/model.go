// Package gammagamma fits the Gamma-Gamma model of monetary value: a repeat
// customer's observed average order value is a noisy draw around an
// unobserved true mean, which itself varies across the cohort. The model
// assumes spend per order is independent of purchase frequency, which is
// checked at fit time.
package gammagamma

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/asanchezmanas/tactics/internal/bgnbd"
	"github.com/asanchezmanas/tactics/internal/domain"
)

// Params holds the fitted Gamma-Gamma hyper-parameters, all strictly positive.
type Params struct {
	P float64 `json:"p"`
	Q float64 `json:"q"`
	V float64 `json:"v"`
}

// Model is an immutable fitted monetary-value model.
type Model struct {
	Params        Params  `json:"params"`
	SampleSize    int     `json:"sample_size"`
	LogLikelihood float64 `json:"log_likelihood"`
	PenalizerCoef float64 `json:"penalizer_coef"`
	// Correlation is the observed frequency/monetary correlation over the
	// fitting cohort. Warning is set when it exceeds the threshold; the fit
	// still proceeds but downstream value predictions carry the warning.
	Correlation float64 `json:"correlation"`
	Warning     string  `json:"warning,omitempty"`
}

// FitOptions controls the maximum-likelihood fit.
type FitOptions struct {
	PenalizerCoef      float64
	MinRepeatCustomers int
	MaxIterations      int
	// CorrelationWarnThreshold is the absolute frequency/monetary
	// correlation above which the independence assumption is flagged.
	CorrelationWarnThreshold float64
}

func (o *FitOptions) defaults() {
	if o.PenalizerCoef <= 0 {
		o.PenalizerCoef = 0.01
	}
	if o.MinRepeatCustomers <= 0 {
		o.MinRepeatCustomers = 30
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 2000
	}
	if o.CorrelationWarnThreshold <= 0 {
		o.CorrelationWarnThreshold = 0.3
	}
}

// Fit estimates the hyper-parameters over the repeat customers in the cohort.
// Zero-frequency and zero-spend customers are excluded: the model is only
// defined over observed repeat spend.
func Fit(summaries []domain.RFMSummary, opts FitOptions) (*Model, error) {
	opts.defaults()

	var freqs, values []float64
	for _, s := range summaries {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if s.Frequency > 0 && s.MonetaryValue > 0 {
			freqs = append(freqs, float64(s.Frequency))
			values = append(values, s.MonetaryValue)
		}
	}
	if len(freqs) < opts.MinRepeatCustomers {
		return nil, fmt.Errorf("%w: %d repeat customers with spend, need %d",
			domain.ErrInsufficientData, len(freqs), opts.MinRepeatCustomers)
	}

	m, err := fitOnce(freqs, values, opts.PenalizerCoef, opts.MaxIterations)
	if err != nil {
		m, err = fitOnce(freqs, values, opts.PenalizerCoef*10, opts.MaxIterations)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConvergenceFailure, err)
		}
	}

	m.SampleSize = len(freqs)
	m.Correlation = stat.Correlation(freqs, values, nil)
	if math.Abs(m.Correlation) > opts.CorrelationWarnThreshold {
		m.Warning = fmt.Sprintf(
			"frequency/monetary correlation %.2f exceeds %.2f; independence assumption is questionable",
			m.Correlation, opts.CorrelationWarnThreshold)
	}
	return m, nil
}

func fitOnce(freqs, values []float64, penalizer float64, maxIter int) (*Model, error) {
	n := float64(len(freqs))

	objective := func(lp []float64) float64 {
		p := paramsFromLog(lp)
		ll := 0.0
		for i := range freqs {
			ll += logLikelihood(p, freqs[i], values[i])
		}
		penalty := penalizer * (p.P*p.P + p.Q*p.Q + p.V*p.V)
		return -ll/n + penalty
	}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		MajorIterations: maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Iterations: 100,
		},
	}

	x0 := []float64{0, 0, 0}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, err
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return nil, fmt.Errorf("objective diverged (f=%v)", result.F)
	}

	p := paramsFromLog(result.X)
	return &Model{
		Params:        p,
		LogLikelihood: -result.F * n,
		PenalizerCoef: penalizer,
	}, nil
}

func paramsFromLog(x []float64) Params {
	return Params{
		P: math.Exp(x[0]),
		Q: math.Exp(x[1]),
		V: math.Exp(x[2]),
	}
}

func logLikelihood(p Params, x, m float64) float64 {
	px := p.P * x
	return lgamma(px+p.Q) - lgamma(px) - lgamma(p.Q) +
		p.Q*math.Log(p.V) +
		(px-1)*math.Log(m) +
		px*math.Log(x) -
		(px+p.Q)*math.Log(p.V+m*x)
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// ExpectedAverageValue is the conditional expectation of a customer's true
// mean order value given their observed frequency and average spend. It
// shrinks low-frequency observations toward the population mean.
func (m *Model) ExpectedAverageValue(s domain.RFMSummary) float64 {
	p := m.Params
	q := p.Q
	if q <= 1.0001 {
		q = 1.0001
	}
	x := float64(s.Frequency)
	if x == 0 || s.MonetaryValue <= 0 {
		return m.populationMean(q)
	}
	return (p.P*p.V + p.P*x*s.MonetaryValue) / (p.P*x + q - 1)
}

// PopulationMean is the model-implied mean order value across the cohort,
// used for customers with no observed repeat spend.
func (m *Model) PopulationMean() float64 {
	q := m.Params.Q
	if q <= 1.0001 {
		q = 1.0001
	}
	return m.populationMean(q)
}

func (m *Model) populationMean(q float64) float64 {
	return m.Params.P * m.Params.V / (q - 1)
}

// CustomerLifetimeValue discounts the customer's expected future spend over
// the horizon, in monthly steps, combining the purchase-process forecast
// with the expected order value. monthlyDiscountRate of 0 gives the plain
// undiscounted product.
func (m *Model) CustomerLifetimeValue(pp *bgnbd.Model, s domain.RFMSummary, horizonDays float64, monthlyDiscountRate float64) float64 {
	if horizonDays <= 0 {
		return 0
	}
	avg := m.ExpectedAverageValue(s)

	const monthDays = 30.0
	months := int(math.Ceil(horizonDays / monthDays))
	clv := 0.0
	prev := 0.0
	for i := 1; i <= months; i++ {
		end := math.Min(float64(i)*monthDays, horizonDays)
		cum := pp.ExpectedPurchases(s, end)
		increment := cum - prev
		if increment < 0 {
			increment = 0
		}
		prev = cum
		clv += increment * avg / math.Pow(1+monthlyDiscountRate, float64(i))
	}
	return clv
}
