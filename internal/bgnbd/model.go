// Package bgnbd fits the BG/NBD purchase-process model: individual purchase
// rates follow a Gamma(r, alpha) mixture and per-purchase drop-out
// probabilities follow a Beta(a, b) mixture. The four hyper-parameters are
// estimated by penalized maximum likelihood over a cohort's RFM summaries.
package bgnbd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/asanchezmanas/tactics/internal/domain"
)

// Params holds the fitted BG/NBD hyper-parameters. All four are strictly
// positive; a fit never produces anything else.
type Params struct {
	R     float64 `json:"r"`
	Alpha float64 `json:"alpha"`
	A     float64 `json:"a"`
	B     float64 `json:"b"`
}

// Model is an immutable fitted purchase-process model. It is superseded by
// the next fit, never mutated in place.
type Model struct {
	Params          Params  `json:"params"`
	SampleSize      int     `json:"sample_size"`
	RepeatCustomers int     `json:"repeat_customers"`
	LogLikelihood   float64 `json:"log_likelihood"`
	PenalizerCoef   float64 `json:"penalizer_coef"`
}

// FitOptions controls the maximum-likelihood fit.
type FitOptions struct {
	PenalizerCoef      float64
	MinRepeatCustomers int
	MaxIterations      int
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
}

// Fit estimates the hyper-parameters over a cohort of RFM summaries.
// Returns domain.ErrInsufficientData when there are too few repeat customers
// to identify the parameters; callers fall back to cohort or population
// defaults. On a failed first fit the penalizer is widened once before
// reporting domain.ErrConvergenceFailure.
func Fit(summaries []domain.RFMSummary, opts FitOptions) (*Model, error) {
	opts.defaults()

	repeat := 0
	for _, s := range summaries {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if s.Frequency > 0 {
			repeat++
		}
	}
	if repeat < opts.MinRepeatCustomers {
		return nil, fmt.Errorf("%w: %d repeat customers, need %d",
			domain.ErrInsufficientData, repeat, opts.MinRepeatCustomers)
	}

	m, err := fitOnce(summaries, opts.PenalizerCoef, opts.MaxIterations)
	if err != nil {
		// Local recovery: widen the regularization once and retry.
		m, err = fitOnce(summaries, opts.PenalizerCoef*10, opts.MaxIterations)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConvergenceFailure, err)
		}
	}
	m.SampleSize = len(summaries)
	m.RepeatCustomers = repeat
	return m, nil
}

func fitOnce(summaries []domain.RFMSummary, penalizer float64, maxIter int) (*Model, error) {
	n := float64(len(summaries))

	// Optimize over log-parameters so positivity holds by construction.
	objective := func(x []float64) float64 {
		p := paramsFromLog(x)
		ll := 0.0
		for _, s := range summaries {
			ll += logLikelihood(p, float64(s.Frequency), s.Recency, s.T)
		}
		penalty := penalizer * (p.R*p.R + p.Alpha*p.Alpha + p.A*p.A + p.B*p.B)
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

	x0 := []float64{0, 0, 0, 0} // params (1, 1, 1, 1)
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
		R:     math.Exp(x[0]),
		Alpha: math.Exp(x[1]),
		A:     math.Exp(x[2]),
		B:     math.Exp(x[3]),
	}
}

// logLikelihood is the closed-form per-customer BG/NBD log-likelihood for a
// customer with frequency x, recency tx and observation span T.
func logLikelihood(p Params, x, tx, T float64) float64 {
	a1 := lgamma(p.R+x) - lgamma(p.R) + p.R*math.Log(p.Alpha)
	a2 := lgamma(p.A+p.B) + lgamma(p.B+x) - lgamma(p.B) - lgamma(p.A+p.B+x)
	a3 := -(p.R + x) * math.Log(p.Alpha+T)

	if x == 0 {
		return a1 + a2 + a3
	}
	a4 := math.Log(p.A) - math.Log(p.B+x-1) - (p.R+x)*math.Log(p.Alpha+tx)
	return a1 + a2 + logAddExp(a3, a4)
}

// ProbabilityAlive is the closed-form probability that the customer's
// purchase process is still active at the analysis cutoff. Always in [0, 1];
// a customer with no repeat purchases is alive with probability 1 under the
// BG assumption (drop-out can only follow a purchase).
func (m *Model) ProbabilityAlive(s domain.RFMSummary) float64 {
	x := float64(s.Frequency)
	if x == 0 {
		return 1.0
	}
	p := m.Params
	odds := p.A / (p.B + x - 1) * math.Pow((p.Alpha+s.T)/(p.Alpha+s.Recency), p.R+x)
	return 1 / (1 + odds)
}

// ExpectedPurchases is the conditional expected number of purchases in the
// next horizonDays, given the customer's history.
func (m *Model) ExpectedPurchases(s domain.RFMSummary, horizonDays float64) float64 {
	if horizonDays <= 0 {
		return 0
	}
	p := m.Params
	x := float64(s.Frequency)

	// The closed form requires a > 1; nudge degenerate fits off the pole.
	a := p.A
	if a <= 1.0001 {
		a = 1.0001
	}

	z := horizonDays / (p.Alpha + s.T + horizonDays)
	hyp := hyp2f1(p.R+x, p.B+x, a+p.B+x-1, z)
	first := (a + p.B + x - 1) / (a - 1)
	second := 1 - hyp*math.Pow((p.Alpha+s.T)/(p.Alpha+s.T+horizonDays), p.R+x)

	denom := 1.0
	if x > 0 {
		denom = 1 + a/(p.B+x-1)*math.Pow((p.Alpha+s.T)/(p.Alpha+s.Recency), p.R+x)
	}

	expected := first * second / denom
	if expected < 0 || math.IsNaN(expected) {
		return 0
	}
	return expected
}
