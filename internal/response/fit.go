package response

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/asanchezmanas/tactics/internal/domain"
)

// FitOptions controls a per-channel curve fit.
type FitOptions struct {
	Kernel     domain.AdstockKernel
	Saturation domain.SaturationFunc
	MaxLag     int
	MinDays    int
	MaxIter    int
}

func (o *FitOptions) defaults() {
	if o.Kernel == "" {
		o.Kernel = domain.AdstockGeometric
	}
	if o.Saturation == "" {
		o.Saturation = domain.SaturationHill
	}
	if o.MaxLag <= 0 {
		o.MaxLag = 8
	}
	if o.MinDays <= 0 {
		o.MinDays = 30
	}
	if o.MaxIter <= 0 {
		o.MaxIter = 2000
	}
}

// FitCurve estimates one channel's carryover and saturation parameters by
// least squares against observed daily revenue. Needs at least MinDays of
// history; returns domain.ErrInsufficientData otherwise.
func FitCurve(series domain.ChannelSeries, opts FitOptions) (domain.ResponseCurve, error) {
	opts.defaults()

	spend := series.Spend()
	revenue := make([]float64, len(series.Points))
	maxRevenue := 0.0
	activeDays := 0
	for i, p := range series.Points {
		revenue[i] = p.Revenue
		if p.Revenue > maxRevenue {
			maxRevenue = p.Revenue
		}
		if p.Spend > 0 {
			activeDays++
		}
	}
	if len(spend) < opts.MinDays || activeDays < opts.MinDays/2 {
		return domain.ResponseCurve{}, fmt.Errorf(
			"%w: channel %s has %d days (%d with spend), need %d",
			domain.ErrInsufficientData, series.ChannelID, len(spend), activeDays, opts.MinDays)
	}
	if maxRevenue <= 0 {
		return domain.ResponseCurve{}, fmt.Errorf(
			"%w: channel %s has no observed revenue", domain.ErrInsufficientData, series.ChannelID)
	}

	meanSpend := 0.0
	for _, s := range spend {
		meanSpend += s
	}
	meanSpend /= float64(len(spend))
	if meanSpend <= 0 {
		meanSpend = 1
	}

	objective := func(theta []float64) float64 {
		curve := curveFromTheta(series.ChannelID, theta, opts)
		predicted := Transform(curve, spend, opts.MaxLag)
		sse := 0.0
		for i := range revenue {
			d := predicted[i] - revenue[i]
			sse += d * d
		}
		return sse / float64(len(revenue))
	}

	x0 := initialTheta(maxRevenue, meanSpend, opts)
	result, err := minimize(objective, x0, opts.MaxIter)
	if err != nil {
		// Retry from a flatter start before giving up.
		retry := initialTheta(maxRevenue*2, meanSpend*2, opts)
		result, err = minimize(objective, retry, opts.MaxIter)
		if err != nil {
			return domain.ResponseCurve{}, fmt.Errorf(
				"%w: channel %s: %v", domain.ErrConvergenceFailure, series.ChannelID, err)
		}
	}

	curve := curveFromTheta(series.ChannelID, result.X, opts)
	if err := curve.Validate(); err != nil {
		return domain.ResponseCurve{}, fmt.Errorf(
			"%w: channel %s produced an invalid curve: %v", domain.ErrConvergenceFailure, series.ChannelID, err)
	}
	return curve, nil
}

func minimize(objective func([]float64) float64, x0 []float64, maxIter int) (*optimize.Result, error) {
	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		MajorIterations: maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Iterations: 100,
		},
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, err
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return nil, fmt.Errorf("objective diverged (f=%v)", result.F)
	}
	return result, nil
}

// Parameterization keeps every constraint satisfied by construction: decay
// through a sigmoid stays in (0,1), everything else through exp stays
// positive.
func curveFromTheta(channelID string, theta []float64, opts FitOptions) domain.ResponseCurve {
	c := domain.ResponseCurve{
		ChannelID:  channelID,
		Kernel:     opts.Kernel,
		Saturation: opts.Saturation,
	}
	i := 0
	if opts.Kernel == domain.AdstockWeibull {
		c.Shape = math.Exp(theta[i])
		c.Scale = math.Exp(theta[i+1])
		i += 2
	} else {
		c.Decay = sigmoid(theta[i])
		i++
	}
	c.Ceiling = math.Exp(theta[i])
	c.HalfSaturation = math.Exp(theta[i+1])
	if opts.Saturation == domain.SaturationHill {
		c.Gamma = math.Exp(theta[i+2])
	} else {
		c.Gamma = 1
	}
	return c
}

func initialTheta(maxRevenue, meanSpend float64, opts FitOptions) []float64 {
	var theta []float64
	if opts.Kernel == domain.AdstockWeibull {
		theta = append(theta, 0, math.Log(2)) // shape 1, scale 2
	} else {
		theta = append(theta, 0) // decay 0.5
	}
	theta = append(theta, math.Log(maxRevenue*1.5), math.Log(meanSpend))
	if opts.Saturation == domain.SaturationHill {
		theta = append(theta, 0) // gamma 1
	}
	return theta
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
