// Package response converts raw daily channel spend into expected
// incremental outcome via two composable transforms: a carryover (adstock)
// kernel spreading each day's spend over following days, and a saturation
// function imposing diminishing returns bounded by the channel ceiling.
// Transform parameters are fit per tenant per channel; a single global decay
// across channels is a modeling error, not a simplification.
package response

import (
	"math"

	"github.com/asanchezmanas/tactics/internal/domain"
)

// GeometricAdstock applies exponential carryover: each day retains a decay
// fraction of the previous day's accumulated stimulus.
func GeometricAdstock(spend []float64, decay float64) []float64 {
	out := make([]float64, len(spend))
	for t, s := range spend {
		out[t] = s
		if t > 0 {
			out[t] += decay * out[t-1]
		}
	}
	return out
}

// WeibullAdstock convolves spend with a normalized Weibull-survival kernel
// over maxLag days. Shape below 1 decays fast; above 1 the kernel stays
// flat before dropping, modeling delayed response.
func WeibullAdstock(spend []float64, shape, scale float64, maxLag int) []float64 {
	if maxLag < 1 {
		maxLag = 1
	}
	weights := make([]float64, maxLag)
	sum := 0.0
	for k := range weights {
		weights[k] = math.Exp(-math.Pow(float64(k)/scale, shape))
		sum += weights[k]
	}
	for k := range weights {
		weights[k] /= sum
	}

	out := make([]float64, len(spend))
	for t := range spend {
		for k := 0; k < maxLag && k <= t; k++ {
			out[t] += weights[k] * spend[t-k]
		}
	}
	return out
}

// Hill is the saturation function alpha * x^gamma / (ec50^gamma + x^gamma):
// zero at zero, strictly increasing, and strictly below the alpha ceiling
// for all finite spend.
func Hill(x, alpha, gamma, ec50 float64) float64 {
	if x <= 0 {
		return 0
	}
	xg := math.Pow(x, gamma)
	return alpha * xg / (math.Pow(ec50, gamma) + xg)
}

// MichaelisMenten is Hill with gamma fixed at 1.
func MichaelisMenten(x, alpha, km float64) float64 {
	if x <= 0 {
		return 0
	}
	return alpha * x / (km + x)
}

// Saturate evaluates the curve's configured saturation function at effective
// stimulus x.
func Saturate(c domain.ResponseCurve, x float64) float64 {
	if c.Saturation == domain.SaturationMichaelisMenten {
		return MichaelisMenten(x, c.Ceiling, c.HalfSaturation)
	}
	return Hill(x, c.Ceiling, c.Gamma, c.HalfSaturation)
}

// Adstock applies the curve's configured carryover kernel to a spend series.
func Adstock(c domain.ResponseCurve, spend []float64, maxLag int) []float64 {
	if c.Kernel == domain.AdstockWeibull {
		return WeibullAdstock(spend, c.Shape, c.Scale, maxLag)
	}
	return GeometricAdstock(spend, c.Decay)
}

// Transform runs the full spend-to-outcome pipeline for one channel:
// carryover first, then saturation per day.
func Transform(c domain.ResponseCurve, spend []float64, maxLag int) []float64 {
	effective := Adstock(c, spend, maxLag)
	out := make([]float64, len(effective))
	for i, x := range effective {
		out[i] = Saturate(c, x)
	}
	return out
}

// SteadyState evaluates the expected daily outcome at a constant daily
// spend level, with carryover at equilibrium. For the geometric kernel the
// equilibrium stimulus is spend/(1-decay); the normalized Weibull kernel
// passes constant spend through unchanged.
func SteadyState(c domain.ResponseCurve, dailySpend float64) float64 {
	x := dailySpend
	if c.Kernel == domain.AdstockGeometric && c.Decay < 1 {
		x = dailySpend / (1 - c.Decay)
	}
	return Saturate(c, x)
}
