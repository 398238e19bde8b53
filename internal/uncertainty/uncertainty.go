// Package uncertainty attaches empirical confidence intervals to model
// outputs. Instead of refitting on resampled cohorts, it perturbs the fitted
// parameters with relative Gaussian noise whose scale shrinks with the
// fitting sample size, re-evaluates the statistic under each draw, and takes
// empirical quantiles. Small cohorts therefore always produce intervals at
// least as wide as larger ones for the same statistic.
package uncertainty

import (
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/asanchezmanas/tactics/internal/domain"
)

// noiseScale controls how the relative perturbation shrinks with sample
// size: sd = noiseScale / sqrt(n).
const noiseScale = 0.5

// minPerturbFactor keeps a perturbed positive parameter positive.
const minPerturbFactor = 0.05

// Options configures the interval engine.
type Options struct {
	// Iterations is the number of perturbation draws. Defaults to 30.
	Iterations int
	// Confidence is the two-sided interval coverage in (0, 1). Defaults
	// to 0.90.
	Confidence float64
	// Seed makes the draws reproducible. Zero seeds from a fixed default.
	Seed uint64
}

func (o *Options) defaults() {
	if o.Iterations <= 0 {
		o.Iterations = 30
	}
	if o.Confidence <= 0 {
		o.Confidence = 0.90
	}
	if o.Seed == 0 {
		o.Seed = 1
	}
}

func (o Options) validate() error {
	if o.Confidence >= 1 {
		return fmt.Errorf("%w: confidence %v must be in (0, 1)", domain.ErrInvalidInput, o.Confidence)
	}
	return nil
}

// Interval evaluates eval at the fitted params and at Iterations perturbed
// copies, and returns the empirical interval at the configured confidence.
// sampleSize is the cohort size the params were fitted on; smaller cohorts
// get proportionally larger perturbations. The point estimate is always
// inside the returned interval.
func Interval(params []float64, sampleSize int, eval func(perturbed []float64) float64, opts Options) (float64, domain.Interval, error) {
	opts.defaults()
	if err := opts.validate(); err != nil {
		return 0, domain.Interval{}, err
	}
	if len(params) == 0 {
		return 0, domain.Interval{}, fmt.Errorf("%w: no parameters to perturb", domain.ErrInvalidInput)
	}
	if sampleSize < 1 {
		return 0, domain.Interval{}, fmt.Errorf("%w: sample size %d", domain.ErrInvalidInput, sampleSize)
	}

	point := eval(params)
	sd := noiseScale / math.Sqrt(float64(sampleSize))

	samples := make([]float64, opts.Iterations)
	var wg sync.WaitGroup
	workers := runtime.GOMAXPROCS(0)
	if workers > opts.Iterations {
		workers = opts.Iterations
	}
	next := make(chan int)
	go func() {
		for i := 0; i < opts.Iterations; i++ {
			next <- i
		}
		close(next)
	}()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				// Per-iteration source keeps draws independent of
				// scheduling order.
				rng := rand.New(rand.NewPCG(opts.Seed, uint64(i)+1))
				perturbed := make([]float64, len(params))
				for j, p := range params {
					factor := 1 + sd*rng.NormFloat64()
					if factor < minPerturbFactor {
						factor = minPerturbFactor
					}
					perturbed[j] = p * factor
				}
				samples[i] = eval(perturbed)
			}
		}()
	}
	wg.Wait()

	sort.Float64s(samples)
	tail := (1 - opts.Confidence) / 2
	lower := stat.Quantile(tail, stat.Empirical, samples, nil)
	upper := stat.Quantile(1-tail, stat.Empirical, samples, nil)

	// Quantile noise must never exclude the point estimate.
	if lower > point {
		lower = point
	}
	if upper < point {
		upper = point
	}
	return point, domain.Interval{Lower: lower, Upper: upper}, nil
}
