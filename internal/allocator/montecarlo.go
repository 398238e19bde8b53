package allocator

import (
	"math/rand/v2"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/stat"

	"github.com/asanchezmanas/tactics/internal/domain"
)

// MCOptions configures the Monte-Carlo solve.
type MCOptions struct {
	// Iterations is the number of perturbed re-solves. Defaults to 30.
	Iterations int
	// ParamUncertainty is the relative standard deviation applied to each
	// curve's ceiling, gamma and half-saturation. Defaults to 0.1.
	ParamUncertainty float64
	// Confidence is the two-sided band coverage. Defaults to 0.90.
	Confidence float64
	Seed       uint64
	// Progress, when set, is called after each completed iteration with the
	// number done so far. Used by the CLI to drive a progress bar.
	Progress func(done, total int)
}

func (o *MCOptions) defaults() {
	if o.Iterations <= 0 {
		o.Iterations = 30
	}
	if o.ParamUncertainty <= 0 {
		o.ParamUncertainty = 0.1
	}
	if o.Confidence <= 0 || o.Confidence >= 1 {
		o.Confidence = 0.90
	}
	if o.Seed == 0 {
		o.Seed = 1
	}
}

// SolveMonteCarlo solves the point allocation, then re-solves Iterations
// times under relative Gaussian perturbation of each curve's saturation
// parameters, and attaches per-channel allocation bands and an outcome band.
// Iteration order is irrelevant: results aggregate via percentiles.
func SolveMonteCarlo(curves []domain.ResponseCurve, totalBudget float64, opts Options, mc MCOptions) (*domain.BudgetAllocation, error) {
	mc.defaults()

	alloc, err := Solve(curves, totalBudget, opts)
	if err != nil {
		return nil, err
	}
	if totalBudget == 0 {
		return alloc, nil
	}

	type draw struct {
		amounts map[string]float64
		outcome float64
	}
	draws := make([]draw, mc.Iterations)

	var done int64
	var wg sync.WaitGroup
	workers := runtime.GOMAXPROCS(0)
	if workers > mc.Iterations {
		workers = mc.Iterations
	}
	next := make(chan int)
	go func() {
		for i := 0; i < mc.Iterations; i++ {
			next <- i
		}
		close(next)
	}()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				rng := rand.New(rand.NewPCG(mc.Seed, uint64(i)+1))
				perturbed := perturbCurves(curves, mc.ParamUncertainty, rng)
				// Perturbed curves stay valid by construction, so the
				// only error path here is infeasibility, already ruled
				// out by the point solve.
				a, solveErr := Solve(perturbed, totalBudget, opts)
				if solveErr != nil {
					a = alloc
				}
				draws[i] = draw{amounts: a.Amounts, outcome: a.ExpectedOutcome}
				if mc.Progress != nil {
					mc.Progress(int(atomic.AddInt64(&done, 1)), mc.Iterations)
				}
			}
		}()
	}
	wg.Wait()

	tail := (1 - mc.Confidence) / 2
	alloc.Bands = make(map[string]domain.Interval, len(curves))
	for _, c := range curves {
		samples := make([]float64, mc.Iterations)
		for i, d := range draws {
			samples[i] = d.amounts[c.ChannelID]
		}
		alloc.Bands[c.ChannelID] = band(samples, tail, alloc.Amounts[c.ChannelID])
	}

	outcomes := make([]float64, mc.Iterations)
	for i, d := range draws {
		outcomes[i] = d.outcome
	}
	alloc.OutcomeInterval = band(outcomes, tail, alloc.ExpectedOutcome)
	return alloc, nil
}

func band(samples []float64, tail, point float64) domain.Interval {
	sort.Float64s(samples)
	iv := domain.Interval{
		Lower: stat.Quantile(tail, stat.Empirical, samples, nil),
		Upper: stat.Quantile(1-tail, stat.Empirical, samples, nil),
	}
	if iv.Lower > point {
		iv.Lower = point
	}
	if iv.Upper < point {
		iv.Upper = point
	}
	return iv
}

const minPerturbFactor = 0.05

func perturbCurves(curves []domain.ResponseCurve, sd float64, rng *rand.Rand) []domain.ResponseCurve {
	out := make([]domain.ResponseCurve, len(curves))
	for i, c := range curves {
		c.Ceiling *= factor(rng, sd)
		c.Gamma *= factor(rng, sd)
		c.HalfSaturation *= factor(rng, sd)
		out[i] = c
	}
	return out
}

func factor(rng *rand.Rand, sd float64) float64 {
	f := 1 + sd*rng.NormFloat64()
	if f < minPerturbFactor {
		f = minPerturbFactor
	}
	return f
}
