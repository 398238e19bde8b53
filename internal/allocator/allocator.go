// Package allocator solves the constrained budget-allocation problem: given
// fitted per-channel response curves and a total budget, maximize the summed
// response subject to non-negative allocations summing to the budget. The
// objective can blend short-term revenue with a value-weighted response, and
// a Monte-Carlo variant re-solves under parameter perturbation to produce
// confidence bands per channel.
package allocator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/asanchezmanas/tactics/internal/domain"
	"github.com/asanchezmanas/tactics/internal/response"
)

// Options configures a solve.
type Options struct {
	// ObjectiveWeight blends revenue (1.0) against value-weighted response
	// (0.0). Defaults to pure revenue; an explicit 0.0 needs
	// WithValueObjective to distinguish it from the zero value.
	ObjectiveWeight float64
	MaxIter         int
	// Synergy holds pairwise channel interaction coefficients. Nil means no
	// interaction (identity matrix).
	Synergy Synergy

	objectiveSet bool
}

// Synergy is a symmetric channel interaction matrix keyed by channel id. An
// entry (a, b) credits each of the pair with that share of the other's
// response; absent entries contribute nothing.
type Synergy map[string]map[string]float64

// Set records a symmetric coefficient for the pair.
func (s Synergy) Set(a, b string, v float64) {
	for _, p := range [][2]string{{a, b}, {b, a}} {
		if s[p[0]] == nil {
			s[p[0]] = make(map[string]float64)
		}
		s[p[0]][p[1]] = v
	}
}

func (s Synergy) coefficient(a, b string) float64 {
	if s == nil {
		return 0
	}
	return s[a][b]
}

func (o *Options) defaults() {
	if o.ObjectiveWeight == 0 && !o.objectiveSet {
		o.ObjectiveWeight = 1.0
	}
	if o.MaxIter <= 0 {
		o.MaxIter = 500
	}
}

// WithValueObjective returns options for a pure long-term-value objective
// (weight 0.0).
func (o Options) WithValueObjective() Options {
	o.ObjectiveWeight = 0
	o.objectiveSet = true
	return o
}

// Solve maximizes the blended response over the simplex
// {x >= 0, sum(x) = totalBudget} by projected gradient ascent. Zero channels
// or a negative budget are infeasible; a zero budget yields the valid
// all-zero allocation.
func Solve(curves []domain.ResponseCurve, totalBudget float64, opts Options) (*domain.BudgetAllocation, error) {
	opts.defaults()
	if len(curves) == 0 {
		return nil, fmt.Errorf("%w: no channels to allocate across", domain.ErrOptimizerInfeasible)
	}
	if totalBudget < 0 {
		return nil, fmt.Errorf("%w: negative total budget %.2f", domain.ErrOptimizerInfeasible, totalBudget)
	}
	for _, c := range curves {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	alloc := &domain.BudgetAllocation{
		TotalBudget: totalBudget,
		Amounts:     make(map[string]float64, len(curves)),
		CreatedAt:   time.Now().UTC(),
	}

	if totalBudget == 0 {
		for _, c := range curves {
			alloc.Amounts[c.ChannelID] = 0
		}
		return alloc, nil
	}
	if len(curves) == 1 {
		alloc.Amounts[curves[0].ChannelID] = totalBudget
		alloc.ExpectedOutcome = objective(curves, []float64{totalBudget}, opts)
		alloc.MarginalROAS = marginalROAS(curves, []float64{totalBudget}, opts)
		return alloc, nil
	}

	x := solve(curves, totalBudget, opts)
	for i, c := range curves {
		alloc.Amounts[c.ChannelID] = x[i]
	}
	alloc.ExpectedOutcome = objective(curves, x, opts)
	alloc.MarginalROAS = marginalROAS(curves, x, opts)
	return alloc, nil
}

// solve runs projected gradient ascent from an equal split. The equal-split
// start matters: Hill curves with gamma above 1 are convex near zero, and
// starting a channel at zero can strand it there.
func solve(curves []domain.ResponseCurve, totalBudget float64, opts Options) []float64 {
	n := len(curves)
	x := make([]float64, n)
	for i := range x {
		x[i] = totalBudget / float64(n)
	}

	step := totalBudget / 10
	best := objective(curves, x, opts)
	grad := make([]float64, n)
	candidate := make([]float64, n)

	for iter := 0; iter < opts.MaxIter; iter++ {
		gradient(curves, x, opts, grad)

		copy(candidate, x)
		for i := range candidate {
			candidate[i] += step * grad[i]
		}
		projectSimplex(candidate, totalBudget)

		if got := objective(curves, candidate, opts); got > best {
			best = got
			copy(x, candidate)
			continue
		}
		step /= 2
		if step < totalBudget*1e-10 {
			break
		}
	}
	return x
}

// objective is the blended response summed across channels, with pairwise
// synergy credits applied to the effect vector.
func objective(curves []domain.ResponseCurve, x []float64, opts Options) float64 {
	total := 0.0
	effects := make([]float64, len(curves))
	for i, c := range curves {
		effects[i] = channelWeight(c, opts.ObjectiveWeight) * response.SteadyState(c, x[i])
		total += effects[i]
	}
	if opts.Synergy != nil {
		for i := range curves {
			for j := range curves {
				if i == j {
					continue
				}
				total += opts.Synergy.coefficient(curves[i].ChannelID, curves[j].ChannelID) * effects[i]
			}
		}
	}
	return total
}

// channelWeight folds the revenue/value blend into a per-channel multiplier.
// A channel with no configured value weight contributes revenue only.
func channelWeight(c domain.ResponseCurve, w float64) float64 {
	return w + (1-w)*c.ValueWeight
}

// gradient is a forward finite difference of the full objective, so synergy
// cross terms flow into every channel's direction.
func gradient(curves []domain.ResponseCurve, x []float64, opts Options, out []float64) {
	base := objective(curves, x, opts)
	for i := range curves {
		h := math.Max(x[i]*1e-6, 1e-6)
		x[i] += h
		out[i] = (objective(curves, x, opts) - base) / h
		x[i] -= h
	}
}

// projectSimplex maps v onto {x >= 0, sum(x) = budget} by Euclidean
// projection (Duchi et al. 2008).
func projectSimplex(v []float64, budget float64) {
	n := len(v)
	u := make([]float64, n)
	copy(u, v)
	sort.Sort(sort.Reverse(sort.Float64Slice(u)))

	cum := 0.0
	rho := -1
	var tau float64
	for j := 0; j < n; j++ {
		cum += u[j]
		t := (cum - budget) / float64(j+1)
		if u[j]-t > 0 {
			rho = j
			tau = t
		}
	}
	if rho < 0 {
		// All mass below threshold; spread evenly.
		for i := range v {
			v[i] = budget / float64(n)
		}
		return
	}
	for i := range v {
		v[i] = math.Max(v[i]-tau, 0)
	}
}

// marginalROAS is the incremental blended response per additional unit of
// spend, per channel, at the solved allocation.
func marginalROAS(curves []domain.ResponseCurve, x []float64, opts Options) map[string]float64 {
	const delta = 1.0
	out := make(map[string]float64, len(curves))
	base := objective(curves, x, opts)
	for i, c := range curves {
		x[i] += delta
		out[c.ChannelID] = (objective(curves, x, opts) - base) / delta
		x[i] -= delta
	}
	return out
}
