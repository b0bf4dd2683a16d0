package opt

import (
	"context"
	"sort"
	"time"
)

const defaultSwapIterations = 100

// Greedy is a construction heuristic: it opens the facility adding the most
// uncovered weight until P are open or nothing more can be gained, then
// swaps open and closed facilities while that improves coverage.
type Greedy struct {
	Iterations int
}

func (g *Greedy) Name() string { return NameGreedy }

func (g *Greedy) Solve(ctx context.Context, p *Problem) (Solution, error) {
	start := time.Now()
	if len(p.Facilities) == 0 || len(p.Demands) == 0 {
		return Solution{}, ErrEmptyProblem
	}
	sel, _ := greedySelect(p, p.Limit())
	iterations := g.Iterations
	if iterations <= 0 {
		iterations = defaultSwapIterations
	}
	sel, m := improveSwap(ctx, p, sel, iterations)

	ids := make([]string, 0, len(sel))
	for _, j := range sel {
		ids = append(ids, p.Facilities[j])
	}
	sort.Strings(ids)
	obj := p.Covered(sel)
	m.BestObjective = obj
	status := StatusFeasible
	if len(sel) == len(p.Facilities) || obj >= p.Reachable()-1e-9 {
		status = StatusOptimal
	}
	return Solution{
		FacilityIDs: ids,
		Objective:   obj,
		Status:      status,
		Solver:      NameGreedy,
		Elapsed:     time.Since(start),
		Metrics:     m,
	}, nil
}

// greedySelect opens up to k facilities by largest marginal gain. Ties go to
// the lower column. It stops early once no facility adds weight.
func greedySelect(p *Problem, k int) ([]int, float64) {
	covered := make([]bool, len(p.Demands))
	open := make([]bool, len(p.Facilities))
	var sel []int
	var total float64
	for len(sel) < k {
		best, bestGain := -1, 0.0
		for j, units := range p.Serves {
			if open[j] {
				continue
			}
			var gain float64
			for _, i := range units {
				if !covered[i] {
					gain += p.Weights[i]
				}
			}
			if gain > bestGain {
				best, bestGain = j, gain
			}
		}
		if best < 0 {
			break
		}
		open[best] = true
		sel = append(sel, best)
		total += bestGain
		for _, i := range p.Serves[best] {
			covered[i] = true
		}
	}
	sort.Ints(sel)
	return sel, total
}

// improveSwap replaces an open facility with a closed one whenever that
// raises covered weight, until a full pass finds no improving swap.
func improveSwap(ctx context.Context, p *Problem, sel []int, iterations int) ([]int, Metrics) {
	var m Metrics
	best := append([]int(nil), sel...)
	count := make([]int, len(p.Demands))
	open := make([]bool, len(p.Facilities))
	for _, j := range best {
		open[j] = true
		for _, i := range p.Serves[j] {
			count[i]++
		}
	}
	for it := 0; it < iterations; it++ {
		if ctx.Err() != nil {
			break
		}
		m.Iterations++
		improved := false
		for pos := 0; pos < len(best); pos++ {
			out := best[pos]
			// weight lost by closing out
			var loss float64
			for _, i := range p.Serves[out] {
				if count[i] == 1 {
					loss += p.Weights[i]
				}
			}
			for in := range p.Facilities {
				if open[in] {
					continue
				}
				var gain float64
				for _, i := range p.Serves[in] {
					c := count[i]
					if coversUnit(p, out, i) {
						c--
					}
					if c == 0 {
						gain += p.Weights[i]
					}
				}
				if gain-loss > 1e-9 {
					for _, i := range p.Serves[out] {
						count[i]--
					}
					for _, i := range p.Serves[in] {
						count[i]++
					}
					open[out], open[in] = false, true
					best[pos] = in
					m.Swaps++
					improved = true
					break
				}
			}
		}
		if !improved {
			break
		}
	}
	sort.Ints(best)
	return best, m
}

func coversUnit(p *Problem, j, i int) bool {
	cs := p.Covers[i]
	k := sort.SearchInts(cs, j)
	return k < len(cs) && cs[k] == j
}
