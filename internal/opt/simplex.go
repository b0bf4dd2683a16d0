package opt

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/willauld/lpsimplex"
)

const (
	defaultMaxNodes = 10000
	lpMaxIter       = 4000
	lpTol           = 1.0e-12
	intTol          = 1e-6
)

// Simplex solves problems in process by branch and bound over LP
// relaxations. Relaxations are solved with lpsimplex. The search starts from
// the greedy selection, so it always returns a solution once the problem is
// non-empty; it reports StatusFeasible when the node budget or the deadline
// cut it short, or when a relaxation could not be solved.
//
// The deadline is checked between nodes only. A single relaxation cannot be
// interrupted and grows with facilities times demand units (seconds at a few
// hundred units), so TimeLimit may be overshot by one LP solve. MaxNodes
// defaults to 10000, which leaves large instances effectively unbounded
// without a TimeLimit.
type Simplex struct {
	MaxNodes  int
	TimeLimit time.Duration

	// lp replaces lpsimplex.LPSimplex in tests.
	lp lpFunc
}

type lpFunc func(c []float64, aub [][]float64, bub []float64, aeq [][]float64, beq []float64) lpsimplex.OptResult

func solveLP(c []float64, aub [][]float64, bub []float64, aeq [][]float64, beq []float64) lpsimplex.OptResult {
	return lpsimplex.LPSimplex(c, aub, bub, aeq, beq, nil, lpsimplex.Callbackfunc(nil), false, lpMaxIter, lpTol, false)
}

// lpInfeasible is the lpsimplex status of a relaxation without a feasible
// point; any other non-zero status means the solve itself failed.
const lpInfeasible = 2

func (s *Simplex) Name() string { return NameSimplex }

// fix pins a facility column to 0 or 1.
type fix struct {
	col int
	one bool
}

type bnb struct {
	p        *Problem
	k        int
	best     []int
	bestObj  float64
	metrics  Metrics
	maxNodes int
	cut      bool
	lp       lpFunc
}

func (s *Simplex) Solve(ctx context.Context, p *Problem) (Solution, error) {
	start := time.Now()
	if len(p.Facilities) == 0 || len(p.Demands) == 0 {
		return Solution{}, ErrEmptyProblem
	}
	ctx, cancel := withLimit(ctx, s.TimeLimit)
	defer cancel()

	seed, _ := greedySelect(p, p.Limit())
	b := &bnb{
		p:        p,
		k:        p.Limit(),
		best:     seed,
		bestObj:  p.Covered(seed),
		maxNodes: s.MaxNodes,
		lp:       s.lp,
	}
	if b.lp == nil {
		b.lp = solveLP
	}
	if b.maxNodes <= 0 {
		b.maxNodes = defaultMaxNodes
	}
	b.metrics.Incumbents = 1
	b.search(ctx, nil)

	status := StatusOptimal
	if b.cut {
		status = StatusFeasible
	}
	b.metrics.BestObjective = b.bestObj
	ids := make([]string, 0, len(b.best))
	for _, j := range b.best {
		ids = append(ids, p.Facilities[j])
	}
	sort.Strings(ids)
	return Solution{
		FacilityIDs: ids,
		Objective:   b.bestObj,
		Status:      status,
		Solver:      NameSimplex,
		Elapsed:     time.Since(start),
		Metrics:     b.metrics,
	}, nil
}

// search explores the node defined by fixes depth first.
func (b *bnb) search(ctx context.Context, fixes []fix) {
	if b.metrics.Nodes >= b.maxNodes || ctx.Err() != nil {
		b.cut = true
		return
	}
	b.metrics.Nodes++

	x, bound, status := b.relax(fixes)
	switch {
	case status == lpInfeasible:
		return
	case status != 0:
		// The subtree was not explored, so the incumbent is not proven.
		b.metrics.LPFailures++
		b.cut = true
		return
	}
	if len(fixes) == 0 {
		b.metrics.Bound = bound
	}
	if bound <= b.bestObj+intTol {
		return
	}

	// Round the relaxation to its k largest facility values.
	sel := topK(x[:len(b.p.Facilities)], b.k)
	if obj := b.p.Covered(sel); obj > b.bestObj+intTol {
		b.best, b.bestObj = sel, obj
		b.metrics.Incumbents++
	}

	col := mostFractional(x[:len(b.p.Facilities)])
	if col < 0 {
		// Integral facilities mean the relaxation value is attained.
		return
	}
	b.search(ctx, append(append([]fix(nil), fixes...), fix{col: col, one: true}))
	b.search(ctx, append(append([]fix(nil), fixes...), fix{col: col, one: false}))
}

// relax solves the LP relaxation under fixes. Columns are x_0..x_{n-1}
// followed by y_0..y_{m-1}; lpsimplex minimizes, so the objective is -w.y.
func (b *bnb) relax(fixes []fix) ([]float64, float64, int) {
	n, m := len(b.p.Facilities), len(b.p.Demands)
	cols := n + m

	c := make([]float64, cols)
	for i, w := range b.p.Weights {
		c[n+i] = -w
	}

	var aub [][]float64
	var bub []float64
	for i, cs := range b.p.Covers {
		row := make([]float64, cols)
		row[n+i] = 1
		for _, j := range cs {
			row[j] = -1
		}
		aub = append(aub, row)
		bub = append(bub, 0)
	}
	for v := 0; v < cols; v++ {
		row := make([]float64, cols)
		row[v] = 1
		aub = append(aub, row)
		bub = append(bub, 1)
	}
	for _, f := range fixes {
		row := make([]float64, cols)
		if f.one {
			row[f.col] = -1
			aub = append(aub, row)
			bub = append(bub, -1)
		} else {
			row[f.col] = 1
			aub = append(aub, row)
			bub = append(bub, 0)
		}
	}

	aeq := [][]float64{make([]float64, cols)}
	for j := 0; j < n; j++ {
		aeq[0][j] = 1
	}
	beq := []float64{float64(b.k)}

	b.metrics.LPSolves++
	res := b.lp(c, aub, bub, aeq, beq)
	if res.Status != 0 {
		return nil, 0, res.Status
	}
	if len(res.X) < cols {
		return nil, 0, -1
	}
	var bound float64
	for i, w := range b.p.Weights {
		bound += w * math.Min(1, math.Max(0, res.X[n+i]))
	}
	return res.X, bound, 0
}

// mostFractional returns the column closest to one half, or -1 when every
// value is integral.
func mostFractional(x []float64) int {
	col, best := -1, intTol
	for j, v := range x {
		frac := math.Min(v-math.Floor(v), math.Ceil(v)-v)
		if frac > best {
			col, best = j, frac
		}
	}
	return col
}

func topK(x []float64, k int) []int {
	idx := make([]int, len(x))
	for j := range idx {
		idx[j] = j
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] > x[idx[b]] })
	if k > len(idx) {
		k = len(idx)
	}
	sel := append([]int(nil), idx[:k]...)
	sort.Ints(sel)
	return sel
}
