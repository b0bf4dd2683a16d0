// Package opt builds the maximal covering location model and drives solvers
// for it.
//
// The model selects at most P facilities so that the weight of demand units
// within reach of a selected facility is maximal:
//
//	maximize   sum_i w_i y_i
//	subject to sum_{j in N_i} x_j - y_i >= 0   for every demand unit i
//	           sum_j x_j <= P
//	           x_j, y_i in {0, 1}
//
// N_i is the set of facilities covering unit i. The external GLPK solver is
// the default; Simplex and Greedy run in process.
package opt

import (
	"errors"
	"fmt"

	"mclp/internal/coverage"
)

var (
	ErrBadFacilityCount = errors.New("opt: facility count must be at least 1")
	ErrEmptyProblem     = errors.New("opt: problem has no facilities or no demand")
	ErrInfeasible       = errors.New("opt: problem is infeasible")
	ErrNoSolution       = errors.New("opt: solver found no integer solution")
)

// Options controls how a coverage model becomes a Problem.
type Options struct {
	// Variable is the facility variable of the coverage model.
	Variable string
	// Facilities is the number of facilities to locate.
	Facilities int
	// UseServiceableDemand weights units by their serviceable demand instead
	// of their demand. Both agree on every unit a facility can reach.
	UseServiceableDemand bool
}

// Problem is an MCLP instance with facilities and demand units indexed in
// ascending id order.
type Problem struct {
	Variable   string
	Facilities []string
	Demands    []string
	Weights    []float64
	// Covers lists, per demand unit, the facilities within reach.
	Covers [][]int
	// Serves lists, per facility, the demand units it reaches.
	Serves [][]int
	P      int
}

// NewProblem indexes a coverage model.
func NewProblem(m *coverage.Model, opts Options) (*Problem, error) {
	if opts.Facilities < 1 {
		return nil, ErrBadFacilityCount
	}
	if m == nil {
		return nil, ErrEmptyProblem
	}
	variable := opts.Variable
	if variable == "" {
		variable = coverage.DefaultVariable
	}
	p := &Problem{
		Variable:   variable,
		Facilities: coverage.NewFacilitySet(m.Facilities[variable]...).Sorted(),
		Demands:    m.DemandIDs(),
		P:          opts.Facilities,
	}
	if len(p.Facilities) == 0 || len(p.Demands) == 0 {
		return nil, ErrEmptyProblem
	}
	col := make(map[string]int, len(p.Facilities))
	for j, id := range p.Facilities {
		col[id] = j
	}
	p.Weights = make([]float64, len(p.Demands))
	p.Covers = make([][]int, len(p.Demands))
	p.Serves = make([][]int, len(p.Facilities))
	for i, id := range p.Demands {
		u := m.Demand[id]
		if u == nil {
			return nil, fmt.Errorf("opt: demand %q has no unit", id)
		}
		p.Weights[i] = u.Demand
		if opts.UseServiceableDemand {
			p.Weights[i] = u.ServiceableDemand
		}
		for _, f := range u.Covering(variable).Sorted() {
			j, ok := col[f]
			if !ok {
				return nil, fmt.Errorf("opt: demand %q covered by unknown facility %q", id, f)
			}
			p.Covers[i] = append(p.Covers[i], j)
			p.Serves[j] = append(p.Serves[j], i)
		}
	}
	return p, nil
}

// Limit is the number of facilities a solution can actually open.
func (p *Problem) Limit() int {
	if p.P > len(p.Facilities) {
		return len(p.Facilities)
	}
	return p.P
}

// Covered returns the demand weight reached by the selected facilities.
func (p *Problem) Covered(selected []int) float64 {
	open := make([]bool, len(p.Facilities))
	for _, j := range selected {
		open[j] = true
	}
	var total float64
	for i, cs := range p.Covers {
		for _, j := range cs {
			if open[j] {
				total += p.Weights[i]
				break
			}
		}
	}
	return total
}

// Reachable is the weight of every unit some facility covers, an upper
// bound on any objective.
func (p *Problem) Reachable() float64 {
	var total float64
	for i, cs := range p.Covers {
		if len(cs) > 0 {
			total += p.Weights[i]
		}
	}
	return total
}

// SelectedIDs returns the ids of facility columns whose value exceeds one
// half, the usual reading of a binary variable from a solver.
func (p *Problem) SelectedIDs(values []float64) []string {
	var ids []string
	for j, v := range values {
		if j < len(p.Facilities) && v > 0.5 {
			ids = append(ids, p.Facilities[j])
		}
	}
	return ids
}

func (p *Problem) indices(values []float64) []int {
	var sel []int
	for j, v := range values {
		if j < len(p.Facilities) && v > 0.5 {
			sel = append(sel, j)
		}
	}
	return sel
}
