package coverage

import (
	"errors"
	"fmt"
)

// ErrZeroDemand is returned when a model carries no demand to divide by.
var ErrZeroDemand = errors.New("coverage: total demand is zero")

// Result scores a facility selection against a model.
type Result struct {
	NumberFacility        int      `json:"number_facility"`
	NumberFacilityChosen  int      `json:"number_facility_chosen"`
	FacilityIDsChosen     []string `json:"set_facility_id_chosen"`
	TotalDemand           float64  `json:"total_demand"`
	TotalDemandCovered    float64  `json:"total_demand_covered"`
	PercentDemandCoverage float64  `json:"percent_demand_coverage"`
}

func (r Result) String() string {
	return fmt.Sprintf("%.2f%% of demand is covered", r.PercentDemandCoverage)
}

// Summarize adds up the weight of every demand unit covered by at least one
// chosen facility. A unit covered by several chosen facilities counts once.
// requested is the facility count asked of the solver and is reported as is.
func Summarize(m *Model, chosen []string, variable string, requested int) (Result, error) {
	if variable == "" {
		variable = DefaultVariable
	}
	set := NewFacilitySet(chosen...)
	res := Result{
		NumberFacility:       requested,
		NumberFacilityChosen: len(set),
		FacilityIDsChosen:    set.Sorted(),
	}
	if m == nil {
		return res, ErrZeroDemand
	}
	res.TotalDemand = m.TotalDemand
	for _, u := range m.Demand {
		if intersects(set, u.Covering(variable)) {
			res.TotalDemandCovered += u.Demand
		}
	}
	if m.TotalDemand == 0 {
		return res, ErrZeroDemand
	}
	res.PercentDemandCoverage = 100 * res.TotalDemandCovered / m.TotalDemand
	return res, nil
}

// intersects iterates the smaller set.
func intersects(a, b FacilitySet) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for id := range a {
		if b.Has(id) {
			return true
		}
	}
	return false
}
