// Package coverage derives binary coverage from a distance matrix and scores
// facility selections against it.
//
// A Model is the coverage object exchanged with solvers: every demand unit
// carries its weight, the weight it would contribute when covered, and the
// set of facilities within the service distance. Its JSON form is the
// interchange format other modeling tools read and write.
package coverage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

const (
	// Version is the coverage object format version.
	Version = "1"
	// DefaultVariable is the facility variable name used when none is given.
	DefaultVariable = "facility"
)

// ModelType identifies the kind of coverage object.
type ModelType struct {
	Mode string `json:"mode"`
	Type string `json:"type"`
}

// BinaryType is the type of every model BuildBinary produces.
var BinaryType = ModelType{Mode: "coverage", Type: "binary"}

// FacilitySet is a set of facility ids.
type FacilitySet map[string]struct{}

// NewFacilitySet returns a set holding ids.
func NewFacilitySet(ids ...string) FacilitySet {
	s := make(FacilitySet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s FacilitySet) Add(id string) { s[id] = struct{}{} }

func (s FacilitySet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s FacilitySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON writes the set as {"id": 1, ...}.
func (s FacilitySet) MarshalJSON() ([]byte, error) {
	m := make(map[string]int, len(s))
	for id := range s {
		m[id] = 1
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts {"id": n} objects (keys with a zero value are not
// members) and plain id arrays.
func (s *FacilitySet) UnmarshalJSON(b []byte) error {
	var ids []string
	if err := json.Unmarshal(b, &ids); err == nil {
		*s = NewFacilitySet(ids...)
		return nil
	}
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("coverage: facility set: %w", err)
	}
	set := make(FacilitySet, len(m))
	for id, v := range m {
		if v != 0 {
			set[id] = struct{}{}
		}
	}
	*s = set
	return nil
}

// DemandUnit is one demand id of the model.
type DemandUnit struct {
	Area              float64                `json:"area"`
	Demand            float64                `json:"demand"`
	ServiceableDemand float64                `json:"serviceableDemand"`
	Coverage          map[string]FacilitySet `json:"coverage"`
}

// Covering returns the facilities covering the unit for a variable, or nil.
func (u *DemandUnit) Covering(variable string) FacilitySet {
	if u == nil || u.Coverage == nil {
		return nil
	}
	return u.Coverage[variable]
}

// Model is a binary coverage object.
type Model struct {
	Version                string                 `json:"version"`
	Type                   ModelType              `json:"type"`
	Demand                 map[string]*DemandUnit `json:"demand"`
	TotalDemand            float64                `json:"totalDemand"`
	TotalServiceableDemand float64                `json:"totalServiceableDemand"`
	Facilities             map[string][]string    `json:"facilities"`
}

func newModel(variable string) *Model {
	return &Model{
		Version:    Version,
		Type:       BinaryType,
		Demand:     map[string]*DemandUnit{},
		Facilities: map[string][]string{variable: {}},
	}
}

// DemandIDs returns the demand ids in ascending order.
func (m *Model) DemandIDs() []string {
	ids := make([]string, 0, len(m.Demand))
	for id := range m.Demand {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Assignments maps each facility id to the demand ids it covers, for the
// given variable. Facilities covering nothing map to an empty slice.
func (m *Model) Assignments(variable string) map[string][]string {
	out := make(map[string][]string, len(m.Facilities[variable]))
	for _, f := range m.Facilities[variable] {
		out[f] = []string{}
	}
	for _, id := range m.DemandIDs() {
		for f := range m.Demand[id].Covering(variable) {
			out[f] = append(out[f], id)
		}
	}
	return out
}

// Check verifies the structural invariants of a model: totals agree with the
// units, serviceable demand is either zero or the full weight, and every
// covering facility is a known facility.
func (m *Model) Check(variable string) error {
	known := NewFacilitySet(m.Facilities[variable]...)
	var total, serviceable float64
	for id, u := range m.Demand {
		if u == nil {
			return fmt.Errorf("coverage: demand %q has no unit", id)
		}
		total += u.Demand
		serviceable += u.ServiceableDemand
		if u.ServiceableDemand != 0 && u.ServiceableDemand != u.Demand {
			return fmt.Errorf("coverage: demand %q serviceable %g is neither 0 nor %g", id, u.ServiceableDemand, u.Demand)
		}
		covering := u.Covering(variable)
		if u.Demand != 0 && (len(covering) > 0) != (u.ServiceableDemand == u.Demand) {
			return fmt.Errorf("coverage: demand %q coverage disagrees with serviceable demand", id)
		}
		for f := range covering {
			if !known.Has(f) {
				return fmt.Errorf("coverage: demand %q covered by unknown facility %q", id, f)
			}
		}
	}
	if !closeTo(total, m.TotalDemand) || !closeTo(serviceable, m.TotalServiceableDemand) {
		return errors.New("coverage: totals do not match demand units")
	}
	if m.TotalServiceableDemand > m.TotalDemand && !closeTo(m.TotalServiceableDemand, m.TotalDemand) {
		return errors.New("coverage: serviceable demand exceeds total demand")
	}
	return nil
}

func closeTo(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= 1e-9*(1+abs(a)+abs(b))
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// WriteJSON encodes the model in its interchange form.
func (m *Model) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// ReadModel decodes a coverage object. Unit coverage maps are created when
// absent so lookups on a decoded model never hit a nil map.
func ReadModel(r io.Reader) (*Model, error) {
	var m Model
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("coverage: decoding model: %w", err)
	}
	if m.Type != BinaryType {
		return nil, fmt.Errorf("coverage: unsupported model type %s/%s", m.Type.Mode, m.Type.Type)
	}
	if m.Demand == nil {
		m.Demand = map[string]*DemandUnit{}
	}
	if m.Facilities == nil {
		m.Facilities = map[string][]string{}
	}
	for _, u := range m.Demand {
		if u != nil && u.Coverage == nil {
			u.Coverage = map[string]FacilitySet{}
		}
	}
	return &m, nil
}
