package coverage

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	"mclp/internal/distmatrix"
)

// MissingFieldError is returned when a bound field is absent from the
// checked record.
type MissingFieldError = distmatrix.MissingFieldError

// ParseError reports a record whose field is missing or not numeric after the
// first record passed the field check.
type ParseError struct {
	Record int
	Field  string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("coverage: record %d: field %s missing", e.Record, e.Field)
	}
	return fmt.Sprintf("coverage: record %d: field %s=%q: %v", e.Record, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Fields binds the matrix column names the builder reads.
type Fields struct {
	FacilityID string `yaml:"facility_id" json:"facilityId"`
	DemandID   string `yaml:"demand_id" json:"demandId"`
	Demand     string `yaml:"demand" json:"demand"`
	Distance   string `yaml:"distance" json:"distance"`
}

// DefaultFields returns the conventional column names.
func DefaultFields() Fields {
	return Fields{
		FacilityID: "facility_id",
		DemandID:   "demand_id",
		Demand:     "demand",
		Distance:   "distance",
	}
}

// WithDefaults fills empty bindings from DefaultFields.
func (f Fields) WithDefaults() Fields {
	d := DefaultFields()
	if f.FacilityID == "" {
		f.FacilityID = d.FacilityID
	}
	if f.DemandID == "" {
		f.DemandID = d.DemandID
	}
	if f.Demand == "" {
		f.Demand = d.Demand
	}
	if f.Distance == "" {
		f.Distance = d.Distance
	}
	return f
}

// Required lists the bound column names in check order.
func (f Fields) Required() []string {
	return []string{f.FacilityID, f.DemandID, f.Demand, f.Distance}
}

type row struct {
	facility string
	demand   string
	weight   float64
	distance float64
}

// BuildBinary derives a binary coverage model from matrix records. A facility
// covers a demand unit when some record pairs them at a distance no greater
// than threshold. The weight of a demand unit is taken from the first record
// naming it; later records for the same unit do not change it.
//
// Only the first record is checked for the bound fields, yielding a
// *MissingFieldError. Problems on later records surface as *ParseError.
func BuildBinary(records []distmatrix.Record, threshold float64, fields Fields, variable string, logger *log.Logger) (*Model, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if variable == "" {
		variable = DefaultVariable
	}
	fields = fields.WithDefaults()
	if len(records) > 0 {
		for _, f := range fields.Required() {
			if _, ok := records[0][f]; !ok {
				return nil, &MissingFieldError{Field: f, Record: 0}
			}
		}
	}
	rows, err := parseRows(records, fields)
	if err != nil {
		return nil, err
	}

	logger.Print("Initializing facilities in output...")
	m := newModel(variable)
	seen := map[string]struct{}{}
	for _, r := range rows {
		if _, ok := seen[r.facility]; !ok {
			seen[r.facility] = struct{}{}
			m.Facilities[variable] = append(m.Facilities[variable], r.facility)
		}
		if _, ok := m.Demand[r.demand]; !ok {
			m.Demand[r.demand] = &DemandUnit{
				Demand:   r.weight,
				Coverage: map[string]FacilitySet{variable: {}},
			}
		}
	}
	sort.Strings(m.Facilities[variable])

	logger.Print("Determining binary coverage for each demand unit...")
	for _, r := range rows {
		if r.distance <= threshold {
			u := m.Demand[r.demand]
			u.ServiceableDemand = u.Demand
			u.Coverage[variable].Add(r.facility)
		}
	}

	for _, u := range m.Demand {
		m.TotalDemand += u.Demand
		m.TotalServiceableDemand += u.ServiceableDemand
	}
	logger.Print("Binary coverage successfully generated.")
	return m, nil
}

func parseRows(records []distmatrix.Record, fields Fields) ([]row, error) {
	rows := make([]row, 0, len(records))
	for i, rec := range records {
		var r row
		var ok bool
		if r.facility, ok = rec[fields.FacilityID]; !ok {
			return nil, &ParseError{Record: i, Field: fields.FacilityID}
		}
		if r.demand, ok = rec[fields.DemandID]; !ok {
			return nil, &ParseError{Record: i, Field: fields.DemandID}
		}
		var err error
		if r.weight, err = parseFloat(rec, i, fields.Demand); err != nil {
			return nil, err
		}
		if r.distance, err = parseFloat(rec, i, fields.Distance); err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func parseFloat(rec distmatrix.Record, i int, field string) (float64, error) {
	v, ok := rec[field]
	if !ok {
		return 0, &ParseError{Record: i, Field: field}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, &ParseError{Record: i, Field: field, Value: v, Err: err}
	}
	return f, nil
}
