package distmatrix

import "fmt"

// Policy selects what CheckFields inspects.
type Policy string

const (
	// PolicySample inspects a single data row, the second one when there is
	// more than one row. This is the historical behaviour of the batch tool.
	PolicySample Policy = "sample"
	// PolicyHeader inspects the header row.
	PolicyHeader Policy = "header"
	// PolicyAll inspects every data row.
	PolicyAll Policy = "all"
)

// SampleIndex is the data row PolicySample inspects.
const SampleIndex = 1

// ParsePolicy maps a config value to a Policy. Empty means PolicySample.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "":
		return PolicySample, nil
	case PolicySample, PolicyHeader, PolicyAll:
		return Policy(s), nil
	}
	return "", fmt.Errorf("distmatrix: unknown validation policy %q (allowed: sample, header, all)", s)
}

// SampleRecord returns the row PolicySample inspects and its index. Tables
// with a single row fall back to that row.
func (t *Table) SampleRecord() (Record, int, error) {
	if t.Len() == 0 {
		return nil, 0, ErrEmptyMatrix
	}
	idx := SampleIndex
	if idx >= len(t.Records) {
		idx = 0
	}
	return t.Records[idx], idx, nil
}

// CheckFields verifies that the required fields are present. Fields are
// checked in the given order and the first missing one is reported as a
// *MissingFieldError.
func CheckFields(t *Table, fields []string, policy Policy) error {
	if t.Len() == 0 {
		return ErrEmptyMatrix
	}
	switch policy {
	case PolicyHeader:
		for _, f := range fields {
			if !t.HasColumn(f) {
				return &MissingFieldError{Field: f, Record: -1}
			}
		}
		return nil
	case PolicyAll:
		for i, rec := range t.Records {
			if err := checkRecord(rec, i, fields); err != nil {
				return err
			}
		}
		return nil
	default:
		rec, idx, err := t.SampleRecord()
		if err != nil {
			return err
		}
		return checkRecord(rec, idx, fields)
	}
}

func checkRecord(rec Record, idx int, fields []string) error {
	for _, f := range fields {
		if _, ok := rec[f]; !ok {
			return &MissingFieldError{Field: f, Record: idx}
		}
	}
	return nil
}
