// Package distmatrix loads facility-to-demand distance matrices.
//
// A matrix is a table with a header row; every data row pairs one facility
// with one demand unit and carries the demand weight and the distance between
// them. Rows are kept as header-keyed records so column names can be bound at
// the point of use.
package distmatrix

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMatrix is returned when a matrix has a header but no data rows.
	ErrEmptyMatrix = errors.New("distmatrix: no data rows")
	// ErrNoHeader is returned when the input has no header row at all.
	ErrNoHeader = errors.New("distmatrix: missing header row")
)

// Record is one data row keyed by header name. A field is absent when the
// row is shorter than the header.
type Record map[string]string

// Get returns the value for field and whether the row carries it.
func (r Record) Get(field string) (string, bool) {
	v, ok := r[field]
	return v, ok
}

// Table is a loaded distance matrix.
type Table struct {
	Header  []string
	Records []Record
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Records)
}

// HasColumn reports whether name appears in the header.
func (t *Table) HasColumn(name string) bool {
	for _, h := range t.Header {
		if h == name {
			return true
		}
	}
	return false
}

func newTable(header []string) *Table {
	return &Table{Header: append([]string(nil), header...)}
}

// add maps a raw row onto the header. Extra trailing cells are dropped and
// missing trailing cells leave the field absent.
func (t *Table) add(row []string) {
	rec := make(Record, len(t.Header))
	for i, name := range t.Header {
		if i >= len(row) {
			break
		}
		rec[name] = row[i]
	}
	t.Records = append(t.Records, rec)
}

// MissingFieldError reports a required column that is not present on the
// checked record. Record is -1 when the header itself was checked.
type MissingFieldError struct {
	Field  string
	Record int
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("this field %s not found in the distance csv", e.Field)
}
