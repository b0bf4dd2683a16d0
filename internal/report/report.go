// Package report writes run outcomes as JSON documents and Excel workbooks.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"mclp/internal/coverage"
	"mclp/internal/pipeline"
)

const (
	SheetSummary  = "Summary"
	SheetSelected = "Selected"
	SheetDemand   = "Demand"
)

// Document is the JSON form of a run outcome.
type Document struct {
	Source    string          `json:"source"`
	Records   int             `json:"records"`
	Solver    string          `json:"solver"`
	Status    string          `json:"status"`
	Objective float64         `json:"objective"`
	ElapsedMS int64           `json:"elapsedMs"`
	Result    coverage.Result `json:"result"`
}

func document(out *pipeline.Outcome) Document {
	return Document{
		Source:    out.Source,
		Records:   out.Records,
		Solver:    out.Solution.Solver,
		Status:    string(out.Solution.Status),
		Objective: out.Solution.Objective,
		ElapsedMS: out.Elapsed.Milliseconds(),
		Result:    out.Result,
	}
}

// WriteJSON encodes the outcome summary.
func WriteJSON(w io.Writer, out *pipeline.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(document(out))
}

// SaveXLSX writes the outcome workbook to path.
func SaveXLSX(path string, out *pipeline.Outcome, variable string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteXLSX(f, out, variable); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteXLSX writes a workbook with a summary sheet, one row per selected
// facility and one row per demand unit.
func WriteXLSX(w io.Writer, out *pipeline.Outcome, variable string) error {
	if variable == "" {
		variable = coverage.DefaultVariable
	}
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(SheetSummary); err != nil {
		return err
	}
	if _, err := f.NewSheet(SheetSelected); err != nil {
		return err
	}
	if _, err := f.NewSheet(SheetDemand); err != nil {
		return err
	}

	res := out.Result
	if err := writeRows(f, SheetSummary, [][]interface{}{
		{"Metric", "Value"},
		{"Source", out.Source},
		{"Records", out.Records},
		{"Solver", out.Solution.Solver},
		{"Status", string(out.Solution.Status)},
		{"Facilities requested", res.NumberFacility},
		{"Facilities chosen", res.NumberFacilityChosen},
		{"Total demand", res.TotalDemand},
		{"Demand covered", res.TotalDemandCovered},
		{"Coverage (%)", res.PercentDemandCoverage},
		{"Elapsed (ms)", out.Elapsed.Milliseconds()},
	}); err != nil {
		return err
	}

	chosen := coverage.NewFacilitySet(res.FacilityIDsChosen...)
	var assign map[string][]string
	if out.Model != nil {
		assign = out.Model.Assignments(variable)
	}
	selected := [][]interface{}{{"Facility", "Demand units", "Demand reached"}}
	for _, id := range res.FacilityIDsChosen {
		var reached float64
		for _, d := range assign[id] {
			reached += out.Model.Demand[d].Demand
		}
		selected = append(selected, []interface{}{id, len(assign[id]), reached})
	}
	if err := writeRows(f, SheetSelected, selected); err != nil {
		return err
	}

	demand := [][]interface{}{{"Demand ID", "Demand", "Serviceable demand", "Covered", "Covered by"}}
	if out.Model != nil {
		for _, id := range out.Model.DemandIDs() {
			u := out.Model.Demand[id]
			var by []string
			for _, fid := range u.Covering(variable).Sorted() {
				if chosen.Has(fid) {
					by = append(by, fid)
				}
			}
			covered := "no"
			if len(by) > 0 {
				covered = "yes"
			}
			demand = append(demand, []interface{}{id, u.Demand, u.ServiceableDemand, covered, strings.Join(by, " ")})
		}
	}
	if err := writeRows(f, SheetDemand, demand); err != nil {
		return err
	}

	f.DeleteSheet("Sheet1")
	if idx, err := f.GetSheetIndex(SheetSummary); err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}
	return f.Write(w)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("report: sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return sw.Flush()
}
