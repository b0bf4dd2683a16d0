package distmatrix_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"mclp/internal/distmatrix"
)

var required = []string{"facility_id", "demand_id", "demand", "distance"}

const sample = `facility_id, demand_id, demand, distance
F1, D1, 10, 4000
F2, D1, 10, 6000
F1, D2, 5, 4000
`

func TestReadCSV_SkipsInitialSpace(t *testing.T) {
	tbl, err := distmatrix.ReadCSV(strings.NewReader(sample), 0)
	require.NoError(t, err)
	assert.Equal(t, required, tbl.Header)
	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, distmatrix.Record{"facility_id": "F2", "demand_id": "D1", "demand": "10", "distance": "6000"}, tbl.Records[1])
}

func TestReadCSV_RaggedRows(t *testing.T) {
	in := "facility_id,demand_id,demand,distance\nF1,D1,10\nF2,D1,10,6000,extra\n"
	tbl, err := distmatrix.ReadCSV(strings.NewReader(in), 0)
	require.NoError(t, err)
	_, ok := tbl.Records[0].Get("distance")
	assert.False(t, ok, "short row must leave the field absent")
	v, ok := tbl.Records[1].Get("distance")
	assert.True(t, ok)
	assert.Equal(t, "6000", v)
}

func TestReadCSV_Semicolon(t *testing.T) {
	in := "facility_id;demand_id;demand;distance\nF1;D1;10;4000\n"
	tbl, err := distmatrix.ReadCSV(strings.NewReader(in), ';')
	require.NoError(t, err)
	assert.Equal(t, "4000", tbl.Records[0]["distance"])
}

func TestReadCSV_StripsBOM(t *testing.T) {
	in := "\ufefffacility_id,demand_id,demand,distance\nF1,D1,10,4000\n"
	tbl, err := distmatrix.ReadCSV(strings.NewReader(in), 0)
	require.NoError(t, err)
	assert.True(t, tbl.HasColumn("facility_id"))
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := distmatrix.ReadCSV(strings.NewReader(""), 0)
	assert.ErrorIs(t, err, distmatrix.ErrNoHeader)
}

func TestCheckFields_SamplePolicyUsesSecondRow(t *testing.T) {
	// The first row is broken but only the second row is sampled.
	in := "facility_id,demand_id,demand,distance\nF1,D1\nF2,D1,10,6000\n"
	tbl, err := distmatrix.ReadCSV(strings.NewReader(in), 0)
	require.NoError(t, err)
	assert.NoError(t, distmatrix.CheckFields(tbl, required, distmatrix.PolicySample))

	err = distmatrix.CheckFields(tbl, required, distmatrix.PolicyAll)
	var mf *distmatrix.MissingFieldError
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, "demand", mf.Field)
	assert.Equal(t, 0, mf.Record)
}

func TestCheckFields_MissingColumn(t *testing.T) {
	in := "facility_id,demand_id,weight,distance\nF1,D1,10,4000\nF2,D1,10,6000\n"
	tbl, err := distmatrix.ReadCSV(strings.NewReader(in), 0)
	require.NoError(t, err)

	for _, p := range []distmatrix.Policy{distmatrix.PolicySample, distmatrix.PolicyHeader, distmatrix.PolicyAll} {
		err := distmatrix.CheckFields(tbl, required, p)
		var mf *distmatrix.MissingFieldError
		require.Truef(t, errors.As(err, &mf), "policy %s", p)
		assert.Equal(t, "demand", mf.Field)
		assert.Equal(t, "this field demand not found in the distance csv", mf.Error())
	}
}

func TestCheckFields_SingleRowFallsBackToFirst(t *testing.T) {
	in := "facility_id,demand_id,demand,distance\nF1,D1,10,4000\n"
	tbl, err := distmatrix.ReadCSV(strings.NewReader(in), 0)
	require.NoError(t, err)
	_, idx, err := tbl.SampleRecord()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.NoError(t, distmatrix.CheckFields(tbl, required, distmatrix.PolicySample))
}

func TestCheckFields_NoRows(t *testing.T) {
	tbl, err := distmatrix.ReadCSV(strings.NewReader("facility_id,demand_id,demand,distance\n"), 0)
	require.NoError(t, err)
	assert.ErrorIs(t, distmatrix.CheckFields(tbl, required, distmatrix.PolicySample), distmatrix.ErrEmptyMatrix)
}

func TestParsePolicy(t *testing.T) {
	p, err := distmatrix.ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, distmatrix.PolicySample, p)
	p, err = distmatrix.ParsePolicy("header")
	require.NoError(t, err)
	assert.Equal(t, distmatrix.PolicyHeader, p)
	_, err = distmatrix.ParsePolicy("rows")
	assert.Error(t, err)
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]interface{}{
		{"facility_id", "demand_id", "demand", "distance"},
		{"F1", "D1", 10, 4000},
		{nil, nil, nil, nil},
		{"F1", "D2", 5, 4000.5},
	}
	for i, r := range rows {
		if r[0] == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	tbl, err := distmatrix.ReadXLSX(&buf, "")
	require.NoError(t, err)
	assert.Equal(t, required, tbl.Header)
	require.Equal(t, 2, tbl.Len(), "blank rows are skipped")
	assert.Equal(t, "D2", tbl.Records[1]["demand_id"])
	assert.Equal(t, "4000.5", tbl.Records[1]["distance"])
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "matrix.csv"), []byte(sample), 0o644))

	src := distmatrix.FileSource{Workspace: dir, File: "matrix.csv"}
	assert.Equal(t, filepath.Join(dir, "matrix.csv"), src.Name())
	tbl, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromRecords(t *testing.T) {
	tbl := distmatrix.FromRecords(nil, []distmatrix.Record{
		{"facility_id": "F1", "demand_id": "D1"},
		{"distance": "1", "demand": "2", "facility_id": "F2", "demand_id": "D1"},
	})
	assert.Equal(t, []string{"demand_id", "facility_id", "demand", "distance"}, tbl.Header)
	assert.Equal(t, 2, tbl.Len())
}
