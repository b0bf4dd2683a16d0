package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mclp/internal/config"
	"mclp/internal/coverage"
	"mclp/internal/distmatrix"
	"mclp/internal/opt"
)

const matrix = `facility_id, demand_id, demand, distance
F1, D1, 10, 4000
F2, D1, 10, 6000
F1, D2, 5, 4000
`

func source(body string) distmatrix.Source {
	return distmatrix.ReaderSource{Label: "test.csv", Format: distmatrix.FormatCSV, Reader: strings.NewReader(body)}
}

func baseConfig() Config {
	return Config{
		ServiceDistance: 5000,
		NumFacility:     1,
		Fields:          coverage.DefaultFields(),
		Validation:      distmatrix.PolicySample,
	}
}

func TestRun(t *testing.T) {
	var logs bytes.Buffer
	cfg := baseConfig()
	cfg.RunID = "pipeline-test"
	out, err := Run(context.Background(), cfg, Deps{
		Logger: log.New(&logs, "", 0),
		Source: source(matrix),
		Solver: &opt.Greedy{},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"F1"}, out.Result.FacilityIDsChosen)
	assert.Equal(t, 100.0, out.Result.PercentDemandCoverage)
	assert.Equal(t, 1, out.Result.NumberFacility)
	assert.Equal(t, 3, out.Records)
	assert.Equal(t, "test.csv", out.Source)

	text := logs.String()
	for _, want := range []string{
		"{facility_id: F2, demand_id: D1, demand: 10, distance: 6000}",
		"Binary coverage successfully generated.",
		"Creating MCLP model...",
		"Set of facility ids: {F1}",
		"Number of facilities selected: 1",
		"100.00% of demand is covered",
	} {
		assert.Contains(t, text, want)
	}
	assert.Contains(t, opt.GetMetrics("pipeline-test"), opt.NameGreedy)
}

func TestRun_MissingFieldStopsBeforeBuild(t *testing.T) {
	var logs bytes.Buffer
	body := "facility_id,demand_id,weight,distance\nF1,D1,10,4000\nF2,D1,10,6000\n"
	_, err := Run(context.Background(), baseConfig(), Deps{
		Logger: log.New(&logs, "", 0),
		Source: source(body),
		Solver: &opt.Greedy{},
	})
	mf, ok := IsMissingField(err)
	require.True(t, ok, "err = %v", err)
	assert.Equal(t, "demand", mf.Field)
	assert.Equal(t, 1, mf.Record)
	assert.NotContains(t, logs.String(), "Initializing facilities")
}

func TestRun_SamplePolicyOnlyChecksSecondRow(t *testing.T) {
	// Row one lacks a distance; the sample check passes and the builder
	// catches it on its own first-record check.
	body := "facility_id,demand_id,demand,distance\nF1,D1,10\nF2,D1,10,6000\n"
	_, err := Run(context.Background(), baseConfig(), Deps{Source: source(body), Solver: &opt.Greedy{}})
	var mf *coverage.MissingFieldError
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, 0, mf.Record)

	cfg := baseConfig()
	cfg.Validation = distmatrix.PolicyHeader
	_, err = Run(context.Background(), cfg, Deps{Source: source(body), Solver: &opt.Greedy{}})
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, 0, mf.Record)
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(context.Background(), baseConfig(), Deps{Source: source(matrix)})
	assert.Error(t, err)

	_, err = Run(context.Background(), baseConfig(), Deps{Solver: &opt.Greedy{}})
	assert.ErrorIs(t, err, ErrNoSource)

	_, err = Run(context.Background(), baseConfig(), Deps{
		Source: source("facility_id,demand_id,demand,distance\n"),
		Solver: &opt.Greedy{},
	})
	assert.ErrorIs(t, err, distmatrix.ErrEmptyMatrix)

	cfg := baseConfig()
	cfg.NumFacility = 0
	_, err = Run(context.Background(), cfg, Deps{Source: source(matrix), Solver: &opt.Greedy{}})
	assert.ErrorIs(t, err, opt.ErrBadFacilityCount)

	_, err = Run(context.Background(), baseConfig(), Deps{
		Source: source("facility_id,demand_id,demand,distance\nF1,D1,0,1\nF1,D2,0,1\n"),
		Solver: &opt.Greedy{},
	})
	assert.ErrorIs(t, err, coverage.ErrZeroDemand)
}

func TestFromConfigAndFileSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sf.csv"), []byte(matrix), 0o644))

	c := config.Default()
	c.Workspace = dir
	c.Matrix = "sf.csv"
	c.ServiceDistance = 6000
	c.NumFacility = 1
	cfg, err := FromConfig(c)
	require.NoError(t, err)
	assert.Equal(t, distmatrix.PolicySample, cfg.Validation)

	m, _, err := BuildCoverage(context.Background(), cfg, Deps{Source: SourceFromConfig(c)})
	require.NoError(t, err)
	assert.True(t, m.Demand["D1"].Covering("facility").Has("F2"))

	res, err := coverage.Summarize(m, []string{"F2"}, "", 1)
	require.NoError(t, err)
	assert.Equal(t, "66.67% of demand is covered", res.String())

	c.Validation = "bogus"
	_, err = FromConfig(c)
	assert.Error(t, err)
}
