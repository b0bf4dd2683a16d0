// Package pipeline runs a maximal covering location study end to end: load
// the distance matrix, check its fields, build binary coverage, solve the
// location model and score the selection.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"mclp/internal/config"
	"mclp/internal/coverage"
	"mclp/internal/distmatrix"
	"mclp/internal/opt"
)

var ErrNoSource = errors.New("pipeline: no distance matrix source")

// Config is what one run needs to know.
type Config struct {
	ServiceDistance      float64
	NumFacility          int
	FacilityVariable     string
	Fields               coverage.Fields
	Required             []string
	Validation           distmatrix.Policy
	UseServiceableDemand bool
	// RunID keys recorded solver metrics. Empty skips recording.
	RunID string
}

// Deps are the collaborators of a run. Logger may be nil.
type Deps struct {
	Logger *log.Logger
	Source distmatrix.Source
	Solver opt.Solver
}

func (d Deps) logger() *log.Logger {
	if d.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return d.Logger
}

// Outcome is everything a run produced.
type Outcome struct {
	Source   string          `json:"source"`
	Records  int             `json:"records"`
	Model    *coverage.Model `json:"-"`
	Problem  *opt.Problem    `json:"-"`
	Solution opt.Solution    `json:"solution"`
	Result   coverage.Result `json:"result"`
	Elapsed  time.Duration   `json:"elapsed"`
}

// FromConfig extracts the run settings from a loaded configuration.
func FromConfig(c config.Config) (Config, error) {
	policy, err := distmatrix.ParsePolicy(c.Validation)
	if err != nil {
		return Config{}, err
	}
	return Config{
		ServiceDistance:      c.ServiceDistance,
		NumFacility:          c.NumFacility,
		FacilityVariable:     c.FacilityVariable,
		Fields:               c.Fields.WithDefaults(),
		Required:             c.Required(),
		Validation:           policy,
		UseServiceableDemand: c.UseServiceableDemand,
	}, nil
}

// SourceFromConfig returns the file source named by a configuration.
func SourceFromConfig(c config.Config) distmatrix.Source {
	return distmatrix.FileSource{
		Workspace: c.Workspace,
		File:      c.Matrix,
		Options:   distmatrix.Options{Comma: c.Comma(), Sheet: c.Sheet},
	}
}

func (c Config) required() []string {
	if len(c.Required) > 0 {
		return c.Required
	}
	return c.Fields.WithDefaults().Required()
}

// Load reads the matrix and checks the required fields under the configured
// policy. A missing field is returned as a *distmatrix.MissingFieldError.
func Load(ctx context.Context, cfg Config, deps Deps) (*distmatrix.Table, error) {
	if deps.Source == nil {
		return nil, ErrNoSource
	}
	lg := deps.logger()
	tbl, err := deps.Source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading distance matrix %s: %w", deps.Source.Name(), err)
	}
	if err := distmatrix.CheckFields(tbl, cfg.required(), cfg.Validation); err != nil {
		return nil, err
	}
	if rec, _, err := tbl.SampleRecord(); err == nil {
		lg.Printf("%s", formatRecord(tbl.Header, rec))
	}
	return tbl, nil
}

// BuildCoverage loads the matrix and derives its binary coverage.
func BuildCoverage(ctx context.Context, cfg Config, deps Deps) (*coverage.Model, *distmatrix.Table, error) {
	tbl, err := Load(ctx, cfg, deps)
	if err != nil {
		return nil, nil, err
	}
	m, err := coverage.BuildBinary(tbl.Records, cfg.ServiceDistance, cfg.Fields, cfg.FacilityVariable, deps.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building coverage: %w", err)
	}
	return m, tbl, nil
}

// NewProblem turns a coverage model into the location problem for cfg.
func NewProblem(m *coverage.Model, cfg Config) (*opt.Problem, error) {
	return opt.NewProblem(m, opt.Options{
		Variable:             cfg.FacilityVariable,
		Facilities:           cfg.NumFacility,
		UseServiceableDemand: cfg.UseServiceableDemand,
	})
}

// Run executes every stage and returns the scored selection.
func Run(ctx context.Context, cfg Config, deps Deps) (*Outcome, error) {
	start := time.Now()
	if deps.Solver == nil {
		return nil, errors.New("pipeline: no solver")
	}
	lg := deps.logger()
	m, tbl, err := BuildCoverage(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	lg.Print("Creating MCLP model...")
	prob, err := NewProblem(m, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating model: %w", err)
	}

	lg.Printf("Solving MCLP with %s...", deps.Solver.Name())
	sol, err := deps.Solver.Solve(ctx, prob)
	if err != nil {
		return nil, fmt.Errorf("solving: %w", err)
	}
	if cfg.RunID != "" {
		opt.RecordMetrics(cfg.RunID, sol.Solver, sol.Metrics)
	}

	lg.Print("Extracting results")
	lg.Printf("Set of facility ids: {%s}", strings.Join(sol.FacilityIDs, ", "))
	lg.Printf("Number of facilities selected: %d", len(sol.FacilityIDs))
	res, err := coverage.Summarize(m, sol.FacilityIDs, cfg.FacilityVariable, cfg.NumFacility)
	if err != nil {
		return nil, fmt.Errorf("summarizing: %w", err)
	}
	lg.Print(res.String())

	return &Outcome{
		Source:   deps.Source.Name(),
		Records:  tbl.Len(),
		Model:    m,
		Problem:  prob,
		Solution: sol,
		Result:   res,
		Elapsed:  time.Since(start),
	}, nil
}

func formatRecord(header []string, rec distmatrix.Record) string {
	parts := make([]string, 0, len(header))
	for _, h := range header {
		if v, ok := rec[h]; ok {
			parts = append(parts, h+": "+v)
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// IsMissingField reports whether err carries a *distmatrix.MissingFieldError.
func IsMissingField(err error) (*distmatrix.MissingFieldError, bool) {
	var mf *distmatrix.MissingFieldError
	if errors.As(err, &mf) {
		return mf, true
	}
	return nil, false
}
