package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"mclp/internal/config"
	"mclp/internal/opt"
	"mclp/internal/pipeline"
	"mclp/internal/report"
)

// runFlags are the command line overrides shared by the subcommands.
type runFlags struct {
	matrix     string
	workspace  string
	distance   float64
	facilities int
	variable   string
	validate   string
	delimiter  string
	sheet      string

	solver    string
	glpsol    string
	timeLimit time.Duration
	strict    bool
	xlsx      string
	json      string
}

func (f *runFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.matrix, "matrix", "m", "", "distance matrix file (.csv or .xlsx)")
	fl.StringVarP(&f.workspace, "workspace", "w", "", "folder holding the matrix file")
	fl.Float64VarP(&f.distance, "distance", "d", 0, "maximum service distance")
	fl.IntVarP(&f.facilities, "facilities", "p", 0, "number of facilities to locate")
	fl.StringVar(&f.variable, "variable", "", "facility variable name in the coverage object")
	fl.StringVar(&f.validate, "validate", "", "required field check: sample, header or all")
	fl.StringVar(&f.delimiter, "delimiter", "", "CSV delimiter (default ,)")
	fl.StringVar(&f.sheet, "sheet", "", "XLSX sheet (default first sheet)")
}

// loadConfig resolves defaults, the optional config file, the environment
// and then flags that were set explicitly.
func loadConfig(cmd *cobra.Command, args []string, f *runFlags) (config.Config, error) {
	cfg := config.Default()
	if len(args) == 1 {
		var err error
		if cfg, err = config.Load(args[0]); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	fl := cmd.Flags()
	set := func(name string, apply func()) {
		if fl.Changed(name) {
			apply()
		}
	}
	set("matrix", func() { cfg.Matrix = f.matrix })
	set("workspace", func() { cfg.Workspace = f.workspace })
	set("distance", func() { cfg.ServiceDistance = f.distance })
	set("facilities", func() { cfg.NumFacility = f.facilities })
	set("variable", func() { cfg.FacilityVariable = f.variable })
	set("validate", func() { cfg.Validation = f.validate })
	set("delimiter", func() { cfg.Delimiter = f.delimiter })
	set("sheet", func() { cfg.Sheet = f.sheet })
	set("solver", func() { cfg.Solver.Name = f.solver })
	set("glpsol", func() { cfg.Solver.Path = f.glpsol })
	set("time-limit", func() { cfg.Solver.TimeLimit = f.timeLimit })
	set("strict", func() { cfg.StrictExit = f.strict })
	set("xlsx", func() { cfg.Output.XLSX = f.xlsx })
	set("json", func() { cfg.Output.JSON = f.json })

	if cfg.Matrix == "" {
		return cfg, fmt.Errorf("no distance matrix given (set matrix in the config file or pass --matrix)")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// missingField applies the exit policy for a missing required field: the
// message goes to the log and the process exits 0 unless strict is set.
func missingField(err error, strict bool, logger *log.Logger) error {
	mf, ok := pipeline.IsMissingField(err)
	if !ok {
		return err
	}
	logger.Printf("Error: %v", mf)
	if strict {
		return &exitError{code: 1, err: mf}
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string, f *runFlags) error {
	cfg, err := loadConfig(cmd, args, f)
	if err != nil {
		return err
	}
	pcfg, err := pipeline.FromConfig(cfg)
	if err != nil {
		return err
	}
	solver, err := opt.New(cfg.Solver)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.OutOrStdout())
	ctx, cancel := signalContext()
	defer cancel()

	out, err := pipeline.Run(ctx, pcfg, pipeline.Deps{
		Logger: logger,
		Source: pipeline.SourceFromConfig(cfg),
		Solver: solver,
	})
	if err != nil {
		return missingField(err, cfg.StrictExit, logger)
	}

	printOutcome(cmd.OutOrStdout(), out)
	if cfg.Output.JSON != "" {
		if err := writeTo(cmd.OutOrStdout(), cfg.Output.JSON, func(w io.Writer) error { return report.WriteJSON(w, out) }); err != nil {
			return fmt.Errorf("writing JSON report: %w", err)
		}
	}
	if cfg.Output.XLSX != "" {
		if err := report.SaveXLSX(cfg.Output.XLSX, out, pcfg.FacilityVariable); err != nil {
			return fmt.Errorf("writing workbook: %w", err)
		}
		logger.Printf("Workbook written to %s", cfg.Output.XLSX)
	}
	return nil
}

func runCoverage(cmd *cobra.Command, args []string, f *runFlags, out string) error {
	cfg, err := loadConfig(cmd, args, f)
	if err != nil {
		return err
	}
	pcfg, err := pipeline.FromConfig(cfg)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr())
	ctx, cancel := signalContext()
	defer cancel()
	m, _, err := pipeline.BuildCoverage(ctx, pcfg, pipeline.Deps{Logger: logger, Source: pipeline.SourceFromConfig(cfg)})
	if err != nil {
		return missingField(err, cfg.StrictExit, logger)
	}
	return writeTo(cmd.OutOrStdout(), out, m.WriteJSON)
}

func runLP(cmd *cobra.Command, args []string, f *runFlags, out string) error {
	cfg, err := loadConfig(cmd, args, f)
	if err != nil {
		return err
	}
	pcfg, err := pipeline.FromConfig(cfg)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr())
	ctx, cancel := signalContext()
	defer cancel()
	m, _, err := pipeline.BuildCoverage(ctx, pcfg, pipeline.Deps{Logger: logger, Source: pipeline.SourceFromConfig(cfg)})
	if err != nil {
		return missingField(err, cfg.StrictExit, logger)
	}
	prob, err := pipeline.NewProblem(m, pcfg)
	if err != nil {
		return err
	}
	return writeTo(cmd.OutOrStdout(), out, func(w io.Writer) error { return opt.WriteLP(w, prob) })
}

// writeTo writes to path, or to stdout when path is empty or "-".
func writeTo(stdout io.Writer, path string, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
