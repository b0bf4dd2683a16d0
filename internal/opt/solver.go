package opt

import (
	"context"
	"fmt"
	"time"
)

// Status describes how good a returned solution is known to be.
type Status string

const (
	StatusOptimal  Status = "optimal"
	StatusFeasible Status = "feasible"
)

// Solution is a facility selection produced by a Solver.
type Solution struct {
	FacilityIDs []string      `json:"facilityIds"`
	Objective   float64       `json:"objective"`
	Status      Status        `json:"status"`
	Solver      string        `json:"solver"`
	Elapsed     time.Duration `json:"elapsed"`
	Metrics     Metrics       `json:"metrics"`
}

// Metrics are search counters reported by a solver. Only the counters that
// apply to a solver are set.
type Metrics struct {
	Nodes         int     `json:"nodes,omitempty"`
	LPSolves      int     `json:"lpSolves,omitempty"`
	Incumbents    int     `json:"incumbents,omitempty"`
	Iterations    int     `json:"iterations,omitempty"`
	Swaps         int     `json:"swaps,omitempty"`
	LPFailures    int     `json:"lpFailures,omitempty"`
	BestObjective float64 `json:"bestObjective"`
	Bound         float64 `json:"bound,omitempty"`
}

// Solver selects facilities for a Problem.
type Solver interface {
	Name() string
	Solve(ctx context.Context, p *Problem) (Solution, error)
}

// SolverError wraps a failure of an external solver with its output.
type SolverError struct {
	Solver string
	Output string
	Err    error
}

func (e *SolverError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("opt: %s: %v", e.Solver, e.Err)
	}
	return fmt.Sprintf("opt: %s: %v: %s", e.Solver, e.Err, e.Output)
}

func (e *SolverError) Unwrap() error { return e.Err }

// Config selects and tunes a solver.
type Config struct {
	Name string `yaml:"name" json:"name"`
	// Path is the glpsol executable; empty means glpsol on PATH.
	Path string `yaml:"path" json:"path,omitempty"`
	// TimeLimit bounds a solve. Zero means no limit.
	TimeLimit time.Duration `yaml:"time_limit" json:"timeLimit,omitempty"`
	// MaxNodes caps the branch-and-bound tree of the simplex solver.
	MaxNodes int `yaml:"max_nodes" json:"maxNodes,omitempty"`
	// Iterations caps the swap passes of the greedy solver.
	Iterations int `yaml:"iterations" json:"iterations,omitempty"`
	// WorkDir holds model files for external solvers; empty means a temp dir.
	WorkDir string `yaml:"work_dir" json:"workDir,omitempty"`
	// KeepFiles leaves model and solution files behind.
	KeepFiles bool `yaml:"keep_files" json:"keepFiles,omitempty"`
}

const (
	NameGLPK    = "glpk"
	NameSimplex = "simplex"
	NameGreedy  = "greedy"
)

// Names lists the solvers New accepts.
func Names() []string { return []string{NameGLPK, NameSimplex, NameGreedy} }

// New builds the solver named by cfg.Name. Empty means GLPK.
func New(cfg Config) (Solver, error) {
	switch cfg.Name {
	case NameGLPK, "":
		return &GLPK{Path: cfg.Path, TimeLimit: cfg.TimeLimit, WorkDir: cfg.WorkDir, KeepFiles: cfg.KeepFiles}, nil
	case NameSimplex:
		return &Simplex{MaxNodes: cfg.MaxNodes, TimeLimit: cfg.TimeLimit}, nil
	case NameGreedy:
		return &Greedy{Iterations: cfg.Iterations}, nil
	}
	return nil, fmt.Errorf("opt: unknown solver %q", cfg.Name)
}

// withLimit applies a time limit to ctx when one is set.
func withLimit(ctx context.Context, limit time.Duration) (context.Context, context.CancelFunc) {
	if limit <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, limit)
}
