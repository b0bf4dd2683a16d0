package opt

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// GLPK solves problems with the glpsol executable of the GNU Linear
// Programming Kit. The model is written as CPLEX LP and the solution is read
// back from glpsol's plain text MIP solution file.
type GLPK struct {
	Path      string
	TimeLimit time.Duration
	WorkDir   string
	KeepFiles bool
}

func (g *GLPK) Name() string { return NameGLPK }

func (g *GLPK) binary() string {
	if g.Path != "" {
		return g.Path
	}
	return "glpsol"
}

// Args returns the glpsol arguments for a model and solution path.
func (g *GLPK) Args(model, solution string) []string {
	args := []string{"--lp", model, "--write", solution}
	if g.TimeLimit > 0 {
		secs := int(math.Ceil(g.TimeLimit.Seconds()))
		args = append(args, "--tmlim", strconv.Itoa(secs))
	}
	return args
}

func (g *GLPK) Solve(ctx context.Context, p *Problem) (Solution, error) {
	start := time.Now()
	dir, err := os.MkdirTemp(g.WorkDir, "mclp-glpk-")
	if err != nil {
		return Solution{}, &SolverError{Solver: NameGLPK, Err: err}
	}
	if !g.KeepFiles {
		defer os.RemoveAll(dir)
	}
	model := filepath.Join(dir, "model.lp")
	solPath := filepath.Join(dir, "model.sol")
	if err := writeLPFile(model, p); err != nil {
		return Solution{}, &SolverError{Solver: NameGLPK, Err: err}
	}

	// glpsol stops itself at --tmlim; the context only catches a hung process.
	runCtx, cancel := withLimit(ctx, graceful(g.TimeLimit))
	defer cancel()
	var out bytes.Buffer
	cmd := exec.CommandContext(runCtx, g.binary(), g.Args(model, solPath)...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return Solution{}, &SolverError{Solver: NameGLPK, Output: tail(out.String(), 20), Err: err}
	}

	f, err := os.Open(solPath)
	if err != nil {
		return Solution{}, &SolverError{Solver: NameGLPK, Output: tail(out.String(), 20), Err: err}
	}
	defer f.Close()
	res, err := ParseSolution(f)
	if err != nil {
		return Solution{}, &SolverError{Solver: NameGLPK, Err: err}
	}
	want := len(p.Facilities) + len(p.Demands)
	if len(res.Columns) != want {
		return Solution{}, &SolverError{Solver: NameGLPK, Err: fmt.Errorf("solution has %d columns, model has %d", len(res.Columns), want)}
	}

	sol := Solution{Solver: NameGLPK, Elapsed: time.Since(start)}
	switch res.Status {
	case 'o':
		sol.Status = StatusOptimal
	case 'f':
		sol.Status = StatusFeasible
	case 'n':
		return Solution{}, ErrInfeasible
	default:
		return Solution{}, ErrNoSolution
	}
	values := res.Columns[:len(p.Facilities)]
	sol.FacilityIDs = p.SelectedIDs(values)
	sol.Objective = p.Covered(p.indices(values))
	sol.Metrics.BestObjective = res.Objective
	return sol, nil
}

func graceful(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return limit + limit/2 + 5*time.Second
}

func writeLPFile(path string, p *Problem) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteLP(f, p); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// MIPResult is the content of a glpsol MIP solution file.
type MIPResult struct {
	Rows, Cols int
	// Status is o (optimal), f (feasible), n (no feasible solution) or u
	// (undefined).
	Status    byte
	Objective float64
	// Columns holds the value of each column in model order.
	Columns []float64
}

var errNoMIPLine = errors.New("no 's mip' line in solution")

// ParseSolution reads a solution file written by glpsol --write. Comment
// lines start with c, the s line carries sizes, status and objective, and j
// lines carry column values.
func ParseSolution(r io.Reader) (*MIPResult, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var res *MIPResult
	for ln := 1; sc.Scan(); ln++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "s":
			if len(fields) < 6 || fields[1] != "mip" {
				return nil, fmt.Errorf("line %d: expected 's mip rows cols status obj'", ln)
			}
			rows, err1 := strconv.Atoi(fields[2])
			cols, err2 := strconv.Atoi(fields[3])
			obj, err3 := strconv.ParseFloat(fields[5], 64)
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, fmt.Errorf("line %d: %w", ln, err)
			}
			res = &MIPResult{Rows: rows, Cols: cols, Status: fields[4][0], Objective: obj, Columns: make([]float64, cols)}
		case "j":
			if res == nil {
				return nil, errNoMIPLine
			}
			if len(fields) < 3 {
				return nil, fmt.Errorf("line %d: short column line", ln)
			}
			j, err := strconv.Atoi(fields[1])
			if err != nil || j < 1 || j > res.Cols {
				return nil, fmt.Errorf("line %d: bad column number %q", ln, fields[1])
			}
			v, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", ln, err)
			}
			res.Columns[j-1] = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errNoMIPLine
	}
	return res, nil
}

func tail(s string, lines int) string {
	parts := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "\n")
}
