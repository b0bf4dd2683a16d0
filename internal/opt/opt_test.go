package opt

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willauld/lpsimplex"

	"mclp/internal/coverage"
	"mclp/internal/distmatrix"
)

func modelFrom(t *testing.T, threshold float64, rows ...[4]string) *coverage.Model {
	t.Helper()
	recs := make([]distmatrix.Record, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, distmatrix.Record{"facility_id": r[0], "demand_id": r[1], "demand": r[2], "distance": r[3]})
	}
	m, err := coverage.BuildBinary(recs, threshold, coverage.DefaultFields(), "", nil)
	require.NoError(t, err)
	return m
}

func exampleProblem(t *testing.T, p int) *Problem {
	m := modelFrom(t, 5000,
		[4]string{"F1", "D1", "10", "4000"},
		[4]string{"F2", "D1", "10", "6000"},
		[4]string{"F1", "D2", "5", "4000"},
	)
	prob, err := NewProblem(m, Options{Facilities: p})
	require.NoError(t, err)
	return prob
}

// simpleCase has five facilities each reaching one unit of weight 5..1.
func simpleCase(t *testing.T, p int) *Problem {
	var rows [][4]string
	for i := 1; i <= 5; i++ {
		rows = append(rows, [4]string{"F" + strconv.Itoa(i), "D" + strconv.Itoa(i), strconv.Itoa(6 - i), "5"})
		rows = append(rows, [4]string{"F" + strconv.Itoa(i), "D" + strconv.Itoa(i%5+1), strconv.Itoa(6 - i%5 - 1), "50"})
	}
	prob, err := NewProblem(modelFrom(t, 10, rows...), Options{Facilities: p})
	require.NoError(t, err)
	return prob
}

// trapCase fools the greedy construction: F0 has the largest single gain but
// F1 and F2 together beat any pair containing F0.
func trapCase(t *testing.T) *Problem {
	m := modelFrom(t, 1,
		[4]string{"F0", "b", "2", "0"},
		[4]string{"F0", "c", "2", "0"},
		[4]string{"F0", "e", "1.5", "0"},
		[4]string{"F1", "a", "2", "0"},
		[4]string{"F1", "b", "2", "0"},
		[4]string{"F2", "c", "2", "0"},
		[4]string{"F2", "d", "2", "0"},
	)
	prob, err := NewProblem(m, Options{Facilities: 2})
	require.NoError(t, err)
	return prob
}

func TestNewProblem(t *testing.T) {
	p := exampleProblem(t, 1)
	assert.Equal(t, []string{"F1", "F2"}, p.Facilities)
	assert.Equal(t, []string{"D1", "D2"}, p.Demands)
	assert.Equal(t, []float64{10, 5}, p.Weights)
	assert.Equal(t, [][]int{{0}, {0}}, p.Covers)
	assert.Equal(t, [][]int{{0, 1}, nil}, p.Serves)
	assert.Equal(t, 15.0, p.Covered([]int{0}))
	assert.Equal(t, 0.0, p.Covered([]int{1}))
	assert.Equal(t, 15.0, p.Reachable())

	_, err := NewProblem(&coverage.Model{}, Options{Facilities: 0})
	assert.ErrorIs(t, err, ErrBadFacilityCount)
	empty := modelFrom(t, 1)
	_, err = NewProblem(empty, Options{Facilities: 1})
	assert.ErrorIs(t, err, ErrEmptyProblem)
}

func TestNewProblem_ServiceableWeights(t *testing.T) {
	m := modelFrom(t, 1,
		[4]string{"F1", "D1", "4", "0"},
		[4]string{"F1", "D2", "6", "9"},
	)
	p, err := NewProblem(m, Options{Facilities: 1, UseServiceableDemand: true})
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 0}, p.Weights)
}

func TestWriteLP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLP(&buf, exampleProblem(t, 1)))
	out := buf.String()
	assert.Contains(t, out, "Maximize\n obj: + 0 x0 + 0 x1 + 10 y0 + 5 y1\n")
	assert.Contains(t, out, " D0: + 1 x0 - 1 y0 >= 0\n")
	assert.Contains(t, out, " D1: + 1 x0 - 1 y1 >= 0\n")
	assert.Contains(t, out, " total: + 1 x0 + 1 x1 <= 1\n")
	assert.Contains(t, out, "Binaries\n x0 x1 y0 y1\n")
	assert.True(t, strings.HasSuffix(out, "End\n"))
}

func TestWriteLP_WrapsLongRows(t *testing.T) {
	var rows [][4]string
	for i := 0; i < 30; i++ {
		rows = append(rows, [4]string{"F" + strconv.Itoa(i), "D", "1", "0"})
	}
	p, err := NewProblem(modelFrom(t, 1, rows...), Options{Facilities: 3})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteLP(&buf, p))
	for _, line := range strings.Split(buf.String(), "\n") {
		assert.LessOrEqual(t, len(line), 255)
	}
}

func TestParseSolution(t *testing.T) {
	in := "c Problem:\nc\ns mip 3 4 o 15\ni 1 0\nj 1 1\nj 2 0\nj 3 1\nj 4 1\ne o f\n"
	res, err := ParseSolution(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, byte('o'), res.Status)
	assert.Equal(t, 15.0, res.Objective)
	assert.Equal(t, []float64{1, 0, 1, 1}, res.Columns)

	for _, bad := range []string{
		"",
		"j 1 1\n",
		"s mip x 4 o 1\n",
		"s mip 1 2 o 1\nj 3 1\n",
		"s mip 1 2 o 1\nj 1 one\n",
	} {
		_, err := ParseSolution(strings.NewReader(bad))
		assert.Errorf(t, err, "input %q", bad)
	}
}

// fakeGLPSOL writes a glpsol stand-in that records its arguments and answers
// with the given solution file body.
func fakeGLPSOL(t *testing.T, body string, exit int) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script solver stand-in")
	}
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := "#!/bin/sh\n" +
		"echo \"$@\" > " + argsFile + "\n" +
		"out=\"\"\n" +
		"while [ $# -gt 0 ]; do\n" +
		"  if [ \"$1\" = \"--write\" ]; then out=\"$2\"; fi\n" +
		"  shift\n" +
		"done\n" +
		"echo 'GLPSOL: GLPK LP/MIP Solver'\n" +
		"cat > \"$out\" <<'EOF'\n" + body + "EOF\n" +
		"exit " + strconv.Itoa(exit) + "\n"
	path := filepath.Join(dir, "glpsol")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, argsFile
}

func TestGLPK_Solve(t *testing.T) {
	bin, argsFile := fakeGLPSOL(t, "s mip 3 4 o 15\nj 1 1\nj 2 0\nj 3 1\nj 4 1\ne o f\n", 0)
	work := t.TempDir()
	g := &GLPK{Path: bin, TimeLimit: 1500 * time.Millisecond, WorkDir: work}

	sol, err := g.Solve(context.Background(), exampleProblem(t, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"F1"}, sol.FacilityIDs)
	assert.Equal(t, StatusOptimal, sol.Status)
	assert.Equal(t, 15.0, sol.Objective)
	assert.Equal(t, NameGLPK, sol.Solver)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "--lp ")
	assert.Contains(t, string(args), "--tmlim 2")

	left, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, left, "model files are removed")
}

func TestGLPK_KeepFiles(t *testing.T) {
	bin, _ := fakeGLPSOL(t, "s mip 3 4 f 15\nj 1 1\nj 2 0\nj 3 1\nj 4 1\n", 0)
	work := t.TempDir()
	g := &GLPK{Path: bin, WorkDir: work, KeepFiles: true}
	sol, err := g.Solve(context.Background(), exampleProblem(t, 1))
	require.NoError(t, err)
	assert.Equal(t, StatusFeasible, sol.Status)
	matches, err := filepath.Glob(filepath.Join(work, "*", "model.lp"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestGLPK_Statuses(t *testing.T) {
	bin, _ := fakeGLPSOL(t, "s mip 3 4 n 0\n", 0)
	_, err := (&GLPK{Path: bin}).Solve(context.Background(), exampleProblem(t, 1))
	assert.ErrorIs(t, err, ErrInfeasible)

	bin, _ = fakeGLPSOL(t, "s mip 3 4 u 0\n", 0)
	_, err = (&GLPK{Path: bin}).Solve(context.Background(), exampleProblem(t, 1))
	assert.ErrorIs(t, err, ErrNoSolution)

	bin, _ = fakeGLPSOL(t, "s mip 3 2 o 0\n", 0)
	_, err = (&GLPK{Path: bin}).Solve(context.Background(), exampleProblem(t, 1))
	var se *SolverError
	assert.True(t, errors.As(err, &se), "column count mismatch")
}

func TestGLPK_ProcessFailure(t *testing.T) {
	bin, _ := fakeGLPSOL(t, "", 3)
	_, err := (&GLPK{Path: bin}).Solve(context.Background(), exampleProblem(t, 1))
	var se *SolverError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, NameGLPK, se.Solver)
	assert.Contains(t, se.Output, "GLPSOL")

	_, err = (&GLPK{Path: filepath.Join(t.TempDir(), "missing")}).Solve(context.Background(), exampleProblem(t, 1))
	assert.Error(t, err)
}

func TestGreedy_SimpleCase(t *testing.T) {
	want := map[int]float64{1: 5.0 / 15, 2: 9.0 / 15, 3: 12.0 / 15, 4: 14.0 / 15, 5: 15.0 / 15}
	for k, frac := range want {
		p := simpleCase(t, k)
		for _, s := range []Solver{&Greedy{}, &Simplex{}} {
			sol, err := s.Solve(context.Background(), p)
			require.NoError(t, err)
			assert.InDeltaf(t, frac*15, sol.Objective, 1e-9, "%s with %d facilities", s.Name(), k)
			assert.Lenf(t, sol.FacilityIDs, k, "%s with %d facilities", s.Name(), k)
		}
	}
}

func TestGreedy_SwapEscapesTrap(t *testing.T) {
	p := trapCase(t)
	sel, gain := greedySelect(p, 2)
	assert.Equal(t, 7.5, gain)
	assert.Contains(t, sel, 0)

	sol, err := (&Greedy{}).Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"F1", "F2"}, sol.FacilityIDs)
	assert.Equal(t, 8.0, sol.Objective)
	assert.Equal(t, 1, sol.Metrics.Swaps)
}

func TestGreedy_StopsWithoutGain(t *testing.T) {
	sol, err := (&Greedy{}).Solve(context.Background(), exampleProblem(t, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"F1"}, sol.FacilityIDs, "F2 reaches nothing")
	assert.Equal(t, StatusOptimal, sol.Status)
}

func TestSimplex_Trap(t *testing.T) {
	sol, err := (&Simplex{}).Solve(context.Background(), trapCase(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"F1", "F2"}, sol.FacilityIDs)
	assert.Equal(t, 8.0, sol.Objective)
	assert.Equal(t, StatusOptimal, sol.Status)
	assert.Positive(t, sol.Metrics.LPSolves)
}

func TestSimplex_NodeBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sol, err := (&Simplex{}).Solve(ctx, trapCase(t))
	require.NoError(t, err)
	assert.Equal(t, StatusFeasible, sol.Status)
	assert.Equal(t, 7.5, sol.Objective, "greedy seed is kept")
}

// fractionalLP ignores the constraints and returns every facility at k/n
// with all demand covered, so every node branches.
func fractionalLP(n int, k float64) lpFunc {
	return func(c []float64, _ [][]float64, _ []float64, _ [][]float64, _ []float64) lpsimplex.OptResult {
		x := make([]float64, len(c))
		for v := range x {
			x[v] = 1
			if v < n {
				x[v] = k / float64(n)
			}
		}
		return lpsimplex.OptResult{X: x, Status: 0, Success: true}
	}
}

func TestSimplex_LPFailureIsNotOptimal(t *testing.T) {
	for _, status := range []int{1, 4} {
		s := &Simplex{lp: func([]float64, [][]float64, []float64, [][]float64, []float64) lpsimplex.OptResult {
			return lpsimplex.OptResult{Status: status, Message: "iteration limit"}
		}}
		sol, err := s.Solve(context.Background(), trapCase(t))
		require.NoError(t, err)
		assert.Equal(t, StatusFeasible, sol.Status, "lp status %d", status)
		assert.Equal(t, 7.5, sol.Objective)
		assert.Equal(t, 1, sol.Metrics.LPFailures)
	}
}

func TestSimplex_InfeasibleRootIsPruned(t *testing.T) {
	s := &Simplex{lp: func([]float64, [][]float64, []float64, [][]float64, []float64) lpsimplex.OptResult {
		return lpsimplex.OptResult{Status: lpInfeasible}
	}}
	sol, err := s.Solve(context.Background(), trapCase(t))
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, sol.Status)
	assert.Zero(t, sol.Metrics.LPFailures)
}

func TestSimplex_MaxNodes(t *testing.T) {
	sol, err := (&Simplex{MaxNodes: 1, lp: fractionalLP(3, 2)}).Solve(context.Background(), trapCase(t))
	require.NoError(t, err)
	assert.Equal(t, StatusFeasible, sol.Status)
	assert.Equal(t, 1, sol.Metrics.Nodes)
	assert.Equal(t, 9.5, sol.Metrics.Bound)
}

func TestSimplex_TimeLimitOvershootsOneSolve(t *testing.T) {
	frac := fractionalLP(3, 2)
	slow := func(c []float64, aub [][]float64, bub []float64, aeq [][]float64, beq []float64) lpsimplex.OptResult {
		time.Sleep(30 * time.Millisecond)
		return frac(c, aub, bub, aeq, beq)
	}
	start := time.Now()
	sol, err := (&Simplex{TimeLimit: 5 * time.Millisecond, lp: slow}).Solve(context.Background(), trapCase(t))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "the root solve is not interrupted")
	assert.Equal(t, StatusFeasible, sol.Status)
	assert.Equal(t, 1, sol.Metrics.Nodes)
}

func TestSolversRejectEmpty(t *testing.T) {
	for _, s := range []Solver{&Greedy{}, &Simplex{}} {
		_, err := s.Solve(context.Background(), &Problem{P: 1})
		assert.ErrorIs(t, err, ErrEmptyProblem)
	}
}

func TestNew(t *testing.T) {
	for _, name := range append(Names(), "") {
		s, err := New(Config{Name: name})
		require.NoError(t, err)
		if name == "" {
			name = NameGLPK
		}
		assert.Equal(t, name, s.Name())
	}
	_, err := New(Config{Name: "cplex"})
	assert.Error(t, err)
}

func TestMetricsStore(t *testing.T) {
	RecordMetrics("run-1", NameSimplex, Metrics{Nodes: 3})
	RecordMetrics("run-1", NameGreedy, Metrics{Swaps: 1})
	RecordMetrics("run-2", NameGreedy, Metrics{Swaps: 2})
	got := GetMetrics("run-1")
	assert.Len(t, got, 2)
	assert.Equal(t, 3, got[NameSimplex].Nodes)

	ForgetMetrics("run-1")
	assert.Empty(t, GetMetrics("run-1"))
	assert.Len(t, GetMetrics("run-2"), 1)
}
