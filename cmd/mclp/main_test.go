package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mclp/internal/distmatrix"
)

func writeMatrix(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "m.csv"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := runCmd()
	switch args[0] {
	case "coverage":
		cmd = coverageCmd()
	case "lp":
		cmd = lpCmd()
	}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args[1:])
	err := cmd.Execute()
	return out.String(), err
}

func TestRunGreedy(t *testing.T) {
	dir := writeMatrix(t, "facility_id, demand_id, demand, distance\nF1, D1, 10, 4000\nF2, D1, 10, 6000\nF1, D2, 5, 4000\n")
	out, err := execute(t, "run", "-w", dir, "-m", "m.csv", "-p", "1", "--solver", "greedy", "--json", filepath.Join(dir, "out.json"))
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "100.00% of demand is covered") {
		t.Fatalf("missing coverage line:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.json")); err != nil {
		t.Fatalf("json report not written: %v", err)
	}
}

func TestRunMissingFieldExitPolicy(t *testing.T) {
	dir := writeMatrix(t, "facility_id,demand_id,weight,distance\nF1,D1,10,4000\nF2,D1,10,6000\n")
	out, err := execute(t, "run", "-w", dir, "-m", "m.csv", "--solver", "greedy")
	if err != nil {
		t.Fatalf("non-strict run must succeed, got %v", err)
	}
	if !strings.Contains(out, "Error: this field demand not found in the distance csv") {
		t.Fatalf("missing error line:\n%s", out)
	}

	_, err = execute(t, "run", "-w", dir, "-m", "m.csv", "--solver", "greedy", "--strict")
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 1 {
		t.Fatalf("strict run err = %v", err)
	}
	var mf *distmatrix.MissingFieldError
	if !errors.As(err, &mf) || mf.Field != "demand" {
		t.Fatalf("strict run should carry the missing field, got %v", err)
	}
}

func TestCoverageAndLP(t *testing.T) {
	dir := writeMatrix(t, "facility_id,demand_id,demand,distance\nF1,D1,10,4000\nF2,D1,10,6000\nF1,D2,5,4000\n")
	out, err := execute(t, "coverage", "-w", dir, "-m", "m.csv")
	if err != nil {
		t.Fatalf("coverage: %v", err)
	}
	if !strings.Contains(out, `"totalServiceableDemand": 15`) {
		t.Fatalf("unexpected coverage output:\n%s", out)
	}

	lpPath := filepath.Join(dir, "model.lp")
	if _, err := execute(t, "lp", "-w", dir, "-m", "m.csv", "-p", "2", "-o", lpPath); err != nil {
		t.Fatalf("lp: %v", err)
	}
	b, err := os.ReadFile(lpPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), " total: + 1 x0 + 1 x1 <= 2") {
		t.Fatalf("unexpected LP:\n%s", b)
	}
}

func TestRunRequiresMatrix(t *testing.T) {
	if _, err := execute(t, "run", "--solver", "greedy"); err == nil {
		t.Fatal("expected error without a matrix")
	}
}

func TestStampWriter(t *testing.T) {
	var buf bytes.Buffer
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	w := &stampWriter{w: &buf, now: func() time.Time { return at }}
	if _, err := w.Write([]byte("Solving MCLP...\n")); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "03/05/2024 02:07:09 PM Solving MCLP...\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
