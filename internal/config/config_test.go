package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.ServiceDistance != 5000 || c.NumFacility != 5 {
		t.Fatalf("defaults = %v/%d, want 5000/5", c.ServiceDistance, c.NumFacility)
	}
	if got := strings.Join(c.Required(), ","); got != "facility_id,demand_id,demand,distance" {
		t.Fatalf("required = %s", got)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	body := `
workspace: data
matrix: sf.csv
service_distance: 2500
num_facility: 3
fields:
  demand: population
solver:
  name: simplex
  time_limit: 30s
  max_nodes: 200
strict_exit: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Matrix != "sf.csv" || c.Workspace != "data" {
		t.Fatalf("paths = %q %q", c.Workspace, c.Matrix)
	}
	if c.ServiceDistance != 2500 || c.NumFacility != 3 || !c.StrictExit {
		t.Fatalf("unexpected values: %+v", c)
	}
	if c.Fields.Demand != "population" || c.Fields.Distance != "distance" {
		t.Fatalf("fields = %+v", c.Fields)
	}
	if c.Solver.Name != "simplex" || c.Solver.TimeLimit != 30*time.Second || c.Solver.MaxNodes != 200 {
		t.Fatalf("solver = %+v", c.Solver)
	}
	if c.FacilityVariable != "facility" {
		t.Fatalf("facility variable default lost: %q", c.FacilityVariable)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("num_facility: [1"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DATABASE_URL":         "postgres://localhost/mclp",
		"REDIS_URL":            "redis://localhost:6379/0",
		"PORT":                 "9090",
		"RATE_RPS":             "2.5",
		"RATE_BURST":           "10",
		"WEBHOOK_MAX_ATTEMPTS": "3",
		"GLPSOL_PATH":          "/opt/glpk/bin/glpsol",
		"SOLVER_TIME_LIMIT":    "1m",
		"DB_MIGRATE":           "false",
	}
	c := Default()
	if err := c.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if c.Server.Port != "9090" || c.Server.DatabaseURL == "" || c.Server.RedisURL == "" {
		t.Fatalf("server = %+v", c.Server)
	}
	if c.Server.RateRPS != 2.5 || c.Server.RateBurst != 10 || c.Server.WebhookMaxAttempts != 3 || c.Server.Migrate {
		t.Fatalf("server limits = %+v", c.Server)
	}
	if c.Solver.Path != "/opt/glpk/bin/glpsol" || c.Solver.TimeLimit != time.Minute {
		t.Fatalf("solver = %+v", c.Solver)
	}
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(func(k string) string {
		if k == "RATE_BURST" || k == "WEBHOOK_MAX_ATTEMPTS" {
			return "many"
		}
		return ""
	})
	if err == nil || !strings.Contains(err.Error(), "RATE_BURST") || !strings.Contains(err.Error(), "WEBHOOK_MAX_ATTEMPTS") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	c.ServiceDistance = -1
	c.NumFacility = 0
	c.Validation = "rows"
	c.Solver.Name = "cplex"
	c.Delimiter = ";;"
	err := c.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"service_distance", "num_facility", "validation policy", "unknown solver", "delimiter"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestComma(t *testing.T) {
	c := Default()
	if c.Comma() != 0 {
		t.Fatalf("empty delimiter = %q", c.Comma())
	}
	c.Delimiter = ";"
	if c.Comma() != ';' {
		t.Fatalf("delimiter = %q", c.Comma())
	}
}

func TestRequiredOverride(t *testing.T) {
	c := Default()
	c.RequiredFields = []string{"demand_id"}
	if got := c.Required(); len(got) != 1 || got[0] != "demand_id" {
		t.Fatalf("required = %v", got)
	}
}
