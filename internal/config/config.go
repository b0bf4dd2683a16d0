// Package config holds the run configuration shared by the mclp CLI and the
// API server. Values come from defaults, then an optional YAML file, then
// environment variables, then command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"mclp/internal/coverage"
	"mclp/internal/distmatrix"
	"mclp/internal/opt"
)

type Config struct {
	Workspace string `yaml:"workspace"`
	Matrix    string `yaml:"matrix"`
	Sheet     string `yaml:"sheet"`
	Delimiter string `yaml:"delimiter"`

	ServiceDistance  float64         `yaml:"service_distance"`
	NumFacility      int             `yaml:"num_facility"`
	FacilityVariable string          `yaml:"facility_variable"`
	Fields           coverage.Fields `yaml:"fields"`
	// RequiredFields are checked on the sample record before building.
	// Empty means the bound Fields.
	RequiredFields       []string `yaml:"required_fields"`
	Validation           string   `yaml:"validation"`
	UseServiceableDemand bool     `yaml:"use_serviceable_demand"`
	StrictExit           bool     `yaml:"strict_exit"`

	Solver opt.Config `yaml:"solver"`
	Output Output     `yaml:"output"`
	Server Server     `yaml:"server"`
}

type Output struct {
	XLSX string `yaml:"xlsx"`
	JSON string `yaml:"json"`
}

type Server struct {
	Port               string  `yaml:"port"`
	DatabaseURL        string  `yaml:"database_url"`
	Migrate            bool    `yaml:"migrate"`
	RedisURL           string  `yaml:"redis_url"`
	RateRPS            float64 `yaml:"rate_rps"`
	RateBurst          int     `yaml:"rate_burst"`
	WebhookURL         string  `yaml:"webhook_url"`
	WebhookSecret      string  `yaml:"webhook_secret"`
	WebhookMaxAttempts int     `yaml:"webhook_max_attempts"`
	MaxUploadBytes     int64   `yaml:"max_upload_bytes"`
}

// Default returns the configuration of the reference batch run: a 5000 unit
// service distance and five facilities.
func Default() Config {
	return Config{
		Workspace:        ".",
		ServiceDistance:  5000,
		NumFacility:      5,
		FacilityVariable: coverage.DefaultVariable,
		Fields:           coverage.DefaultFields(),
		Validation:       string(distmatrix.PolicySample),
		Solver:           opt.Config{Name: opt.NameGLPK},
		Server: Server{
			Port:               "8080",
			Migrate:            true,
			WebhookMaxAttempts: 5,
			MaxUploadBytes:     32 << 20,
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config YAML: %w", err)
	}
	cfg.Fields = cfg.Fields.WithDefaults()
	return cfg, nil
}

// ApplyEnv overrides values from environment variables looked up with
// getenv. Unset or empty variables leave values alone.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("MCLP_WORKSPACE", &c.Workspace)
	str("MCLP_SOLVER", &c.Solver.Name)
	str("GLPSOL_PATH", &c.Solver.Path)
	str("PORT", &c.Server.Port)
	str("DATABASE_URL", &c.Server.DatabaseURL)
	str("REDIS_URL", &c.Server.RedisURL)
	str("WEBHOOK_URL", &c.Server.WebhookURL)
	str("WEBHOOK_SECRET", &c.Server.WebhookSecret)

	var errs []error
	if v := getenv("DB_MIGRATE"); v != "" {
		c.Server.Migrate = v != "false"
	}
	if v := getenv("SOLVER_TIME_LIMIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SOLVER_TIME_LIMIT: %w", err))
		}
		c.Solver.TimeLimit = d
	}
	if v := getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_RPS: %w", err))
		}
		c.Server.RateRPS = f
	}
	if v := getenv("RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_BURST: %w", err))
		}
		c.Server.RateBurst = n
	}
	if v := getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Server.WebhookMaxAttempts = n
		} else {
			errs = append(errs, fmt.Errorf("WEBHOOK_MAX_ATTEMPTS: invalid value %q", v))
		}
	}
	return errors.Join(errs...)
}

// Required returns the fields checked before building coverage.
func (c Config) Required() []string {
	if len(c.RequiredFields) > 0 {
		return c.RequiredFields
	}
	return c.Fields.WithDefaults().Required()
}

// Comma returns the matrix delimiter; zero means the reader default.
func (c Config) Comma() rune {
	r, _ := utf8.DecodeRuneInString(c.Delimiter)
	if r == utf8.RuneError {
		return 0
	}
	return r
}

// Validate reports every invalid value at once.
func (c Config) Validate() error {
	var errs []error
	if c.ServiceDistance < 0 {
		errs = append(errs, fmt.Errorf("service_distance must not be negative, got %g", c.ServiceDistance))
	}
	if c.NumFacility < 1 {
		errs = append(errs, fmt.Errorf("num_facility must be at least 1, got %d", c.NumFacility))
	}
	if utf8.RuneCountInString(c.Delimiter) > 1 {
		errs = append(errs, fmt.Errorf("delimiter must be a single character, got %q", c.Delimiter))
	}
	if _, err := distmatrix.ParsePolicy(c.Validation); err != nil {
		errs = append(errs, err)
	}
	if !knownSolver(c.Solver.Name) {
		errs = append(errs, fmt.Errorf("unknown solver %q (allowed: %s)", c.Solver.Name, strings.Join(opt.Names(), ", ")))
	}
	if c.Solver.TimeLimit < 0 {
		errs = append(errs, errors.New("solver.time_limit must not be negative"))
	}
	if c.Server.RateRPS < 0 || c.Server.RateBurst < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	return errors.Join(errs...)
}

func knownSolver(name string) bool {
	if name == "" {
		return true
	}
	for _, n := range opt.Names() {
		if n == name {
			return true
		}
	}
	return false
}
