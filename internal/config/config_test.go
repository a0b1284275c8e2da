package config

import (
	"os"
	"testing"
	"time"

	"github.com/rewired-gh/survivorship/internal/aggregate"
	"github.com/rewired-gh/survivorship/internal/lifecycle"
	"github.com/rewired-gh/survivorship/internal/loader"
	"github.com/rewired-gh/survivorship/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	content := `
source:
  paths:
    - ./data/fondos_2004_2025.xlsx
  sheets:
    - name: ALTAS
      event: registration
    - name: HISTORICO
      only: [merger]
  columns:
    entity_id: ["Codigo CNMV"]

aggregate:
  granularity: quarter
  track_mergers: false
  macro_period: financial_crisis
  months: [1, 2, 3]

lifecycle:
  max_tenure_years: 40
  as_of: "2025-06-30"
  merger_ends_lifecycle: true

survival:
  cohorts: [2005, 2008]
  through_year: 2020

cache:
  backend: sqlite
  db_path: ./data/cache.db

logging:
  level: "debug"
  format: "json"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Source.Paths) != 1 {
		t.Errorf("Expected 1 source path, got %d", len(cfg.Source.Paths))
	}
	if cfg.Aggregate.Granularity != "quarter" {
		t.Errorf("Unexpected granularity: %s", cfg.Aggregate.Granularity)
	}
	if cfg.Aggregate.TrackMergers {
		t.Error("track_mergers should be false")
	}
	if cfg.Lifecycle.MaxTenureYears != 40 {
		t.Errorf("Unexpected max tenure: %f", cfg.Lifecycle.MaxTenureYears)
	}
	if len(cfg.Survival.Cohorts) != 2 || cfg.Survival.ThroughYear != 2020 {
		t.Errorf("Unexpected survival config: %+v", cfg.Survival)
	}
	if cfg.Cache.MaxDatasets != 10 {
		t.Errorf("Expected default max_datasets 10, got %d", cfg.Cache.MaxDatasets)
	}
	if len(cfg.Aggregate.MacroPeriods) != len(aggregate.DefaultMacroPeriods) {
		t.Errorf("Expected default macro periods, got %d", len(cfg.Aggregate.MacroPeriods))
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	opts := cfg.LoaderOptions()
	if len(opts.Sheets) != 2 || opts.Sheets[0].Event != models.Registration {
		t.Errorf("Unexpected sheets: %+v", opts.Sheets)
	}
	if len(opts.Sheets[1].Only) != 1 || opts.Sheets[1].Only[0] != models.Merger {
		t.Errorf("Unexpected sheet filter: %+v", opts.Sheets[1])
	}
	if opts.Comma != ',' {
		t.Errorf("Unexpected comma: %q", opts.Comma)
	}
	if got := opts.Aliases[loader.FieldEntityID]; len(got) != 1 || got[0] != "Codigo CNMV" {
		t.Errorf("Unexpected aliases: %v", opts.Aliases)
	}

	lc := cfg.LifecycleOptions()
	if !lc.MergerEndsLifecycle || !lc.AsOf.Equal(time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected lifecycle options: %+v", lc)
	}
	if got := len(cfg.Filters()); got != 2 {
		t.Errorf("Expected 2 filters (months, macro period), got %d", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Aggregate.Granularity != "year" || !cfg.Aggregate.TrackMergers {
		t.Errorf("Unexpected aggregate defaults: %+v", cfg.Aggregate)
	}
	if cfg.Lifecycle.MaxTenureYears != lifecycle.DefaultMaxTenureYears {
		t.Errorf("Unexpected max tenure default: %f", cfg.Lifecycle.MaxTenureYears)
	}
	opts := cfg.LoaderOptions()
	if len(opts.Sheets) != len(loader.DefaultWorkbookSheets) {
		t.Errorf("Expected the default workbook layout, got %+v", opts.Sheets)
	}
	if len(cfg.Filters()) != 0 {
		t.Error("defaults should not filter events")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SURVIVORSHIP_LOGGING_LEVEL", "warn")
	t.Setenv("SURVIVORSHIP_CACHE_BACKEND", "sqlite")
	t.Setenv("SURVIVORSHIP_AGGREGATE_YEAR_FROM", "2009")

	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("env should override file, got level %q", cfg.Logging.Level)
	}
	if cfg.Cache.Backend != "sqlite" {
		t.Errorf("Unexpected backend: %q", cfg.Cache.Backend)
	}
	if cfg.Aggregate.YearFrom != 2009 {
		t.Errorf("Unexpected year_from: %d", cfg.Aggregate.YearFrom)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown format", func(c *Config) { c.Source.Format = "parquet" }},
		{"multi-char comma", func(c *Config) { c.Source.Comma = ";;" }},
		{"bad sheet event", func(c *Config) { c.Source.Sheets = []SheetConfig{{Name: "X", Event: "birth"}} }},
		{"bad sheet filter", func(c *Config) { c.Source.Sheets = []SheetConfig{{Name: "X", Only: []string{"fusion"}}} }},
		{"unknown column field", func(c *Config) { c.Source.Columns = map[string][]string{"isin": {"ISIN"}} }},
		{"bad granularity", func(c *Config) { c.Aggregate.Granularity = "decade" }},
		{"inverted year range", func(c *Config) { c.Aggregate.YearFrom, c.Aggregate.YearTo = 2020, 2010 }},
		{"month out of range", func(c *Config) { c.Aggregate.Months = []int{0} }},
		{"undefined macro period", func(c *Config) { c.Aggregate.MacroPeriod = "dotcom" }},
		{"negative max tenure", func(c *Config) { c.Lifecycle.MaxTenureYears = -1 }},
		{"bad as_of", func(c *Config) { c.Lifecycle.AsOf = "30/06/2025" }},
		{"cohort after horizon", func(c *Config) { c.Survival.Cohorts, c.Survival.ThroughYear = []int{2021}, 2020 }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "redis" }},
		{"sqlite without cap", func(c *Config) { c.Cache.Backend, c.Cache.MaxDatasets = "sqlite", 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error, got nil")
			}
		})
	}
}

func TestValidateDisabledCacheSkipsBackend(t *testing.T) {
	cfg := validConfig(t)
	cfg.Cache.Enabled = false
	cfg.Cache.Backend = "redis"
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled cache should not be validated: %v", err)
	}
}
