package config

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"

	"github.com/rewired-gh/survivorship/internal/aggregate"
	"github.com/rewired-gh/survivorship/internal/lifecycle"
	"github.com/rewired-gh/survivorship/internal/loader"
	"github.com/rewired-gh/survivorship/internal/models"
)

// EnvPrefix prefixes environment overrides, e.g. SURVIVORSHIP_LOGGING_LEVEL.
const EnvPrefix = "SURVIVORSHIP"

const dateLayout = "2006-01-02"

// Config represents the complete application configuration
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Aggregate AggregateConfig `mapstructure:"aggregate"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Survival  SurvivalConfig  `mapstructure:"survival"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SourceConfig describes the registry extracts to read
type SourceConfig struct {
	Paths      []string            `mapstructure:"paths"`
	Format     string              `mapstructure:"format"` // csv, xlsx or empty to detect
	Comma      string              `mapstructure:"comma"`
	Sheets     []SheetConfig       `mapstructure:"sheets"`
	Columns    map[string][]string `mapstructure:"columns"` // field -> extra header aliases
	MaxSamples int                 `mapstructure:"max_samples"`
}

// SheetConfig maps one workbook sheet to event types
type SheetConfig struct {
	Name  string   `mapstructure:"name"`
	Event string   `mapstructure:"event"`
	Only  []string `mapstructure:"only"`
}

// AggregateConfig holds bucketing and pre-filter settings
type AggregateConfig struct {
	Granularity  string                  `mapstructure:"granularity"`
	TrackMergers bool                    `mapstructure:"track_mergers"`
	YearFrom     int                     `mapstructure:"year_from"`
	YearTo       int                     `mapstructure:"year_to"`
	Months       []int                   `mapstructure:"months"`
	MacroPeriod  string                  `mapstructure:"macro_period"`
	MacroPeriods []aggregate.MacroPeriod `mapstructure:"macro_periods"`
	MonthlyYear  int                     `mapstructure:"monthly_year"`
}

// LifecycleConfig holds lifecycle derivation settings
type LifecycleConfig struct {
	MaxTenureYears      float64 `mapstructure:"max_tenure_years"`
	AsOf                string  `mapstructure:"as_of"` // YYYY-MM-DD
	MergerEndsLifecycle bool    `mapstructure:"merger_ends_lifecycle"`
}

// SurvivalConfig selects cohort survival curves
type SurvivalConfig struct {
	Cohorts     []int `mapstructure:"cohorts"`
	ThroughYear int   `mapstructure:"through_year"`
}

// CacheConfig holds load cache settings
type CacheConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Backend     string `mapstructure:"backend"` // memory or sqlite
	DBPath      string `mapstructure:"db_path"`
	MaxDatasets int    `mapstructure:"max_datasets"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Aggregate.MacroPeriods) == 0 {
		cfg.Aggregate.MacroPeriods = append([]aggregate.MacroPeriod(nil), aggregate.DefaultMacroPeriods...)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.paths", []string{})
	v.SetDefault("source.format", "")
	v.SetDefault("source.comma", ",")
	v.SetDefault("source.max_samples", 20)

	// Aggregate defaults
	v.SetDefault("aggregate.granularity", "year")
	v.SetDefault("aggregate.track_mergers", true)
	v.SetDefault("aggregate.year_from", 0) // 0 = open
	v.SetDefault("aggregate.year_to", 0)
	v.SetDefault("aggregate.macro_period", "")
	v.SetDefault("aggregate.monthly_year", 0)

	// Lifecycle defaults
	v.SetDefault("lifecycle.max_tenure_years", lifecycle.DefaultMaxTenureYears)
	v.SetDefault("lifecycle.as_of", "")
	v.SetDefault("lifecycle.merger_ends_lifecycle", false)

	// Survival defaults
	v.SetDefault("survival.through_year", 0) // 0 = last year with events

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.db_path", "")
	v.SetDefault("cache.max_datasets", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Source config
	switch strings.ToLower(c.Source.Format) {
	case "", "csv", "xlsx":
	default:
		return fmt.Errorf("source.format must be one of: csv, xlsx")
	}
	if c.Source.Comma != "" && utf8.RuneCountInString(c.Source.Comma) != 1 {
		return fmt.Errorf("source.comma must be a single character")
	}
	for i, s := range c.Source.Sheets {
		if s.Event != "" {
			if _, err := models.ParseEventType(s.Event); err != nil {
				return fmt.Errorf("source.sheets[%d].event: %w", i, err)
			}
		}
		for _, o := range s.Only {
			if _, err := models.ParseEventType(o); err != nil {
				return fmt.Errorf("source.sheets[%d].only: %w", i, err)
			}
		}
	}
	for field := range c.Source.Columns {
		if _, ok := loader.DefaultAliases[loader.Field(field)]; !ok {
			return fmt.Errorf("source.columns: unknown field %q", field)
		}
	}
	if c.Source.MaxSamples < 0 {
		return fmt.Errorf("source.max_samples must not be negative")
	}

	// Validate Aggregate config
	if _, err := models.ParseGranularity(c.Aggregate.Granularity); err != nil {
		return fmt.Errorf("aggregate.granularity: %w", err)
	}
	if c.Aggregate.YearFrom != 0 && c.Aggregate.YearTo != 0 && c.Aggregate.YearFrom > c.Aggregate.YearTo {
		return fmt.Errorf("aggregate.year_from must not be after aggregate.year_to")
	}
	for _, m := range c.Aggregate.Months {
		if m < 1 || m > 12 {
			return fmt.Errorf("aggregate.months must be between 1 and 12, got %d", m)
		}
	}
	for _, p := range c.Aggregate.MacroPeriods {
		if p.Name == "" || p.From > p.To {
			return fmt.Errorf("aggregate.macro_periods: invalid period %q (%d-%d)", p.Name, p.From, p.To)
		}
	}
	if c.Aggregate.MacroPeriod != "" {
		if _, ok := aggregate.FindPeriod(c.Aggregate.MacroPeriods, c.Aggregate.MacroPeriod); !ok {
			return fmt.Errorf("aggregate.macro_period %q is not defined", c.Aggregate.MacroPeriod)
		}
	}

	// Validate Lifecycle config
	if c.Lifecycle.MaxTenureYears < 0 {
		return fmt.Errorf("lifecycle.max_tenure_years must not be negative")
	}
	if c.Lifecycle.AsOf != "" {
		if _, err := time.Parse(dateLayout, c.Lifecycle.AsOf); err != nil {
			return fmt.Errorf("lifecycle.as_of must be a YYYY-MM-DD date")
		}
	}

	// Validate Survival config
	for _, cohort := range c.Survival.Cohorts {
		if c.Survival.ThroughYear != 0 && cohort > c.Survival.ThroughYear {
			return fmt.Errorf("survival.cohorts: cohort %d is after survival.through_year", cohort)
		}
	}

	// Validate Cache config
	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case "memory":
		case "sqlite":
			if c.Cache.MaxDatasets < 1 {
				return fmt.Errorf("cache.max_datasets must be at least 1")
			}
		default:
			return fmt.Errorf("cache.backend must be one of: memory, sqlite")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// LoaderOptions converts the source section. Call Validate first.
func (c *Config) LoaderOptions() loader.Options {
	opts := loader.Options{
		Format:     loader.Format(strings.ToLower(c.Source.Format)),
		MaxSamples: c.Source.MaxSamples,
	}
	if r, _ := utf8.DecodeRuneInString(c.Source.Comma); r != utf8.RuneError {
		opts.Comma = r
	}
	if len(c.Source.Sheets) == 0 {
		opts.Sheets = append([]loader.Sheet(nil), loader.DefaultWorkbookSheets...)
	}
	for _, s := range c.Source.Sheets {
		sheet := loader.Sheet{Name: s.Name}
		if s.Event != "" {
			sheet.Event, _ = models.ParseEventType(s.Event)
		}
		for _, o := range s.Only {
			t, _ := models.ParseEventType(o)
			sheet.Only = append(sheet.Only, t)
		}
		opts.Sheets = append(opts.Sheets, sheet)
	}
	if len(c.Source.Columns) > 0 {
		opts.Aliases = make(map[loader.Field][]string, len(c.Source.Columns))
		for field, names := range c.Source.Columns {
			opts.Aliases[loader.Field(field)] = names
		}
	}
	return opts
}

// Filters builds the aggregation pre-filters. Call Validate first.
func (c *Config) Filters() []aggregate.Filter {
	var filters []aggregate.Filter
	if c.Aggregate.YearFrom != 0 || c.Aggregate.YearTo != 0 {
		filters = append(filters, aggregate.YearRange(c.Aggregate.YearFrom, c.Aggregate.YearTo))
	}
	if len(c.Aggregate.Months) > 0 {
		filters = append(filters, aggregate.Months(c.Aggregate.Months...))
	}
	if c.Aggregate.MacroPeriod != "" {
		if p, ok := aggregate.FindPeriod(c.Aggregate.MacroPeriods, c.Aggregate.MacroPeriod); ok {
			filters = append(filters, aggregate.InPeriod(p))
		}
	}
	return filters
}

// LifecycleOptions converts the lifecycle section. Call Validate first.
func (c *Config) LifecycleOptions() lifecycle.Options {
	opts := lifecycle.Options{
		MaxTenureYears:      c.Lifecycle.MaxTenureYears,
		MergerEndsLifecycle: c.Lifecycle.MergerEndsLifecycle,
	}
	if c.Lifecycle.AsOf != "" {
		opts.AsOf, _ = time.Parse(dateLayout, c.Lifecycle.AsOf)
	}
	return opts
}

// AggregateOptions converts the merger policy.
func (c *Config) AggregateOptions() aggregate.Options {
	return aggregate.Options{TrackMergers: c.Aggregate.TrackMergers}
}
