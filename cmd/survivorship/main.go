package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/survivorship/internal/cache"
	"github.com/rewired-gh/survivorship/internal/config"
	"github.com/rewired-gh/survivorship/internal/loader"
	"github.com/rewired-gh/survivorship/internal/logger"
	"github.com/rewired-gh/survivorship/internal/models"
	"github.com/rewired-gh/survivorship/internal/storage"
)

var (
	// Global flags
	configPath string
	sources    []string
	logLevel   string

	cfg   *config.Config
	store *storage.Storage
)

var rootCmd = &cobra.Command{
	Use:   "survivorship",
	Short: "Fund survivorship analysis over the CNMV registry",
	Long: `survivorship reads CNMV fund registry extracts (CSV or the XLSX workbook),
counts registrations, deregistrations and mergers per period, derives one
lifecycle per registry number and traces the survival of registration cohorts.

Every result is recomputed from the source files; the optional cache only
skips re-parsing unchanged files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal.
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if len(sources) > 0 {
			cfg.Source.Paths = sources
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger.Init(cfg.Logging.Level, cfg.Logging.Format)
		if configPath != "" {
			logger.Debug("Configuration loaded from %s", configPath)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringSliceVarP(&sources, "source", "s", nil, "Source file (repeatable; overrides source.paths)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level")

	rootCmd.AddCommand(reportCmd, snapshotsCmd, lifecyclesCmd, flaggedCmd, survivalCmd, eventsCmd, cacheCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

// openStore opens the SQLite cache once per process.
func openStore() (*storage.Storage, error) {
	if store != nil {
		return store, nil
	}
	s, err := storage.New(cfg.Cache.MaxDatasets, cfg.Cache.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	store = s
	return store, nil
}

func newLoader() (*cache.Loader, error) {
	opts := cfg.LoaderOptions()
	if !cfg.Cache.Enabled {
		return cache.NewLoader(nil, opts), nil
	}
	if cfg.Cache.Backend == "sqlite" {
		s, err := openStore()
		if err != nil {
			return nil, err
		}
		return cache.NewLoader(s, opts), nil
	}
	return cache.NewLoader(cache.NewMemoryStore(), opts), nil
}

// loadDataset reads every configured source into one dataset.
func loadDataset(ctx context.Context) (*models.Dataset, error) {
	if len(cfg.Source.Paths) == 0 {
		return nil, fmt.Errorf("no source files: pass --source or set source.paths")
	}
	l, err := newLoader()
	if err != nil {
		return nil, err
	}
	datasets, err := l.LoadAll(ctx, cfg.Source.Paths)
	if err != nil {
		return nil, err
	}
	ds := loader.Merge(datasets...)
	if ds.RunID == "" {
		ds.RunID = uuid.NewString()
	}
	logger.Info("Loaded %d events from %d source(s) (run %s)", len(ds.Events), len(datasets), ds.RunID)
	return ds, nil
}
