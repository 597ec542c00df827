package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/rdlistings/internal/analysis"
	"github.com/kalambet/rdlistings/internal/config"
	"github.com/kalambet/rdlistings/internal/rdd"
	"github.com/kalambet/rdlistings/internal/storage"
)

var version = "dev"

var (
	configPath string
	dbPath     string
	logLevel   string
	noColor    bool

	// cfg is loaded once per invocation in the root pre-run.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rdlistings",
	Short: "Regression discontinuity analysis of used-vehicle listing prices",
	Long: `rdlistings estimates the price discontinuity of used-vehicle listings at a
mileage cutoff from a local SQLite listings database.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if dbPath != "" {
			loaded.Storage.DBPath = dbPath
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded
		slog.SetDefault(newLogger(cfg.Log.Level))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/rdlistings/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "listings database path (overrides storage.db_path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// openStore opens the database for writing, creating it and applying
// migrations when needed. Only schema init uses it.
func openStore() (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// openReadStore opens an existing database read-only.
func openReadStore() (*storage.Store, error) {
	store, err := storage.OpenReadOnly(cfg.Storage.DBPath)
	if err != nil {
		if errors.Is(err, storage.ErrNoDatabase) {
			return nil, fmt.Errorf("opening storage: %w (run `rdlistings schema init` or check --db)", err)
		}
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// analysisSettings maps the loaded config onto analyzer settings.
func analysisSettings(c config.Config) (analysis.Settings, error) {
	vce, err := rdd.ParseVCE(c.Estimation.VCE)
	if err != nil {
		return analysis.Settings{}, err
	}
	est := rdd.DefaultOptions()
	est.VCE = vce
	est.Level = c.Estimation.Level
	return analysis.Settings{
		Bounds: analysis.Bounds{
			PriceMin:   c.Analysis.PriceMin,
			PriceMax:   c.Analysis.PriceMax,
			MileageMin: c.Analysis.MileageMin,
			MileageMax: c.Analysis.MileageMax,
			MinSample:  c.Analysis.MinSample,
		},
		Estimation: est,
		PlotOrder:  c.Estimation.PlotOrder,
	}, nil
}

func defaultParams(c config.Config) analysis.Params {
	return analysis.Params{Cutoff: c.Analysis.Cutoff, Window: c.Analysis.Window}
}
