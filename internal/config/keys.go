package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "storage.db_path", typ: kString, env: "RDL_STORAGE_DB_PATH",
		apply:   func(cfg *Config, v any) { cfg.Storage.DBPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DBPath },
	},
	{
		key: "analysis.cutoff", typ: kFloat, env: "RDL_ANALYSIS_CUTOFF",
		apply:   func(cfg *Config, v any) { cfg.Analysis.Cutoff = v.(float64) },
		extract: func(cfg Config) any { return cfg.Analysis.Cutoff },
	},
	{
		key: "analysis.window", typ: kFloat, env: "RDL_ANALYSIS_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Analysis.Window = v.(float64) },
		extract: func(cfg Config) any { return cfg.Analysis.Window },
	},
	{
		key: "analysis.min_sample", typ: kInt, env: "RDL_ANALYSIS_MIN_SAMPLE",
		apply:   func(cfg *Config, v any) { cfg.Analysis.MinSample = v.(int) },
		extract: func(cfg Config) any { return cfg.Analysis.MinSample },
	},
	{
		key: "analysis.price_min", typ: kFloat, env: "RDL_ANALYSIS_PRICE_MIN",
		apply:   func(cfg *Config, v any) { cfg.Analysis.PriceMin = v.(float64) },
		extract: func(cfg Config) any { return cfg.Analysis.PriceMin },
	},
	{
		key: "analysis.price_max", typ: kFloat, env: "RDL_ANALYSIS_PRICE_MAX",
		apply:   func(cfg *Config, v any) { cfg.Analysis.PriceMax = v.(float64) },
		extract: func(cfg Config) any { return cfg.Analysis.PriceMax },
	},
	{
		key: "analysis.mileage_min", typ: kFloat, env: "RDL_ANALYSIS_MILEAGE_MIN",
		apply:   func(cfg *Config, v any) { cfg.Analysis.MileageMin = v.(float64) },
		extract: func(cfg Config) any { return cfg.Analysis.MileageMin },
	},
	{
		key: "analysis.mileage_max", typ: kFloat, env: "RDL_ANALYSIS_MILEAGE_MAX",
		apply:   func(cfg *Config, v any) { cfg.Analysis.MileageMax = v.(float64) },
		extract: func(cfg Config) any { return cfg.Analysis.MileageMax },
	},
	{
		key: "estimation.vce", typ: kString, env: "RDL_ESTIMATION_VCE",
		apply:   func(cfg *Config, v any) { cfg.Estimation.VCE = v.(string) },
		extract: func(cfg Config) any { return cfg.Estimation.VCE },
	},
	{
		key: "estimation.level", typ: kFloat, env: "RDL_ESTIMATION_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Estimation.Level = v.(float64) },
		extract: func(cfg Config) any { return cfg.Estimation.Level },
	},
	{
		key: "estimation.plot_order", typ: kInt, env: "RDL_ESTIMATION_PLOT_ORDER",
		apply:   func(cfg *Config, v any) { cfg.Estimation.PlotOrder = v.(int) },
		extract: func(cfg Config) any { return cfg.Estimation.PlotOrder },
	},
	{
		key: "output.dir", typ: kString, env: "RDL_OUTPUT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Output.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Output.Dir },
	},
	{
		key: "output.format", typ: kString, env: "RDL_OUTPUT_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Output.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Output.Format },
	},
	{
		key: "server.port", typ: kInt, env: "RDL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "RDL_SERVER_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", typ: kString, env: "RDL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
