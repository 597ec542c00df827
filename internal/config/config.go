package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Estimation EstimationConfig `yaml:"estimation"`
	Output     OutputConfig     `yaml:"output"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path" validate:"required"`
}

// AnalysisConfig holds the default run parameters and cleaning bounds.
type AnalysisConfig struct {
	Cutoff     float64 `yaml:"cutoff" validate:"gt=0"`
	Window     float64 `yaml:"window" validate:"gt=0"`
	MinSample  int     `yaml:"min_sample" validate:"gte=0"`
	PriceMin   float64 `yaml:"price_min" validate:"gte=0"`
	PriceMax   float64 `yaml:"price_max" validate:"gtfield=PriceMin"`
	MileageMin float64 `yaml:"mileage_min" validate:"gte=0"`
	MileageMax float64 `yaml:"mileage_max" validate:"gtfield=MileageMin"`
}

type EstimationConfig struct {
	VCE       string  `yaml:"vce" validate:"oneof=nn hc1"`
	Level     float64 `yaml:"level" validate:"gt=0,lt=100"`
	PlotOrder int     `yaml:"plot_order" validate:"gte=1,lte=8"`
}

type OutputConfig struct {
	Dir    string `yaml:"dir" validate:"required"`
	Format string `yaml:"format" validate:"oneof=png svg pdf"`
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"gt=0,lte=65535"`
	// Token, when set, is required as a bearer token on POST /analyses.
	Token string `yaml:"-"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

func defaults() Config {
	return Config{
		Storage: StorageConfig{
			DBPath: filepath.Join(defaultDataDir(), "listings.db"),
		},
		Analysis: AnalysisConfig{
			Cutoff:     100000,
			Window:     20000,
			MinSample:  30,
			PriceMin:   1000,
			PriceMax:   150000,
			MileageMin: 10000,
			MileageMax: 300000,
		},
		Estimation: EstimationConfig{
			VCE:       "nn",
			Level:     95,
			PlotOrder: 4,
		},
		Output: OutputConfig{
			Dir:    "rdd_output",
			Format: "png",
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return defaults()
}

// Load reads configuration in increasing precedence from built-in defaults,
// the YAML file at path (or $XDG_CONFIG_HOME/rdlistings/config.yaml when
// path is empty), a .env file in the working directory and RDL_* environment
// variables. Variables from .env never replace ones already set.
func Load(path string) (Config, error) {
	if path == "" {
		path = ConfigFilePath()
	}
	return loadWith(newFileBackend(path), ".env")
}

func loadWith(b ConfigBackend, envFiles ...string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read env file %s: %v\n", f, err)
		}
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
	})
	return v
}()

// Validate reports the first invalid value, named by its config key.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fe := verrs[0]
	// Namespace is "Config.analysis.cutoff"; drop the root type name.
	key := fe.Namespace()
	if i := strings.IndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Errorf("invalid config %s=%v: must satisfy %s=%s", key, fe.Value(), fe.Tag(), fe.Param())
	}
	return fmt.Errorf("invalid config %s=%v: %s", key, fe.Value(), fe.Tag())
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "rdlistings-data"
		}
	}
	return filepath.Join(dir, "rdlistings")
}

// ConfigFilePath is the default location of the YAML config file.
func ConfigFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "rdlistings", "config.yaml")
}
