// Package config loads nlcd-county configuration from config.yaml and
// NLCD_* environment variables, and initializes the global logger.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Raster    RasterConfig    `yaml:"raster" mapstructure:"raster"`
	Counties  CountiesConfig  `yaml:"counties" mapstructure:"counties"`
	Aggregate AggregateConfig `yaml:"aggregate" mapstructure:"aggregate"`
	Validate  ValidateConfig  `yaml:"validate" mapstructure:"validate"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Tiger     TigerConfig     `yaml:"tiger" mapstructure:"tiger"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// RasterConfig locates the NLCD land-cover raster.
type RasterConfig struct {
	Path         string `yaml:"path" mapstructure:"path"`
	WorldFile    string `yaml:"world_file" mapstructure:"world_file"`
	ExcludeValue int    `yaml:"exclude_value" mapstructure:"exclude_value"`
}

// CountiesConfig selects the county boundary source.
type CountiesConfig struct {
	Source          string   `yaml:"source" mapstructure:"source"` // "shapefile" or "postgis"
	Shapefile       string   `yaml:"shapefile" mapstructure:"shapefile"`
	IDField         string   `yaml:"id_field" mapstructure:"id_field"`
	Table           string   `yaml:"table" mapstructure:"table"`
	DatabaseURL     string   `yaml:"database_url" mapstructure:"database_url"`
	States          []string `yaml:"states" mapstructure:"states"`
	ContinentalOnly bool     `yaml:"continental_only" mapstructure:"continental_only"`
	Reproject       string   `yaml:"reproject" mapstructure:"reproject"` // "albers" or "none"
}

// AggregateConfig tunes the worker pool.
type AggregateConfig struct {
	Workers              int `yaml:"workers" mapstructure:"workers"`
	TimeoutSecs          int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ProgressIntervalSecs int `yaml:"progress_interval_secs" mapstructure:"progress_interval_secs"`
}

// Timeout returns the per-county sampling bound; 0 disables it.
func (a AggregateConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// ProgressInterval returns the minimum spacing of progress log lines.
func (a AggregateConfig) ProgressInterval() time.Duration {
	return time.Duration(a.ProgressIntervalSecs) * time.Second
}

// ValidateConfig configures the partition check.
type ValidateConfig struct {
	Tolerance        float64 `yaml:"tolerance" mapstructure:"tolerance"`
	ExemptDegenerate bool    `yaml:"exempt_degenerate" mapstructure:"exempt_degenerate"`
	SampleSize       int     `yaml:"sample_size" mapstructure:"sample_size"`
}

// OutputConfig names the output files.
type OutputConfig struct {
	CSVPath  string `yaml:"csv_path" mapstructure:"csv_path"`
	XLSXPath string `yaml:"xlsx_path" mapstructure:"xlsx_path"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// TigerConfig configures Census TIGER/Line downloads.
type TigerConfig struct {
	Year    int    `yaml:"year" mapstructure:"year"`
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// RetryConfig configures retries of remote downloads.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml (optional), NLCD_* environment
// variables, and defaults.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NLCD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("raster.path", "")
	v.SetDefault("raster.world_file", "")
	v.SetDefault("raster.exclude_value", 0)
	v.SetDefault("counties.source", "shapefile")
	v.SetDefault("counties.shapefile", "")
	v.SetDefault("counties.id_field", "GEOID")
	v.SetDefault("counties.table", "tiger_data.county_all")
	v.SetDefault("counties.database_url", "")
	v.SetDefault("counties.states", []string{})
	v.SetDefault("counties.continental_only", false)
	v.SetDefault("counties.reproject", "albers")
	v.SetDefault("aggregate.workers", 4)
	v.SetDefault("aggregate.timeout_secs", 300)
	v.SetDefault("aggregate.progress_interval_secs", 10)
	v.SetDefault("validate.tolerance", 0.01)
	v.SetDefault("validate.exempt_degenerate", false)
	v.SetDefault("validate.sample_size", 5)
	v.SetDefault("output.csv_path", "county_landcover_proportions.csv")
	v.SetDefault("output.xlsx_path", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "nlcd-county.db")
	v.SetDefault("tiger.year", 2024)
	v.SetDefault("tiger.temp_dir", "/tmp/tiger")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Check validates the settings a command mode depends on: "process",
// "serve", or "counties". All problems are reported together.
func (c *Config) Check(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch mode {
	case "process":
		if c.Raster.Path == "" {
			add("raster.path is required")
		}
		if c.Raster.ExcludeValue < 0 || c.Raster.ExcludeValue > 255 {
			add("raster.exclude_value must be between 0 and 255")
		}
		switch c.Counties.Source {
		case "shapefile":
		case "postgis":
			if c.Counties.DatabaseURL == "" && c.Store.DatabaseURL == "" {
				add("counties.database_url is required for the postgis source")
			}
		default:
			add("counties.source must be shapefile or postgis, got %q", c.Counties.Source)
		}
		if c.Counties.Reproject != "albers" && c.Counties.Reproject != "none" {
			add("counties.reproject must be albers or none, got %q", c.Counties.Reproject)
		}
		if c.Aggregate.Workers < 1 || c.Aggregate.Workers > 256 {
			add("aggregate.workers must be between 1 and 256")
		}
		if c.Aggregate.TimeoutSecs < 0 {
			add("aggregate.timeout_secs must be >= 0")
		}
		if c.Validate.Tolerance <= 0 || c.Validate.Tolerance >= 1 {
			add("validate.tolerance must be in (0, 1)")
		}
		if c.Output.CSVPath == "" {
			add("output.csv_path is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
	case "counties":
		if c.Tiger.Year < 2008 {
			add("tiger.year must be 2008 or later")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CountyDatabaseURL returns the PostGIS connection string for the county
// source, falling back to the store database.
func (c *Config) CountyDatabaseURL() string {
	if c.Counties.DatabaseURL != "" {
		return c.Counties.DatabaseURL
	}
	return c.Store.DatabaseURL
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
