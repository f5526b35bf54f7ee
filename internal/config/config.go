// Package config loads bayplanner settings from YAML with environment
// overrides.
package config

import (
	"bayplanner/internal/blob"
	"bayplanner/pkg/domain"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the top-level bayplanner configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Journal  JournalConfig  `yaml:"journal"`
	Capacity CapacityConfig `yaml:"capacity"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// StorageConfig selects the durable schedule store.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // memory|sqlite|postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// JournalConfig controls archiving of committed sandbox journals.
type JournalConfig struct {
	Enabled bool     `yaml:"enabled"`
	Driver  string   `yaml:"driver"` // fs|s3|memory
	FSRoot  string   `yaml:"fs_root"`
	Prefix  string   `yaml:"prefix"`
	S3      S3Config `yaml:"s3"`
}

// S3Config mirrors the S3 blob backend settings.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// CapacityConfig holds capacity defaults.
type CapacityConfig struct {
	// DefaultHoursPerPersonPerWeek fills team records that omit their hours.
	DefaultHoursPerPersonPerWeek int `yaml:"default_hours_per_person_per_week"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json|console
}

// MetricsConfig selects the metrics exporter.
type MetricsConfig struct {
	Exporter  string `yaml:"exporter"` // none|expvar|prometheus
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "./bayplanner.db",
		},
		Journal: JournalConfig{
			Driver: string(blob.DriverFilesystem),
			FSRoot: "./journals",
			Prefix: "journals/",
		},
		Capacity: CapacityConfig{
			DefaultHoursPerPersonPerWeek: domain.DefaultHoursPerPersonPerWeek,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Exporter:  "none",
			Namespace: "bayplanner",
		},
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("BAYPLANNER_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("BAYPLANNER_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("BAYPLANNER_POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}

	if v := os.Getenv("BAYPLANNER_BLOB_DRIVER"); v != "" {
		c.Journal.Driver = v
		c.Journal.Enabled = true
	}
	if v := os.Getenv("BAYPLANNER_BLOB_FS_ROOT"); v != "" {
		c.Journal.FSRoot = v
	}
	if v := os.Getenv("BAYPLANNER_BLOB_S3_BUCKET"); v != "" {
		c.Journal.S3.Bucket = v
	}
	if v := os.Getenv("BAYPLANNER_BLOB_S3_REGION"); v != "" {
		c.Journal.S3.Region = v
	}
	if v := os.Getenv("BAYPLANNER_BLOB_S3_ENDPOINT"); v != "" {
		c.Journal.S3.Endpoint = v
	}
	if v := os.Getenv("BAYPLANNER_BLOB_S3_PATH_STYLE"); v != "" {
		c.Journal.S3.PathStyle = strings.EqualFold(v, "true")
	}

	if v := os.Getenv("BAYPLANNER_DEFAULT_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BAYPLANNER_DEFAULT_HOURS: %w", err)
		}
		c.Capacity.DefaultHoursPerPersonPerWeek = hours
	}
	if v := os.Getenv("BAYPLANNER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BAYPLANNER_METRICS_EXPORTER"); v != "" {
		c.Metrics.Exporter = v
	}
	return nil
}

// Validate rejects settings no backend can honour.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "", "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage: postgres driver requires postgres_dsn")
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}
	if c.Journal.Enabled {
		switch blob.Driver(c.Journal.Driver) {
		case "", blob.DriverFilesystem, blob.DriverMemory:
		case blob.DriverS3:
			if c.Journal.S3.Bucket == "" {
				return fmt.Errorf("journal: s3 driver requires a bucket")
			}
		default:
			return fmt.Errorf("journal: unknown driver %q", c.Journal.Driver)
		}
	}
	if c.Capacity.DefaultHoursPerPersonPerWeek < 0 {
		return fmt.Errorf("capacity: default hours must be non-negative: %w", domain.ErrInvalidCapacity)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.Metrics.Exporter {
	case "", "none", "expvar", "prometheus":
	default:
		return fmt.Errorf("metrics: unknown exporter %q", c.Metrics.Exporter)
	}
	return nil
}

// BlobOptions converts the journal settings into blob store options.
func (c *Config) BlobOptions() blob.Options {
	return blob.Options{
		Driver: blob.Driver(c.Journal.Driver),
		FSRoot: c.Journal.FSRoot,
		S3: blob.S3Config{
			Bucket:    c.Journal.S3.Bucket,
			Region:    c.Journal.S3.Region,
			Endpoint:  c.Journal.S3.Endpoint,
			PathStyle: c.Journal.S3.PathStyle,
		},
	}
}

// LogLevel parses the configured level, falling back to info.
func (c *Config) LogLevel() zapcore.Level {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// ApplyDefaultHours fills staffing records that omit their weekly hours.
func (c *Config) ApplyDefaultHours(s domain.Staffing) domain.Staffing {
	if s.HoursPerPersonPerWeek == nil {
		hours := c.Capacity.DefaultHoursPerPersonPerWeek
		s.HoursPerPersonPerWeek = &hours
	}
	return s
}
