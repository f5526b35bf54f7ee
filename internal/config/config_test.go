package config

import (
	"bayplanner/internal/blob"
	"bayplanner/pkg/domain"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, domain.DefaultHoursPerPersonPerWeek, cfg.Capacity.DefaultHoursPerPersonPerWeek)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bayplanner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: memory
journal:
  enabled: true
  driver: memory
  prefix: audit/
capacity:
  default_hours_per_person_per_week: 32
logging:
  level: debug
metrics:
  exporter: prometheus
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "./bayplanner.db", cfg.Storage.SQLitePath, "unset keys keep defaults")
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "audit/", cfg.Journal.Prefix)
	assert.Equal(t, 32, cfg.Capacity.DefaultHoursPerPersonPerWeek)
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel())
	assert.Equal(t, "prometheus", cfg.Metrics.Exporter)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unterminated"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Run("storage", func(t *testing.T) {
		t.Setenv("BAYPLANNER_STORAGE_DRIVER", "postgres")
		t.Setenv("BAYPLANNER_POSTGRES_DSN", "postgres://floor")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "postgres", cfg.Storage.Driver)
		assert.Equal(t, "postgres://floor", cfg.Storage.PostgresDSN)
	})

	t.Run("blob driver enables journal", func(t *testing.T) {
		t.Setenv("BAYPLANNER_BLOB_DRIVER", "s3")
		t.Setenv("BAYPLANNER_BLOB_S3_BUCKET", "floor-journals")
		t.Setenv("BAYPLANNER_BLOB_S3_PATH_STYLE", "TRUE")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.True(t, cfg.Journal.Enabled)
		opts := cfg.BlobOptions()
		assert.Equal(t, blob.DriverS3, opts.Driver)
		assert.Equal(t, "floor-journals", opts.S3.Bucket)
		assert.True(t, opts.S3.PathStyle)
	})

	t.Run("default hours", func(t *testing.T) {
		t.Setenv("BAYPLANNER_DEFAULT_HOURS", "35")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 35, cfg.Capacity.DefaultHoursPerPersonPerWeek)
	})

	t.Run("default hours must be numeric", func(t *testing.T) {
		t.Setenv("BAYPLANNER_DEFAULT_HOURS", "lots")
		_, err := Load("")
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown storage":      func(c *Config) { c.Storage.Driver = "mongo" },
		"postgres without dsn": func(c *Config) { c.Storage.Driver = "postgres" },
		"s3 without bucket":    func(c *Config) { c.Journal.Enabled, c.Journal.Driver = true, "s3" },
		"unknown journal":      func(c *Config) { c.Journal.Enabled, c.Journal.Driver = true, "ftp" },
		"negative hours":       func(c *Config) { c.Capacity.DefaultHoursPerPersonPerWeek = -1 },
		"bad level":            func(c *Config) { c.Logging.Level = "loud" },
		"unknown exporter":     func(c *Config) { c.Metrics.Exporter = "statsd" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
	require.NoError(t, DefaultConfig().Validate())
	require.ErrorIs(t, func() error {
		cfg := DefaultConfig()
		cfg.Capacity.DefaultHoursPerPersonPerWeek = -1
		return cfg.Validate()
	}(), domain.ErrInvalidCapacity)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bayplanner.yaml")
	cfg := DefaultConfig()
	cfg.Storage.Driver = "memory"
	cfg.Capacity.DefaultHoursPerPersonPerWeek = 40
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestApplyDefaultHours(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity.DefaultHoursPerPersonPerWeek = 35

	filled := cfg.ApplyDefaultHours(domain.Staffing{AssemblyStaffCount: 2})
	require.NotNil(t, filled.HoursPerPersonPerWeek)
	assert.Equal(t, 35, filled.Hours())

	zero := 0
	kept := cfg.ApplyDefaultHours(domain.Staffing{AssemblyStaffCount: 2, HoursPerPersonPerWeek: &zero})
	assert.Equal(t, 0, kept.Hours(), "explicit zero is kept")
}
