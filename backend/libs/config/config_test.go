package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn" env:"SAMPLE_DSN"`
	} `yaml:"database"`
	Ingest struct {
		Window  time.Duration `yaml:"window"`
		Verbose bool          `yaml:"verbose"`
	} `yaml:"ingest"`
	Fields []string `yaml:"fields" env:"SAMPLE_FIELDS"`
	Secret string   `yaml:"secret" env:"-"`
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: sqlite3
  dsn: file.db
ingest:
  window: 10m
secret: from-file
`), 0o600))

	t.Setenv(FileEnv, path)
	t.Setenv("SAMPLE_DSN", "override.db")
	t.Setenv("INGEST_WINDOW", "1000m")
	t.Setenv("INGEST_VERBOSE", "true")
	t.Setenv("SAMPLE_FIELDS", "co2, temperature,,occupancy")
	t.Setenv("SECRET", "ignored")

	var cfg sampleConfig
	require.NoError(t, LoadConfig(&cfg))

	require.Equal(t, "sqlite3", cfg.Database.Driver)
	require.Equal(t, "override.db", cfg.Database.DSN)
	require.Equal(t, 1000*time.Minute, cfg.Ingest.Window)
	require.True(t, cfg.Ingest.Verbose)
	require.Equal(t, []string{"co2", "temperature", "occupancy"}, cfg.Fields)
	require.Equal(t, "from-file", cfg.Secret)
}

func TestLoadConfigRejectsBadTargets(t *testing.T) {
	require.Error(t, LoadConfig(nil))

	var notStruct int
	require.Error(t, LoadConfig(&notStruct))
}

func TestLoadConfigReportsParseErrors(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("INGEST_WINDOW", "soon")

	var cfg sampleConfig
	err := LoadConfig(&cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "INGEST_WINDOW")
}
