package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "buildingsense/backend/libs/config"
	"buildingsense/backend/libs/db"
	"buildingsense/backend/services/sensor-service/internal/source"
)

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DB_DRIVER"`
	DSN    string `yaml:"dsn" env:"DB_DSN"`
}

// SourceConfig points at the building-management API.
type SourceConfig struct {
	BaseURL         string `yaml:"baseUrl" env:"BERINGAR_BASE_URL"`
	Username        string `yaml:"username" env:"BERINGAR_USERNAME"`
	Password        string `yaml:"password" env:"BERINGAR_PASSWORD"`
	CredentialsFile string `yaml:"credentialsFile" env:"BERINGAR_CREDENTIALS_FILE"`
	BuildingNumber  int    `yaml:"buildingNumber" env:"BERINGAR_BUILDING_NUMBER"`
	TimeoutSeconds  int    `yaml:"timeoutSeconds" env:"BERINGAR_HTTP_TIMEOUT"`
}

// IngestConfig tunes ingestion runs.
type IngestConfig struct {
	Window               time.Duration `yaml:"window" env:"INGEST_WINDOW"`
	PollInterval         time.Duration `yaml:"pollInterval" env:"INGEST_POLL_INTERVAL"`
	Sensors              string        `yaml:"sensors" env:"INGEST_SENSORS"`
	StopAtFirstDuplicate bool          `yaml:"stopAtFirstDuplicate" env:"INGEST_STOP_AT_FIRST_DUPLICATE"`
}

// LeaseConfig enables the Redis single-writer lease when RedisAddr is set.
type LeaseConfig struct {
	RedisAddr     string        `yaml:"redisAddr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redisPassword" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redisDb" env:"REDIS_DB"`
	Key           string        `yaml:"key" env:"LEASE_KEY"`
	TTL           time.Duration `yaml:"ttl" env:"LEASE_TTL"`
}

// Config defines sensor service configuration shared by the ingest and api binaries.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Source   SourceConfig   `yaml:"source"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Lease    LeaseConfig    `yaml:"lease"`
	HTTP     struct {
		Port        string   `yaml:"port" env:"SENSOR_API_HTTP_PORT"`
		MetricsPort string   `yaml:"metricsPort" env:"SENSOR_INGEST_METRICS_PORT"`
		CORSOrigins []string `yaml:"corsOrigins" env:"SENSOR_API_CORS_ORIGINS"`
	} `yaml:"http"`
	JWT struct {
		Secret            string `yaml:"secret" env:"SENSOR_API_JWT_SECRET"`
		ExpirationMinutes int    `yaml:"expirationMinutes" env:"SENSOR_API_JWT_EXPIRATION_MINUTES"`
	} `yaml:"jwt"`
	Viewer struct {
		Username     string `yaml:"username" env:"SENSOR_API_VIEWER_USERNAME"`
		PasswordHash string `yaml:"passwordHash" env:"SENSOR_API_VIEWER_PASSWORD_HASH"`
	} `yaml:"viewer"`
}

// Load configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver: db.DriverSQLite,
			DSN:    "database.db",
		},
		Source: SourceConfig{
			BaseURL:         source.DefaultBaseURL,
			CredentialsFile: source.DefaultCredentialsPath,
			BuildingNumber:  1,
			TimeoutSeconds:  30,
		},
		Ingest: IngestConfig{
			Window:       1000 * time.Minute,
			PollInterval: time.Minute,
		},
		Lease: LeaseConfig{
			Key: "buildingsense:ingest:writer",
			TTL: 30 * time.Second,
		},
	}
	cfg.HTTP.Port = "8080"
	cfg.JWT.ExpirationMinutes = 60

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	return cfg, nil
}

// ValidateAPI checks the settings only the read API needs.
func (c *Config) ValidateAPI() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("config: jwt secret required")
	}
	if strings.TrimSpace(c.Viewer.Username) == "" || strings.TrimSpace(c.Viewer.PasswordHash) == "" {
		return errors.New("config: viewer username and password hash required")
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	return address(c.HTTP.Port, "8080")
}

// MetricsAddress returns the ingest metrics listener, empty when disabled.
func (c *Config) MetricsAddress() string {
	if strings.TrimSpace(c.HTTP.MetricsPort) == "" {
		return ""
	}
	return address(c.HTTP.MetricsPort, "")
}

func address(port, fallback string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		port = fallback
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// HTTPTimeout returns source http client timeout.
func (c *Config) HTTPTimeout() time.Duration {
	if c.Source.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// WindowSize returns the backfill window.
func (c *Config) WindowSize() time.Duration {
	if c.Ingest.Window <= 0 {
		return 1000 * time.Minute
	}
	return c.Ingest.Window
}

// PollInterval returns the --watch period.
func (c *Config) PollInterval() time.Duration {
	if c.Ingest.PollInterval <= 0 {
		return time.Minute
	}
	return c.Ingest.PollInterval
}

// LeaseEnabled reports whether a Redis lease guards the writer.
func (c *Config) LeaseEnabled() bool {
	return strings.TrimSpace(c.Lease.RedisAddr) != ""
}

// LeaseTTL returns the writer lease duration.
func (c *Config) LeaseTTL() time.Duration {
	if c.Lease.TTL <= 0 {
		return 30 * time.Second
	}
	return c.Lease.TTL
}

// JWTExpiration returns token lifetime.
func (c *Config) JWTExpiration() time.Duration {
	if c.JWT.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.JWT.ExpirationMinutes) * time.Minute
}
