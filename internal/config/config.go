package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration shared by the server and the batch tool.
type Config struct {
	DatabaseURL       string        `env:"DATABASE_URL"`
	PGDSN             string        `env:"PG_DSN"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"2m"`
	MigrateOnStart    bool          `env:"MIGRATE_ON_START" envDefault:"false"`

	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	TenantID      string `env:"TENANT_ID" envDefault:"default"`
	JWTSecret     string `env:"AUTH_JWT_SECRET"`
	TriggerSecret string `env:"TRIGGER_SECRET"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	SiteLockTTL   time.Duration `env:"SITE_LOCK_TTL" envDefault:"30s"`

	LookupTimeout         time.Duration `env:"LOOKUP_TIMEOUT" envDefault:"3s"`
	ManufacturerCacheSize int           `env:"MANUFACTURER_CACHE_SIZE" envDefault:"512"`
	BatchInterval         time.Duration `env:"BATCH_INTERVAL" envDefault:"200ms"`
	BulkInterval          time.Duration `env:"BULK_INTERVAL" envDefault:"50ms"`

	EquipmentRegistryFile   string `env:"EQUIPMENT_REGISTRY_FILE" yaml:"equipment_registry_file"`
	DiagnosticsWebhookURL   string `env:"DIAGNOSTICS_WEBHOOK_URL" yaml:"diagnostics_webhook_url"`
	DiagnosticsWebhookToken string `env:"DIAGNOSTICS_WEBHOOK_TOKEN"`
	DiagnosticsBuffer       int    `env:"DIAGNOSTICS_BUFFER" envDefault:"200"`

	Schedule Schedule `yaml:"schedule"`
}

// Schedule holds the cron specs used by the batch scheduler.
type Schedule struct {
	Recalc  string `env:"RECALC_SCHEDULE" envDefault:"0 3 * * *" yaml:"recalc"`
	Closing string `env:"CLOSING_SCHEDULE" envDefault:"0 4 1 * *" yaml:"closing"`
}

// Load reads an optional .env file, parses the environment and applies the
// YAML overlay named by INSTALLOPS_CONFIG.
func Load() (*Config, error) {
	if path := os.Getenv("INSTALLOPS_ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("config: load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if path := os.Getenv("INSTALLOPS_CONFIG"); path != "" {
		if err := cfg.applyOverlay(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read overlay: %w", err)
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: parse overlay: %w", err)
	}
	if overlay.EquipmentRegistryFile != "" {
		c.EquipmentRegistryFile = overlay.EquipmentRegistryFile
	}
	if overlay.DiagnosticsWebhookURL != "" {
		c.DiagnosticsWebhookURL = overlay.DiagnosticsWebhookURL
	}
	if overlay.Schedule.Recalc != "" {
		c.Schedule.Recalc = overlay.Schedule.Recalc
	}
	if overlay.Schedule.Closing != "" {
		c.Schedule.Closing = overlay.Schedule.Closing
	}
	return nil
}

func (c *Config) validate() error {
	if c.ManufacturerCacheSize <= 0 {
		return errors.New("config: MANUFACTURER_CACHE_SIZE must be positive")
	}
	if c.BatchInterval < 0 || c.BulkInterval < 0 {
		return errors.New("config: batch intervals must not be negative")
	}
	if c.DiagnosticsBuffer <= 0 {
		return errors.New("config: DIAGNOSTICS_BUFFER must be positive")
	}
	return nil
}

// DSN returns DATABASE_URL, falling back to PG_DSN.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.PGDSN
}

// RequireServer checks the settings only the HTTP server needs.
func (c *Config) RequireServer() error {
	if c.DSN() == "" {
		return errors.New("config: DATABASE_URL or PG_DSN is required")
	}
	if c.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	return nil
}
