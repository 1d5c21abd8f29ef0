// Package config loads storefront configuration from an optional .env file, an
// optional YAML file and the process environment, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the variable pointing at the YAML configuration file.
const ConfigFileEnv = "STOREFRONT_CONFIG"

// Config is the full storefront configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	PayPal    PayPalConfig    `yaml:"paypal"`
	Redis     RedisConfig     `yaml:"redis"`
	Mail      MailConfig      `yaml:"mail"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Audit     AuditConfig     `yaml:"audit"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

type ServerConfig struct {
	Host         string        `yaml:"host" env:"SERVER_HOST"`
	Port         int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	CORSOrigins  []string      `yaml:"cors_origins" env:"SERVER_CORS_ORIGINS"`
	// AdminToken guards the audit journal endpoint, which is off when empty.
	AdminToken   string        `yaml:"admin_token" env:"SERVER_ADMIN_TOKEN"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the store. Driver "memory" keeps everything in
// process; "postgres" and "sqlite3" use the SQL store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string        `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

// UsesSQL reports whether the SQL store is configured.
func (d DatabaseConfig) UsesSQL() bool {
	return d.Driver != "" && d.Driver != "memory"
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// PayPalConfig configures checkout and notification verification.
type PayPalConfig struct {
	Sandbox       bool          `yaml:"sandbox" env:"PAYPAL_SANDBOX"`
	SandboxURL    string        `yaml:"sandbox_url" env:"PAYPAL_SANDBOX_URL"`
	ProductionURL string        `yaml:"production_url" env:"PAYPAL_PRODUCTION_URL"`
	Business      string        `yaml:"business" env:"PAYPAL_BUSINESS"`
	NotifyURL     string        `yaml:"notify_url" env:"PAYPAL_NOTIFY_URL"`
	ReturnURL     string        `yaml:"return_url" env:"PAYPAL_RETURN_URL"`
	VerifyTimeout time.Duration `yaml:"verify_timeout" env:"PAYPAL_VERIFY_TIMEOUT"`
}

// VerifyURL returns the endpoint selected by the sandbox switch. The same URL
// serves checkout and notification validation.
func (p PayPalConfig) VerifyURL() string {
	if p.Sandbox {
		return p.SandboxURL
	}
	return p.ProductionURL
}

// RedisConfig enables the catalog cache when Addr is set.
type RedisConfig struct {
	Addr       string        `yaml:"addr" env:"REDIS_ADDR"`
	Password   string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB         int           `yaml:"db" env:"REDIS_DB"`
	CatalogTTL time.Duration `yaml:"catalog_ttl" env:"REDIS_CATALOG_TTL"`
}

// MailConfig selects the relay transport when RelayURL is set, otherwise
// messages are only logged.
type MailConfig struct {
	RelayURL string        `yaml:"relay_url" env:"MAIL_RELAY_URL"`
	APIKey   string        `yaml:"api_key" env:"MAIL_API_KEY"`
	From     string        `yaml:"from" env:"MAIL_FROM"`
	Timeout  time.Duration `yaml:"timeout" env:"MAIL_TIMEOUT"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

type AuditConfig struct {
	Path     string `yaml:"path" env:"AUDIT_LOG_PATH"`
	Capacity int    `yaml:"capacity" env:"AUDIT_CAPACITY"`
}

type JobsConfig struct {
	StalePendingSchedule string        `yaml:"stale_pending_schedule" env:"JOBS_STALE_PENDING_SCHEDULE"`
	StalePendingAge      time.Duration `yaml:"stale_pending_age" env:"JOBS_STALE_PENDING_AGE"`
}

type CatalogConfig struct {
	FixturesPath string `yaml:"fixtures_path" env:"CATALOG_FIXTURES"`
}

// Default returns the built-in configuration: memory store, sandbox PayPal,
// log-only mail.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout", FilePrefix: "storefront"},
		PayPal: PayPalConfig{
			Sandbox:       true,
			SandboxURL:    "https://www.sandbox.paypal.com/cgi-bin/webscr",
			ProductionURL: "https://www.paypal.com/cgi-bin/webscr",
			VerifyTimeout: 30 * time.Second,
		},
		Redis:     RedisConfig{CatalogTTL: 10 * time.Minute},
		Mail:      MailConfig{From: "store@sailfish-mobile.example", Timeout: 10 * time.Second},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		Audit:     AuditConfig{Capacity: 200},
		Jobs:      JobsConfig{StalePendingSchedule: "@every 15m", StalePendingAge: 24 * time.Hour},
	}
}

// Load builds the configuration. A missing .env file is not an error; a
// missing file named by STOREFRONT_CONFIG is.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile builds the configuration from defaults and the YAML file at path,
// without consulting the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres", "sqlite3":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database dsn is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.PayPal.VerifyURL() == "" {
		return errors.New("paypal verification url is not configured")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate limit values must not be negative")
	}
	return nil
}
