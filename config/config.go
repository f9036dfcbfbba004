// Package config loads server configuration.
//
// Sources, later ones win: built-in defaults, an optional YAML file, a .env
// file, process environment. Command-line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the complete server configuration.
type Config struct {
	Port        int      `yaml:"port"`
	Environment string   `yaml:"environment"`
	LogLevel    string   `yaml:"log_level"`
	CORSOrigins []string `yaml:"cors_origins"`

	Database Database `yaml:"database"`
	Kafka    Kafka    `yaml:"kafka"`

	// PaymentRetries is how often a payment that lost a serialization
	// race is retried before the conflict reaches the client.
	PaymentRetries int `yaml:"payment_retries"`
}

type Database struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
	URL        string `yaml:"url"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:        8080,
		Environment: "development",
		LogLevel:    "info",
		CORSOrigins: []string{"http://localhost:5173"},
		Database: Database{
			Driver:     DriverSQLite,
			SQLitePath: "./data/ledger.db",
		},
		Kafka:          Kafka{Topic: "ledger-events"},
		PaymentRetries: 3,
	}
}

// Load builds the configuration. path may be empty, in which case
// LEDGER_CONFIG is consulted. A missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("LEDGER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("config: load .env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("PAYMENT_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PAYMENT_RETRIES: %w", err)
		}
		cfg.PaymentRetries = n
	}

	cfg.Environment = getenvDefault("ENVIRONMENT", cfg.Environment)
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.Database.Driver = getenvDefault("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.SQLitePath = getenvDefault("SQLITE_PATH", cfg.Database.SQLitePath)
	cfg.Kafka.Topic = getenvDefault("KAFKA_TOPIC", cfg.Kafka.Topic)

	// DATABASE_URL alone selects PostgreSQL unless a driver was set explicitly
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		if os.Getenv("DB_DRIVER") == "" {
			cfg.Database.Driver = DriverPostgres
		}
	}
	if v := splitCSV(os.Getenv("CORS_ORIGINS")); len(v) > 0 {
		cfg.CORSOrigins = v
	}
	if v := splitCSV(os.Getenv("KAFKA_BROKERS")); len(v) > 0 {
		cfg.Kafka.Brokers = v
	}
	return nil
}

// Validate reports configuration that cannot start a server.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.PaymentRetries < 0 {
		return fmt.Errorf("config: payment_retries must not be negative")
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return errors.New("config: sqlite_path required")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("config: database url required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	return nil
}

// IsProduction selects the JSON logger.
func (c Config) IsProduction() bool { return c.Environment == "production" }

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
