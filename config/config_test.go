package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-ledger/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LEDGER_CONFIG", "PORT", "PAYMENT_RETRIES", "ENVIRONMENT", "LOG_LEVEL", "DB_DRIVER",
		"SQLITE_PATH", "DATABASE_URL", "CORS_ORIGINS", "KAFKA_BROKERS", "KAFKA_TOPIC",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, config.DriverSQLite, cfg.Database.Driver)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
log_level: debug
cors_origins: ["https://shop.example.com"]
database:
  sqlite_path: /tmp/shop.db
kafka:
  brokers: ["kafka-1:9092"]
payment_retries: 5
`), 0o600))

	// GIVEN: env overrides the file's port
	t.Setenv("PORT", "9100")

	cfg, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"https://shop.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, "/tmp/shop.db", cfg.Database.SQLitePath)
	assert.Equal(t, []string{"kafka-1:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "ledger-events", cfg.Kafka.Topic)
	assert.Equal(t, 5, cfg.PaymentRetries)
}

func TestLoad_DatabaseURLSelectsPostgres(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://ledger@localhost/ledger")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, config.DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)

	t.Setenv("PORT", "eighty")
	_, err := config.Load("")
	assert.Error(t, err)

	t.Setenv("PORT", "")
	t.Setenv("DB_DRIVER", "postgres")
	_, err = config.Load("")
	assert.ErrorContains(t, err, "database url required")

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
