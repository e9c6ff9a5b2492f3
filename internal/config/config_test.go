package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
server:
  grpc_addr: ":6000"
auth:
  jwt_secret: s3cret
ledger:
  history_limit: 5
  retry:
    max_attempts: 8
    base_backoff: 1ms
    max_backoff: 20ms
store:
  driver: mysql
mysql:
  host: db
  user: ledger
  db_name: ledger
kafka:
  enabled: true
  brokers: ["k1:9092", "k2:9092"]
  buffer_size: 64
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":6000", cfg.Server.GRPCAddr)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 5, cfg.Ledger.HistoryLimit)
	assert.Equal(t, 8, cfg.Ledger.Retry.MaxAttempts)
	assert.Equal(t, time.Millisecond, cfg.Ledger.Retry.BaseBackoff)
	assert.Equal(t, 20*time.Millisecond, cfg.Ledger.Retry.Policy().MaxBackoff)
	assert.Equal(t, StoreMySQL, cfg.Store.Driver)
	assert.Equal(t, 3306, cfg.MySQL.Port)
	assert.Equal(t, 100, cfg.MySQL.MaxOpenConns)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 64, cfg.Kafka.BufferSize)
	assert.Equal(t, "transaction_committed", cfg.Kafka.Topic)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("LEDGER_JWT_SECRET", "from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, 50, cfg.Ledger.HistoryLimit)
	assert.Equal(t, 5, cfg.Ledger.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Millisecond, cfg.Ledger.Retry.BaseBackoff)
	assert.Equal(t, 50*time.Millisecond, cfg.Ledger.Retry.MaxBackoff)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "ledger", cfg.Redis.KeyPrefix)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeFile(t, `
auth:
  jwt_secret: yaml-secret
store:
  driver: memory
`)
	t.Setenv("LEDGER_JWT_SECRET", "env-secret")
	t.Setenv("LEDGER_STORE_DRIVER", " Redis ")
	t.Setenv("LEDGER_REDIS_ADDRS", "r1:6379, r2:6379,")
	t.Setenv("LEDGER_HISTORY_LIMIT", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, StoreRedis, cfg.Store.Driver)
	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, 7, cfg.Ledger.HistoryLimit)
}

func TestBadEnvValue(t *testing.T) {
	t.Setenv("LEDGER_JWT_SECRET", "x")
	t.Setenv("LEDGER_HISTORY_LIMIT", "many")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEDGER_HISTORY_LIMIT")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{Auth: AuthConfig{JWTSecret: "s"}}
		c.setDefaults()
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }, "unknown store.driver"},
		{"mysql without host", func(c *Config) { c.Store.Driver = StoreMySQL }, "mysql.host"},
		{"postgres without url", func(c *Config) { c.Store.Driver = StorePostgres }, "postgres.url"},
		{"redis without addrs", func(c *Config) { c.Store.Driver = StoreRedis }, "redis.addrs"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka.brokers"},
		{"zero attempts", func(c *Config) { c.Ledger.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"inverted backoff", func(c *Config) { c.Ledger.Retry.MaxBackoff = time.Nanosecond }, "max_backoff"},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
