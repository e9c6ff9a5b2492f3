package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 3306, User: "ledger", Password: "secret", DBName: "bank"}
	assert.Equal(t, "ledger:secret@tcp(db:3306)/bank?charset=utf8mb4&parseTime=True&loc=UTC", cfg.DSN())
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"info", "warn", "error", "silent", ""} {
		assert.NotNil(t, newLogger(level), level)
	}
}
