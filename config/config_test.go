package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_PATH", "LOG_LEVEL", "RATES_FILE", "CORS_ORIGINS", "BATCH_ENABLED", "BATCH_CRON", "BATCH_WORKERS"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "commission.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.RatesFile)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.Batch.Enabled)
	assert.Equal(t, "@daily", cfg.Batch.Schedule)
	assert.Equal(t, 1, cfg.Batch.Workers)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", "memory")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("RATES_FILE", " rates.json ")
	t.Setenv("CORS_ORIGINS", "https://crm.example.com, http://localhost:3000,")
	t.Setenv("BATCH_ENABLED", "yes")
	t.Setenv("BATCH_CRON", "0 2 * * *")
	t.Setenv("BATCH_WORKERS", "4")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "memory", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "rates.json", cfg.RatesFile)
	assert.Equal(t, []string{"https://crm.example.com", "http://localhost:3000"}, cfg.CORSOrigins)
	assert.True(t, cfg.Batch.Enabled)
	assert.Equal(t, "0 2 * * *", cfg.Batch.Schedule)
	assert.Equal(t, 4, cfg.Batch.Workers)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "eighty")
	t.Setenv("BATCH_ENABLED", "maybe")

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.Batch.Enabled)
}
