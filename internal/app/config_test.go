package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 15*time.Second, cfg.AppReadTimeout)
	assert.Equal(t, NumberingPostgres, cfg.NumberingBackend)
	assert.Equal(t, 5, cfg.MaxNumberAttempts)
	assert.Equal(t, 30, cfg.InvoiceDueDays)
	assert.Equal(t, "en-US", cfg.CurrencyLocale)
	assert.Equal(t, 7*24*time.Hour, cfg.IdempotencyRetention)
	assert.False(t, cfg.IsProduction())

	billingCfg := cfg.BillingConfig()
	assert.Equal(t, 5, billingCfg.MaxNumberAttempts)
	assert.Equal(t, 30, billingCfg.InvoiceDueDays)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("BILLING_NUMBERING_BACKEND", "redis")
	t.Setenv("BILLING_INVOICE_DUE_DAYS", "45")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, NumberingRedis, cfg.NumberingBackend)
	assert.Equal(t, 45, cfg.InvoiceDueDays)
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	t.Setenv("BILLING_NUMBERING_BACKEND", "mysql")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "BILLING_NUMBERING_BACKEND")
}

func TestLoadConfigRejectsZeroAttempts(t *testing.T) {
	t.Setenv("BILLING_MAX_NUMBER_ATTEMPTS", "0")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("WARNING").String())
	assert.Equal(t, "INFO", parseLevel("").String())
}
