package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBTCAddress = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	testETHAddress = "0x52908400098527886E0F7030069857D2E4169EE7"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("SERVICE_TOKEN", "service")
	t.Setenv("BTC_DEPOSIT_ADDRESS", testBTCAddress)
	t.Setenv("ETH_DEPOSIT_ADDRESS", testETHAddress)
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 6532, cfg.APIPort)
	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
	assert.Equal(t, 24*time.Hour, cfg.AccrualPeriod)
	assert.Equal(t, 4, cfg.AccrualWorkers)
	assert.Equal(t, 2*time.Hour, cfg.PaymentTimeout)
	assert.False(t, cfg.AllowSimulatedConfirm)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "host=localhost user=postgres password=password dbname=hashrent port=5432 sslmode=disable", cfg.DSN())
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEVELOPMENT", "true")
	t.Setenv("STORAGE_DRIVER", StorageMemory)
	t.Setenv("ACCRUAL_PERIOD", "30s")
	t.Setenv("ACCRUAL_WORKERS", "8")
	t.Setenv("ALLOW_SIMULATED_CONFIRM", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TELEGRAM_ALERT_CHATS", "1001,1002")
	// unparsable values fall back to defaults
	t.Setenv("API_PORT", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, 30*time.Second, cfg.AccrualPeriod)
	assert.Equal(t, 8, cfg.AccrualWorkers)
	assert.True(t, cfg.AllowSimulatedConfirm)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, []string{"1001", "1002"}, cfg.TelegramAlertChats)
	assert.Equal(t, 6532, cfg.APIPort)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StorageDriver:         StoragePostgres,
			PostgresDB:            "hashrent",
			PostgresHost:          "localhost",
			JWTSecret:             "secret",
			ServiceToken:          "service",
			BTCDepositAddress:     testBTCAddress,
			ETHDepositAddress:     testETHAddress,
			AccrualPeriod:         time.Hour,
			AccrualWorkers:        1,
			AccrualLockTTL:        time.Minute,
			PaymentTimeout:        time.Hour,
			PaymentExpiryInterval: time.Minute,
			PricingRefresh:        time.Minute,
			RateLimitRPS:          1,
			RateLimitBurst:        1,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }},
		{"missing service token", func(c *Config) { c.ServiceToken = "" }},
		{"bad btc address", func(c *Config) { c.BTCDepositAddress = "xyz" }},
		{"bad eth address", func(c *Config) { c.ETHDepositAddress = "0x1234" }},
		{"memory outside development", func(c *Config) { c.StorageDriver = StorageMemory }},
		{"unknown driver", func(c *Config) { c.StorageDriver = "mysql" }},
		{"simulate outside development", func(c *Config) { c.AllowSimulatedConfirm = true }},
		{"zero period", func(c *Config) { c.AccrualPeriod = 0 }},
		{"no workers", func(c *Config) { c.AccrualWorkers = 0 }},
		{"zero payment timeout", func(c *Config) { c.PaymentTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
