package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, time.Second, cfg.PayU.MinInterval)
	assert.Equal(t, 3, cfg.PayU.MaxRetries)
	assert.Equal(t, 5, cfg.PayU.BreakerThreshold)
	assert.Equal(t, 60*time.Second, cfg.PayU.BreakerCooldown)
	assert.Equal(t, 5*time.Minute, cfg.PayU.CacheTTL)
	assert.Equal(t, 30*time.Minute, cfg.Checkout.SessionTTL)
	assert.True(t, cfg.Checkout.TaxRate.IsZero())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STOREFRONT_ADDR", ":9090")
	t.Setenv("PAYU_KEY", "gtKFFx")
	t.Setenv("BASE_URL", "https://shop.example.com")
	t.Setenv("PAYU_BREAKER_COOLDOWN", "2m")
	t.Setenv("CHECKOUT_FLAT_SHIPPING", "49.50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "gtKFFx", cfg.PayU.Key)
	assert.Equal(t, 2*time.Minute, cfg.PayU.BreakerCooldown)
	assert.True(t, decimal.RequireFromString("49.5").Equal(cfg.Checkout.FlatShipping))
	assert.Equal(t, "https://shop.example.com/api/v1/payment/success", cfg.PayU.SuccessURL())
	assert.Equal(t, "https://shop.example.com/api/v1/payment/failure", cfg.PayU.FailureURL())
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("PAYU_DEDUP_TTL", "soon")
	_, err := Load()
	assert.Error(t, err)
}
