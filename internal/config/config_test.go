package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STRIPE_API_KEY", "")
	t.Setenv("ENV", "")
	t.Setenv("PORT", "")
	t.Setenv("RAIL_TIMEOUT", "")
	t.Setenv("PAYOUT_INTERVAL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultRailTimeout, cfg.RailTimeout)
	assert.Equal(t, DefaultPayoutInterval, cfg.PayoutInterval)
	assert.Equal(t, DefaultDriftThreshold, cfg.DriftThreshold)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RAIL_TIMEOUT", "5s")
	t.Setenv("PAYOUT_INTERVAL", "500ms")
	t.Setenv("RATE_LIMIT_RPM", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.RailTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.PayoutInterval)
	assert.Equal(t, 30, cfg.RateLimitRPM)
}

func TestValidate_ProductionRequiresRails(t *testing.T) {
	cfg := &Config{
		Env:         "production",
		RailTimeout: time.Second,
	}
	assert.Error(t, cfg.Validate())

	cfg.StripeAPIKey = "sk_live_xxx"
	assert.Error(t, cfg.Validate()) // still missing DATABASE_URL

	cfg.DatabaseURL = "postgres://localhost/settlement"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadDurations(t *testing.T) {
	cfg := &Config{Env: "development", RailTimeout: 0}
	assert.Error(t, cfg.Validate())

	cfg.RailTimeout = time.Second
	cfg.PayoutInterval = -time.Second
	assert.Error(t, cfg.Validate())
}
