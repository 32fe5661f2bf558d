package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/membership/pkg/types"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("APP_CONFIG_FILE", path)
}

func TestNew_DefaultsAndFile(t *testing.T) {
	writeConfig(t, `
membership:
  renewal_days: 14
  plans:
    - name: annual
      amount: 10000
      currency: usd
      billing_cycle: yearly
      duration_days: 365
`)
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, EnvDev, cfg.Env)
	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, "Stripe-Signature", cfg.Stripe.SignatureHeader)
	assert.Equal(t, 14, cfg.Membership.RenewalDays)
	assert.Equal(t, 365, cfg.Membership.DefaultTermDays)
	assert.Equal(t, 7*24*time.Hour, cfg.Membership.ReminderDedupWindow())
	assert.Equal(t, 90*24*time.Hour, cfg.Membership.NotificationRetention())
	assert.Equal(t, time.Minute, cfg.Membership.DispatchInterval)
	assert.False(t, cfg.Redis.Enabled())

	plan := cfg.PlanByName("annual")
	require.NotNil(t, plan)
	assert.Equal(t, int64(10000), plan.Amount)
	assert.Equal(t, types.BillingCycleYearly, plan.BillingCycle)
	assert.Nil(t, cfg.PlanByName("lifetime"))
}

func TestNew_EnvOverrides(t *testing.T) {
	writeConfig(t, "log_level: info\n")
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("APP_MEMBERSHIP_SWEEP_INTERVAL", "6h")
	t.Setenv("APP_REDIS_ADDR", "localhost:6379")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 6*time.Hour, cfg.Membership.SweepInterval)
	assert.True(t, cfg.Redis.Enabled())
}

func TestNew_Validation(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"prod needs webhook secret", "env: prod\n", "webhook_secret"},
		{"negative renewal days", "membership:\n  renewal_days: -1\n", "renewal_days"},
		{"zero dedup window", "membership:\n  reminder_dedup_days: 0\n", "reminder_dedup_days"},
		{"invalid plan", "membership:\n  plans:\n    - name: broken\n      currency: usd\n", "amount must be > 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			writeConfig(t, tc.body)
			_, err := New()
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
