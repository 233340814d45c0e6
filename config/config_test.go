package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"BOT_TOKEN":       "token",
		"DATABASE_URL":    "postgres://localhost/vpn",
		"OUTLINE_API_URL": "https://1.2.3.4:1234/secret/",
		"YOOMONEY_SECRET": "s3cret",
		"YOOMONEY_WALLET": "4100",
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envOf(baseEnv()))
	require.NoError(t, err)

	assert.Equal(t, "https://1.2.3.4:1234/secret", cfg.OutlineAPIURL)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, 10*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 15*time.Second, cfg.CallTimeout)
	assert.False(t, cfg.ResetFlagsOnRenew)
	assert.Zero(t, cfg.AdminTelegramID)
}

func TestFromEnvOverrides(t *testing.T) {
	env := baseEnv()
	env["ADMIN_TELEGRAM_ID"] = "777"
	env["SWEEP_INTERVAL"] = "30m"
	env["RESET_FLAGS_ON_RENEW"] = "true"

	cfg, err := FromEnv(envOf(env))
	require.NoError(t, err)
	assert.Equal(t, int64(777), cfg.AdminTelegramID)
	assert.Equal(t, 30*time.Minute, cfg.SweepInterval)
	assert.True(t, cfg.ResetFlagsOnRenew)
}

func TestFromEnvMissing(t *testing.T) {
	env := baseEnv()
	delete(env, "BOT_TOKEN")
	delete(env, "YOOMONEY_SECRET")

	_, err := FromEnv(envOf(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOT_TOKEN, YOOMONEY_SECRET")
}

func TestFromEnvBadDuration(t *testing.T) {
	env := baseEnv()
	env["SYNC_INTERVAL"] = "-5m"
	_, err := FromEnv(envOf(env))
	assert.Error(t, err)
}
