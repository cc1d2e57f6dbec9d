package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("PAYMUX_TEST_STRING", "configured")
	assert.Equal(t, "configured", GetEnv("PAYMUX_TEST_STRING", "fallback"))
	assert.Equal(t, "fallback", GetEnv("PAYMUX_TEST_STRING_MISSING", "fallback"))
}

func TestGetBoolEnv(t *testing.T) {
	t.Setenv("PAYMUX_TEST_BOOL", "true")
	assert.True(t, GetBoolEnv("PAYMUX_TEST_BOOL", false))

	t.Setenv("PAYMUX_TEST_BOOL", "false")
	assert.False(t, GetBoolEnv("PAYMUX_TEST_BOOL", true))

	t.Setenv("PAYMUX_TEST_BOOL", "not-a-bool")
	assert.True(t, GetBoolEnv("PAYMUX_TEST_BOOL", true))

	assert.True(t, GetBoolEnv("PAYMUX_TEST_BOOL_MISSING", true))
}

func TestGetIntEnv(t *testing.T) {
	t.Setenv("PAYMUX_TEST_INT", "42")
	assert.Equal(t, 42, GetIntEnv("PAYMUX_TEST_INT", 7))

	t.Setenv("PAYMUX_TEST_INT", "not-a-number")
	assert.Equal(t, 7, GetIntEnv("PAYMUX_TEST_INT", 7))

	assert.Equal(t, 7, GetIntEnv("PAYMUX_TEST_INT_MISSING", 7))
}

func TestGetAppConfigDefaults(t *testing.T) {
	appConfigInstance = nil
	cfg := GetAppConfig()

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "UK", cfg.DefaultRegion)
	assert.Equal(t, "balanced", cfg.DefaultStrategy)
	assert.Equal(t, 7, cfg.FeedWindowDays)
	assert.Equal(t, time.Minute, cfg.FeedRefreshInterval)
	assert.Equal(t, 30*time.Second, cfg.AttemptTimeout)
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 100, cfg.RateLimitPerMinute)

	// The instance is a singleton.
	assert.Same(t, cfg, GetAppConfig())
}

func TestRandomString(t *testing.T) {
	first := RandomString(24)
	second := RandomString(24)

	assert.Len(t, first, 24)
	assert.Len(t, second, 24)
	assert.NotEqual(t, first, second)
}
