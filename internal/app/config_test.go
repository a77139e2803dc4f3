package app

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appKey(fill byte) string {
	return "base64:" + base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{fill}, 32))
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CSRF_SECRET", "csrf")
	t.Setenv("APP_KEY", appKey(1))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "Developer", cfg.PrivilegedRole)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.Empty(t, cfg.ResealCron)
	assert.Empty(t, cfg.PreviousKeys())
	assert.False(t, cfg.IsProduction())

	kr, err := cfg.Keyring()
	require.NoError(t, err)
	assert.NotNil(t, kr)
}

func TestLoadConfigRejectsBadKeys(t *testing.T) {
	t.Setenv("CSRF_SECRET", "csrf")

	t.Setenv("APP_KEY", "base64:c2hvcnQ=")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "APP_KEY")

	t.Setenv("APP_KEY", appKey(1))
	t.Setenv("APP_PREVIOUS_KEYS", appKey(2)+", not-a-key")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "APP_PREVIOUS_KEYS[1]")

	t.Setenv("APP_PREVIOUS_KEYS", appKey(2)+","+appKey(3))
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.PreviousKeys(), 2)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("CSRF_SECRET", "csrf")
	t.Setenv("APP_KEY", appKey(1))

	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("RATE_LIMIT_PER_MINUTE", "60")
	t.Setenv("LOG_FORMAT", "xml")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigConnections(t *testing.T) {
	t.Setenv("CSRF_SECRET", "csrf")
	t.Setenv("APP_KEY", appKey(1))
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_PASSWORD", "pw")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("PG_MAX_CONNS", "8")
	t.Setenv("PG_MIN_CONNS", "2")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "redis:6380", cfg.Redis().Addr)
	assert.Equal(t, 3, cfg.Redis().Asynq().DB)
	assert.EqualValues(t, 8, cfg.Pool().MaxConns)
	assert.EqualValues(t, 2, cfg.Pool().MinConns)

	t.Setenv("PG_MIN_CONNS", "9")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "PG_MIN_CONNS")

	t.Setenv("PG_MIN_CONNS", "2")
	t.Setenv("LOG_LEVEL", "loud")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "log level")
}

func TestTestModeFromEnv(t *testing.T) {
	t.Setenv(testModeEnv, "true")
	assert.True(t, RefreshTestMode())
	assert.True(t, InTestMode())

	t.Setenv(testModeEnv, "nope")
	assert.False(t, RefreshTestMode())
	assert.False(t, InTestMode())

	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
}
