package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8002", cfg.HTTPPort)
	assert.Equal(t, 2*time.Second, cfg.SpeedLimitTimeout)
	assert.Equal(t, 90, cfg.SpeedLimitDefault)
	assert.Equal(t, 100*time.Millisecond, cfg.PacerInterval)
	assert.Equal(t, "run", cfg.PacerScope)
	assert.Equal(t, 5*time.Minute, cfg.CacheSweepInterval)
	assert.InDelta(t, 0.8, cfg.StaleFraction, 1e-9)
	assert.Empty(t, cfg.ValidAPIKeys)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("PACER_SCOPE", "GLOBAL")
	t.Setenv("SPEED_LIMIT_TIMEOUT_MS", "750")
	t.Setenv("VALID_API_KEYS", "a, b,,c")
	t.Setenv("REDIS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.HTTPPort)
	assert.Equal(t, "global", cfg.PacerScope)
	assert.Equal(t, 750*time.Millisecond, cfg.SpeedLimitTimeout)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.ValidAPIKeys)
	assert.False(t, cfg.RedisEnabled)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("PACER_SCOPE", "per-key")
	_, err := Load()
	assert.ErrorContains(t, err, "PACER_SCOPE")

	t.Setenv("PACER_SCOPE", "run")
	t.Setenv("STALE_FRACTION", "1.5")
	_, err = Load()
	assert.ErrorContains(t, err, "STALE_FRACTION")
}
