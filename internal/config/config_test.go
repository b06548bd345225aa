package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 60000, cfg.PollingIntervalMs)
	assert.Equal(t, 300000, cfg.PollingHTTPIntervalMs)
	assert.Equal(t, 60000, cfg.PollingIMAPIntervalMs)
	assert.Equal(t, 120000, cfg.PollingPOP3IntervalMs)
	assert.False(t, cfg.AdminEnabled())
}

func TestAdminEnabledRequiresBoth(t *testing.T) {
	os.Clearenv()
	os.Setenv("ADMIN_USERNAME", "root")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.AdminEnabled())

	os.Setenv("ADMIN_PASSWORD", "secret")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.AdminEnabled())
	os.Clearenv()
}

func TestEnvModeHelpers(t *testing.T) {
	os.Clearenv()
	os.Setenv("APP_ENV", "PROD")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.False(t, cfg.IsDev())
	os.Clearenv()
}
