package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.AutoPort)
	assert.Equal(t, 60*time.Second, cfg.Interval)
	assert.Equal(t, 120*time.Second, cfg.FetchTimeout)
	assert.True(t, cfg.RunImmediately)
	assert.False(t, cfg.RequireInitialFetch)
	assert.Equal(t, 30*time.Second, cfg.InitialFetchTimeout)
	assert.Empty(t, cfg.RefreshToken)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SAP_PORT", "9090")
	t.Setenv("SAP_INTERVAL", "5m")
	t.Setenv("SAP_REQUIRE_INITIAL_FETCH", "true")
	t.Setenv("SAP_REFRESH_TOKEN", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.True(t, cfg.RequireInitialFetch)
	assert.Equal(t, "s3cret", cfg.RefreshToken)
}

func TestLoadBareSecondsDuration(t *testing.T) {
	t.Setenv("SAP_INTERVAL", "300")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, cfg.Interval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	bad := cfg
	bad.Interval = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.FetchTimeout = -time.Second
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Port = 70000
	assert.Error(t, bad.Validate())
}
