package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	require.NotNil(t, cfg.Params.AutoDispatchEnabled)
	assert.True(t, *cfg.Params.AutoDispatchEnabled)
	assert.Equal(t, 10.0, cfg.Params.SearchRadiusKm)
	assert.Equal(t, 5*time.Minute, cfg.Params.ReassignTimeout)
	assert.Equal(t, 0.70, cfg.Settlement.DriverShareRate)
	assert.Equal(t, time.Hour, cfg.Schedule.ReconcileInterval)
	assert.False(t, cfg.Dispatch.RedispatchOnRevert)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatchd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
params:
  search_radius_km: 4.5
  auto_dispatch_enabled: false
dispatch:
  redispatch_on_revert: true
settlement:
  driver_share_rate: 0.8
`), 0o600))
	t.Setenv("DISPATCHD_HTTP__ADDR", ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, 4.5, cfg.Params.SearchRadiusKm)
	assert.False(t, *cfg.Params.AutoDispatchEnabled)
	assert.True(t, cfg.Dispatch.RedispatchOnRevert)
	assert.Equal(t, 0.8, cfg.Settlement.DriverShareRate)
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	_, err := Load("dispatchd.toml")
	assert.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	cfg.Settlement.DriverShareRate = 1.5
	cfg.Params.SearchRadiusKm = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver_share_rate")
	assert.Contains(t, err.Error(), "search_radius_km")
}
