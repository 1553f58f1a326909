package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "lpbf.db", cfg.Database.DSN)
	assert.Equal(t, 5, cfg.Allocation.MaxAttempts)
	require.NotNil(t, cfg.Allocation.MatchMachine)
	assert.True(t, *cfg.Allocation.MatchMachine)
	assert.Equal(t, 10*time.Second, cfg.Allocation.ReasoningTimeout)
	assert.Equal(t, 30*time.Second, cfg.Estimation.Timeout)
	assert.Equal(t, time.Hour, cfg.Estimation.CacheTTL)
	assert.Equal(t, 60*time.Second, cfg.Drafting.Timeout)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, 5*time.Minute, cfg.WorkerPool.RetryInterval)
	require.NotNil(t, cfg.Pricing.NotifyMinReductionEUR)
	assert.Equal(t, "0.01", cfg.Pricing.NotifyMinReductionEUR.String())
	assert.False(t, cfg.Push.Enabled())
}

func TestLoad_Sections(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "file:test.db"
allocation:
  match_machine: false
machines:
  - name: M2_neu
    platform_area_cm2: 625
    material_groups: [IN718_IN625, "1.4404"]
pricing:
  rates:
    M2_neu_IN718_IN625:
      platform_setup_eur: 40
      shared_time_h: "3.5"
drafting:
  base_url: http://drafting.local
  timeout_seconds: 5
  requests_per_second: 2
push:
  vapid_public_key: pub
  vapid_private_key: priv
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, *cfg.Allocation.MatchMachine)
	m, ok := cfg.Machine("M2_neu")
	require.True(t, ok)
	assert.Equal(t, "625", m.PlatformAreaCM2.String())
	assert.Equal(t, []string{"IN718_IN625", "1.4404"}, m.MaterialGroups)

	rate := cfg.Pricing.Rates["M2_neu_IN718_IN625"]
	assert.Equal(t, "40", rate.PlatformSetupEUR.String())
	assert.Equal(t, "3.5", rate.SharedTimeH.String())

	assert.Equal(t, "http://drafting.local", cfg.Drafting.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Drafting.Timeout)
	assert.Equal(t, 2.0, cfg.Drafting.RequestsPerSecond)
	assert.True(t, cfg.Push.Enabled())
}

func TestLoad_ZeroNotificationThreshold(t *testing.T) {
	cfg, err := Load(writeConfig(t, "pricing:\n  notify_min_reduction_eur: 0\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Pricing.NotifyMinReductionEUR)
	assert.True(t, cfg.Pricing.NotifyMinReductionEUR.IsZero())

	_, err = Load(writeConfig(t, "pricing:\n  notify_min_reduction_eur: -1\n"))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesDSN(t *testing.T) {
	t.Setenv("LPBF_DATABASE_DSN", "postgres://planner@db/lpbf")
	cfg, err := Load(writeConfig(t, "database:\n  dsn: local.db\n"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://planner@db/lpbf", cfg.Database.DSN)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "machines:\n  - name: M2\n    platform_area_cm2: 0\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "machines:\n  - name: M2\n    platform_area_cm2: 10\n  - name: M2\n    platform_area_cm2: 10\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
