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
	path := filepath.Join(t.TempDir(), "cashutrack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4*time.Second, cfg.PollInterval)
	assert.Equal(t, 24*time.Hour, cfg.BackoffCap)
	assert.Equal(t, 10, cfg.MaxTransientFailures)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "data/pending_tokens.db", cfg.StorePath)
	assert.Equal(t, "/check", cfg.CheckPath)
	assert.Equal(t, 4*time.Second, cfg.EffectiveBackoffBase())
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
poll_interval: 2s
backoff_base: 1s
backoff_cap: 1h30m
max_transient_failures: 5
claimed_dispose_after: 10m
store_driver: json
store_path: /var/lib/cashutrack/pending.json
debug: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Second, cfg.EffectiveBackoffBase())
	assert.Equal(t, 90*time.Minute, cfg.BackoffCap)
	assert.Equal(t, 5, cfg.MaxTransientFailures)
	assert.Equal(t, 10*time.Minute, cfg.ClaimedDisposeAfter)
	assert.Equal(t, DriverJSON, cfg.StoreDriver)
	assert.Equal(t, "/var/lib/cashutrack/pending.json", cfg.StorePath)
	assert.True(t, cfg.Debug)
	assert.Equal(t, Default().CheckTimeout, cfg.CheckTimeout, "unset keys keep defaults")
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "poll_interval: 2s\nstore_driver: json\n")
	t.Setenv("CASHUTRACK_POLL_INTERVAL", "750ms")
	t.Setenv("CASHUTRACK_MAX_TRANSIENT_FAILURES", "3")
	t.Setenv("CASHUTRACK_DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 3, cfg.MaxTransientFailures)
	assert.True(t, cfg.Debug)
	assert.Equal(t, DriverJSON, cfg.StoreDriver)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("CASHUTRACK_POLL_INTERVAL", "soon")
	_, err := Load("")
	assert.ErrorContains(t, err, "parse env")
}

func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, "poll_intervall: 2s\n"))
	assert.ErrorContains(t, err, "poll_intervall")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestValidate_Rejects(t *testing.T) {
	tests := map[string]struct {
		mutate func(*Config)
		field  string
	}{
		"unknown driver":      {func(c *Config) { c.StoreDriver = "redis" }, "store_driver"},
		"zero poll interval":  {func(c *Config) { c.PollInterval = 0 }, "poll_interval_ms"},
		"cap below base":      {func(c *Config) { c.BackoffBase = time.Hour; c.BackoffCap = time.Minute }, "backoff_cap_ms"},
		"no failure budget":   {func(c *Config) { c.MaxTransientFailures = 0 }, "max_transient_failures"},
		"empty store path":    {func(c *Config) { c.StorePath = "" }, "store_path"},
		"relative check path": {func(c *Config) { c.CheckPath = "check" }, "check_path"},
		"negative dispose":    {func(c *Config) { c.ClaimedDisposeAfter = -time.Minute }, "claimed_dispose_after_ms"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestEngineOptions(t *testing.T) {
	cfg := Default()
	assert.Len(t, cfg.EngineOptions(), 7)
}
