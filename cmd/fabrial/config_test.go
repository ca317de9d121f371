package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maughan-Lab/fabrial-sub000/internal/scheduler"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
	assert.NoError(t, cfg.validate())
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"data_dir": "/lab/data",
		"log_level": "debug",
		"max_io_failures": 5,
		"instruments": {"furnace": {"kind": "simulated", "ambient": 20, "rate": 1}},
		"jobs": [{"name": "nightly", "cron": "0 2 * * *", "sequence_file": "anneal.yaml"}]
	}`), 0o644))

	t.Setenv("FABRIAL_LOG_LEVEL", "warn")
	t.Setenv("FABRIAL_POLL_INTERVAL", "50ms")
	t.Setenv("FABRIAL_MAX_IO_FAILURES", "not-a-number")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/lab/data", cfg.DataDir)
	assert.Equal(t, "warn", cfg.LogLevel, "env overrides the settings file")
	assert.Equal(t, "50ms", cfg.PollInterval)
	assert.Equal(t, 5, cfg.MaxIOFailures, "unparsable env values are ignored")
	assert.Equal(t, InstrumentConfig{Kind: "simulated", Ambient: 20, Rate: 1}, cfg.Instruments["furnace"])
	require.Len(t, cfg.Jobs, 1)
	assert.Equal(t, "nightly", cfg.Jobs[0].Name)
	assert.Equal(t, "text", cfg.LogFormat, "unset fields keep their defaults")
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data_dir":`), 0o644))

	_, err := loadConfig(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"FABRIAL_DATA_DIR":     "/d",
		"FABRIAL_DB_PATH":      "file:/d/x.db",
		"FABRIAL_LOG_FORMAT":   "json",
		"FABRIAL_METRICS_ADDR": ":9100",
	}
	cfg := defaultConfig()
	applyEnv(&cfg, func(k string) string { return env[k] })

	assert.Equal(t, "/d", cfg.DataDir)
	assert.Equal(t, "file:/d/x.db", cfg.DBPath)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad poll", func(c *Config) { c.PollInterval = "soon" }},
		{"zero poll", func(c *Config) { c.PollInterval = "0s" }},
		{"io failures", func(c *Config) { c.MaxIOFailures = 0 }},
		{"instrument kind", func(c *Config) {
			c.Instruments = map[string]InstrumentConfig{"oven": {Kind: "serial"}}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestDiffConfigs(t *testing.T) {
	old := defaultConfig()

	assert.Equal(t, configDiff{}, diffConfigs(old, old))

	next := old
	next.LogLevel = "debug"
	next.MetricsAddr = ":9100"
	next.Jobs = []scheduler.Job{{Name: "n", Cron: "@daily", SequenceFile: "a.yaml"}}
	next.Instruments = map[string]InstrumentConfig{"oven": {Kind: instrumentSimulated}}

	d := diffConfigs(old, next)
	assert.True(t, d.LogLevelChanged)
	assert.Equal(t, []string{"metrics_addr", "instruments", "jobs"}, d.RestartNeeded)
}
