package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/Maughan-Lab/fabrial-sub000/internal/logging"
	"github.com/Maughan-Lab/fabrial-sub000/internal/scheduler"
)

// Config holds all fabrial configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	DataDir       string                      `json:"data_dir"`
	DBPath        string                      `json:"db_path"`
	LogLevel      string                      `json:"log_level"`
	LogFormat     string                      `json:"log_format"`
	PollInterval  string                      `json:"poll_interval"`
	MaxIOFailures int                         `json:"max_io_failures"`
	MetricsAddr   string                      `json:"metrics_addr"`
	Instruments   map[string]InstrumentConfig `json:"instruments,omitempty"`
	Jobs          []scheduler.Job             `json:"jobs,omitempty"`
}

// InstrumentConfig describes one named instrument. Only the simulated oven
// ships with this module.
type InstrumentConfig struct {
	Kind    string  `json:"kind"`
	Ambient float64 `json:"ambient"`
	Rate    float64 `json:"rate"`
}

const instrumentSimulated = "simulated"

func defaultConfig() Config {
	dir := fabrialDir()
	return Config{
		DataDir:       filepath.Join(dir, "data"),
		DBPath:        "file:" + filepath.Join(dir, "fabrial.db"),
		LogLevel:      "info",
		LogFormat:     "text",
		PollInterval:  "20ms",
		MaxIOFailures: 3,
	}
}

func fabrialDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fabrial"
	}
	return filepath.Join(home, ".fabrial")
}

func settingsPath() string {
	return filepath.Join(fabrialDir(), "settings.json")
}

// loadConfig layers settings file and environment over the defaults. A
// missing settings file is not an error; a malformed one is.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json.
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	// Layer 3: env vars override.
	applyEnv(&cfg, os.Getenv)
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("FABRIAL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := getenv("FABRIAL_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("FABRIAL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("FABRIAL_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("FABRIAL_POLL_INTERVAL"); v != "" {
		cfg.PollInterval = v
	}
	if v := getenv("FABRIAL_MAX_IO_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIOFailures = n
		}
	}
	if v := getenv("FABRIAL_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}

// validate checks values the engine would otherwise reject late.
func (c Config) validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is empty"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("invalid log format %q", c.LogFormat))
	}
	if d, err := time.ParseDuration(c.PollInterval); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("invalid poll interval %q", c.PollInterval))
	}
	if c.MaxIOFailures < 1 {
		errs = append(errs, fmt.Errorf("max_io_failures must be at least 1, got %d", c.MaxIOFailures))
	}
	for name, ic := range c.Instruments {
		if ic.Kind != instrumentSimulated {
			errs = append(errs, fmt.Errorf("instrument %q: unsupported kind %q", name, ic.Kind))
		}
	}
	return errors.Join(errs...)
}

// pollInterval returns the parsed poll interval. Call validate first.
func (c Config) pollInterval() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.DataDir != new.DataDir {
		d.RestartNeeded = append(d.RestartNeeded, "data_dir")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.LogFormat != new.LogFormat {
		d.RestartNeeded = append(d.RestartNeeded, "log_format")
	}
	if old.PollInterval != new.PollInterval {
		d.RestartNeeded = append(d.RestartNeeded, "poll_interval")
	}
	if old.MaxIOFailures != new.MaxIOFailures {
		d.RestartNeeded = append(d.RestartNeeded, "max_io_failures")
	}
	if old.MetricsAddr != new.MetricsAddr {
		d.RestartNeeded = append(d.RestartNeeded, "metrics_addr")
	}
	if !maps.Equal(old.Instruments, new.Instruments) {
		d.RestartNeeded = append(d.RestartNeeded, "instruments")
	}
	if !slices.Equal(old.Jobs, new.Jobs) {
		d.RestartNeeded = append(d.RestartNeeded, "jobs")
	}
	return d
}
