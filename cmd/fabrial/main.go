// Command fabrial runs laboratory sequences and serves operator control.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Maughan-Lab/fabrial-sub000/internal/logging"
)

// Global flags
var (
	configPath   string
	dataDirFlag  string
	dbPathFlag   string
	logLevelFlag string
	logFmtFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "fabrial",
	Short: "Fabrial - laboratory sequence runner",
	Long: `Fabrial runs sequences of instrument steps (hold, set temperature, wait
until a condition holds, loops, operator prompts, background recording).

Each step writes its data and a metadata.json file into a numbered directory
under the run's data directory. Run history is kept in a local database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", settingsPath(), "settings file")
	pf.StringVar(&dataDirFlag, "data-dir", "", "directory runs write into")
	pf.StringVar(&dbPathFlag, "db", "", "run history database (libsql URL)")
	pf.StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&logFmtFlag, "log-format", "", "log format: text or json")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("fabrial {{.Version}}\n")
}

// resolveConfig loads the layered configuration and applies flags set on cmd.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDirFlag
	}
	if flags.Changed("db") {
		cfg.DBPath = dbPathFlag
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevelFlag
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFmtFlag
	}
	return cfg, cfg.validate()
}

// newLogger builds the stderr logger for cfg. The returned level can be
// changed later.
func newLogger(cfg Config) (*slog.Logger, *slog.LevelVar, error) {
	lvl, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	v := new(slog.LevelVar)
	v.Set(lvl)
	logger, err := logging.NewWithLevel(v, cfg.LogFormat, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return logger, v, nil
}
