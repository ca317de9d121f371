package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Maughan-Lab/fabrial-sub000/internal/logging"
	"github.com/Maughan-Lab/fabrial-sub000/internal/scheduler"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/mcp"
)

var (
	serveMetricsAddr string
	serveNoScheduler bool
	serveSimulate    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve operator control over MCP (stdio)",
	Long: `Serve the fabrial control tools over MCP on stdin/stdout. Logs go to
stderr.

Scheduled jobs from the settings file are started unless --no-scheduler is
given. With --metrics-addr (or metrics_addr in settings) Prometheus metrics
are served on /metrics. SIGHUP reloads the settings file; only the log level
is applied without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "listen address for /metrics")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "do not start scheduled jobs")
	serveCmd.Flags().BoolVar(&serveSimulate, "simulate", false, "use a simulated oven when no instruments are configured")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = serveMetricsAddr
	}
	logger, level, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{withStore: true, simulate: serveSimulate})
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcp.NewControlServer(mcp.ControlServerDeps{
		Controller: a,
		Store:      a.store,
		Logger:     logger,
	})
	go func() {
		if err := srv.ForwardEvents(ctx, a.hub); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("event forwarding stopped", slog.String("error", err.Error()))
		}
	}()

	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(ctx, cfg.MetricsAddr, a, logger)
		defer stopMetrics()
	}

	if len(cfg.Jobs) > 0 && !serveNoScheduler {
		sched, err := scheduler.NewScheduler(cfg.Jobs, a, logger)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	go watchReload(ctx, cfg, level, logger)

	logger.Info("fabrial serving", slog.Int("jobs", len(cfg.Jobs)), slog.String("metrics_addr", cfg.MetricsAddr))
	serveErr := srv.Serve(ctx)

	// Stdin closed or signal received: stop the run in progress.
	if runner, ok := a.Current(); ok {
		logger.Info("canceling run on shutdown", slog.String("run_id", runner.RunID()))
		runner.Cancel()
	}
	if errors.Is(serveErr, context.Canceled) {
		return nil
	}
	return serveErr
}

func serveMetrics(ctx context.Context, addr string, a *app, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}
}

// watchReload applies settings changes on SIGHUP.
func watchReload(ctx context.Context, current Config, level *slog.LevelVar, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		next, err := loadConfig(configPath)
		if err == nil {
			err = next.validate()
		}
		if err != nil {
			logger.Warn("settings reload failed", slog.String("error", err.Error()))
			continue
		}
		d := diffConfigs(current, next)
		if d.LogLevelChanged {
			lvl, _ := logging.ParseLevel(next.LogLevel)
			level.Set(lvl)
			logger.Info("log level changed", slog.String("level", next.LogLevel))
		}
		if len(d.RestartNeeded) > 0 {
			logger.Warn("settings changed that need a restart", slog.Any("fields", d.RestartNeeded))
		}
		current.LogLevel = next.LogLevel
	}
}
