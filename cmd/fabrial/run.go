package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	runSimulate bool
	runNoStore  bool
)

var runCmd = &cobra.Command{
	Use:   "run <sequence-file>",
	Short: "Run a sequence file in the foreground",
	Long: `Run a sequence file and drive it from the terminal.

Prompts are answered by typing the option number or its text. Between
prompts, type pause, unpause, skip or cancel. Ctrl-C cancels the sequence.

Examples:
  fabrial run anneal.yaml --simulate
  fabrial run ramp.json --data-dir ./out`,
	Args: cobra.ExactArgs(1),
	RunE: runSequence,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "use a simulated oven named \"oven\" when no instruments are configured")
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "do not record the run in the history database")
}

func runSequence(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger, _, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{withStore: !runNoStore, simulate: runSimulate})
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.prepare(args[0])
	if err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	con := &console{in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
	go func() { _ = con.watch(watchCtx, a.hub, runner) }()

	fmt.Fprintf(cmd.OutOrStdout(), "run %s writing to %s\n", runner.RunID(), a.cfg.DataDir)
	return finalError(a.execute(ctx, args[0], runner))
}
