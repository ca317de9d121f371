package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Maughan-Lab/fabrial-sub000/internal/expressions"
	"github.com/Maughan-Lab/fabrial-sub000/internal/store"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

var (
	historyLimit  int
	historyStatus string
	historyJQ     string
	historyJSON   bool
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded runs",
	Long: `List recorded runs, newest first, or show the events and step records of
one run.

The --jq expression receives {"runs": [...]} when listing, and
{"run": ..., "events": [...], "steps": [...]} for a single run.

Examples:
  fabrial history
  fabrial history --status canceled --limit 5
  fabrial history 3f2a... --json
  fabrial history --jq '[.runs[] | select(.sequence_file | endswith("anneal.yaml")) | .id]'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only runs that ended in this status")
	historyCmd.Flags().StringVar(&historyJQ, "jq", "", "jq expression applied to the result")
	historyCmd.Flags().BoolVarP(&historyJSON, "json", "j", false, "output as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, nil, appOptions{withStore: true})
	if err != nil {
		return err
	}
	defer a.Close()
	if a.store == nil {
		return fmt.Errorf("no history database configured")
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if len(args) == 1 {
		detail, err := loadRunDetail(ctx, a.store, args[0])
		if err != nil {
			return err
		}
		if historyJQ != "" || historyJSON {
			return emitJSON(ctx, out, detail, historyJQ)
		}
		return printRunDetail(out, detail)
	}

	filter := store.RunFilter{Limit: historyLimit}
	if historyStatus != "" {
		filter.Status = schema.Status(historyStatus)
		if !filter.Status.Valid() {
			return fmt.Errorf("unknown status %q", historyStatus)
		}
	}
	runs, err := a.store.ListRuns(ctx, filter)
	if err != nil {
		return err
	}
	if historyJQ != "" || historyJSON {
		return emitJSON(ctx, out, map[string]any{"runs": runs}, historyJQ)
	}
	return printRuns(out, runs)
}

type runDetail struct {
	Run    *store.Run          `json:"run"`
	Events []*store.Event      `json:"events"`
	Steps  []*store.StepRecord `json:"steps"`
}

func loadRunDetail(ctx context.Context, st store.Store, id string) (*runDetail, error) {
	run, err := st.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := st.GetEvents(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	steps, err := st.ListStepRecords(ctx, id)
	if err != nil {
		return nil, err
	}
	return &runDetail{Run: run, Events: events, Steps: steps}, nil
}

// emitJSON writes v as indented JSON. With a jq filter, each output of the
// filter is written as its own document.
func emitJSON(ctx context.Context, w io.Writer, v any, filter string) error {
	docs := []any{v}
	if filter != "" {
		var err error
		if docs, err = expressions.NewJQEngine().FilterHistory(ctx, filter, v); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	for _, d := range docs {
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	return nil
}

func printRuns(w io.Writer, runs []*store.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tDURATION\tSEQUENCE")
	for _, r := range runs {
		started, took := "-", "-"
		if r.StartedAt != nil {
			started = r.StartedAt.Local().Format(time.DateTime)
			if r.FinishedAt != nil {
				took = r.FinishedAt.Sub(*r.StartedAt).Round(time.Second).String()
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, started, took, r.SequenceFile)
	}
	return tw.Flush()
}

func printRunDetail(w io.Writer, d *runDetail) error {
	fmt.Fprintf(w, "run %s (%s) %s\n", d.Run.ID, d.Run.Status, d.Run.SequenceFile)
	if d.Run.Error != "" {
		fmt.Fprintf(w, "error: %s\n", d.Run.Error)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTIME\tEVENT\tSTEP\tSTATUS\tMESSAGE")
	for _, ev := range d.Events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", ev.Sequence,
			ev.Timestamp.Local().Format(time.TimeOnly), ev.Type, ev.Step, ev.Status, ev.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(d.Steps) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DIRECTORY\tSTEP\tSTATUS")
	for _, s := range d.Steps {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Directory, s.Step, s.Status)
	}
	return tw.Flush()
}
