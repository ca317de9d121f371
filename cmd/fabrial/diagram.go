package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Maughan-Lab/fabrial-sub000/internal/diagram"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

var (
	diagramFormat string
	diagramRun    string
)

var diagramCmd = &cobra.Command{
	Use:   "diagram <sequence-file>",
	Short: "Render a sequence file as a Mermaid flowchart or ASCII outline",
	Long: `Render a sequence file. With --run, steps are marked with the status they
ended in during that recorded run.

Examples:
  fabrial diagram anneal.yaml
  fabrial diagram anneal.yaml --format ascii --run 3f2a...`,
	Args: cobra.ExactArgs(1),
	RunE: runDiagram,
}

func init() {
	rootCmd.AddCommand(diagramCmd)

	diagramCmd.Flags().StringVarP(&diagramFormat, "format", "f", "mermaid", "output format: mermaid or ascii")
	diagramCmd.Flags().StringVar(&diagramRun, "run", "", "overlay statuses from this recorded run")
}

func runDiagram(cmd *cobra.Command, args []string) error {
	if diagramFormat != "mermaid" && diagramFormat != "ascii" {
		return fmt.Errorf("format must be mermaid or ascii")
	}
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, nil, appOptions{withStore: diagramRun != ""})
	if err != nil {
		return err
	}
	defer a.Close()

	root, err := a.load(args[0])
	if err != nil {
		return err
	}

	var statuses map[string]schema.Status
	if diagramRun != "" {
		if a.store == nil {
			return fmt.Errorf("no history database configured")
		}
		records, err := a.store.ListStepRecords(cmd.Context(), diagramRun)
		if err != nil {
			return err
		}
		overlay := make([]diagram.StepStatus, 0, len(records))
		for _, r := range records {
			overlay = append(overlay, diagram.StepStatus{Step: r.Step, Status: r.Status})
		}
		statuses = diagram.StatusesFromRecords(overlay)
	}

	model, err := diagram.Build(filepath.Base(args[0]), root, statuses)
	if err != nil {
		return err
	}
	out := diagram.RenderMermaid(model)
	if diagramFormat == "ascii" {
		out = diagram.RenderASCII(model)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}
