package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Maughan-Lab/fabrial-sub000/internal/tree"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

var validateCmd = &cobra.Command{
	Use:   "validate <sequence-file>",
	Short: "Check a sequence file without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		logger, _, err := newLogger(cfg)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		root, warnings, err := a.codec.Check(args[0])
		if err != nil {
			return err
		}
		printTree(cmd, root)
		for _, w := range warnings {
			fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", w)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d top-level steps\n", args[0], len(root.Steps()))
		return nil
	},
}

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "List the step types sequence files can use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, nil, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tCOMPOSITE\tDESCRIPTION")
		for _, info := range a.registry.List() {
			fmt.Fprintf(w, "%s\t%t\t%s\n", info.Type, info.Composite, info.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(validateCmd, stepsCmd)
}

func printTree(cmd *cobra.Command, root *tree.Node) {
	root.Walk(func(n *tree.Node, depth int) bool {
		marker := "-"
		if n.Kind() == schema.NodeKindCategory {
			marker = "+"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%*s%s %s\n", depth*2, "", marker, n.Name())
		return true
	})
}
