package main

import (
	"github.com/aretw0/parley/internal/cli"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check graph documents for consistency",
	Long: `Checks every graph document in the graphs directory (or the given file or
directory) against the graph schema and the structural rules: dangling edges,
unreachable nodes, menus without options and unknown validations.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.GraphsDir
		if len(args) > 0 {
			path = args[0]
		}
		return cli.ValidateGraphs(path, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
