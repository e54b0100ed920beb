package main

import (
	"fmt"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/pkg/sweeper"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire idle executions once",
	Long: `Runs a single pass of the idle-session sweeper against the configured store
and exits. Useful from an external scheduler when no server is running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		stack, err := cli.BuildStack(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer stack.Close()

		sw, err := sweeper.New(stack.Engine, sweeper.WithLogger(logger))
		if err != nil {
			return err
		}
		n, err := sw.RunOnce(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d executions\n", n)
		return err
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
