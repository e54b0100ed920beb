package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Loaded by the root PersistentPreRunE before any command runs.
var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley runs conversational flows",
	Long: `Parley executes conversation graphs (questions, menus, conditions, API calls
and handoffs) one turn at a time, persisting every execution between messages.

Settings come from flags, PARLEY_* environment variables, an optional .env file
and an optional config file, in that order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		envFile, _ := cmd.Flags().GetString("env-file")

		loaded, err := config.Load(viper.New(), cmd.Flags(), configFile, envFile)
		if err != nil {
			return err
		}
		l, err := cli.NewLogger(os.Stderr, loaded)
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		slog.SetDefault(logger)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Dotenv file loaded into the environment when present")
	config.RegisterFlags(rootCmd.PersistentFlags())
}
