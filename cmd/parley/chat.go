package main

import (
	"os"

	"github.com/aretw0/parley/internal/cli"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat <graph-id>",
	Short: "Talk to a graph in the terminal",
	Long: `Plays a graph interactively: bot messages are printed and every line you type
answers the current question or menu. Type q, quit or exit to leave.

With --session the conversation is saved after every turn and resumed by the
next chat using the same session ID.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetInt("graph-version")
		vars, _ := cmd.Flags().GetStringToString("var")
		name, _ := cmd.Flags().GetString("name")
		sessionID, _ := cmd.Flags().GetString("session")
		fresh, _ := cmd.Flags().GetBool("fresh")
		stateDir, _ := cmd.Flags().GetString("state-dir")
		plain, _ := cmd.Flags().GetBool("plain")

		variables := make(map[string]any, len(vars))
		for k, v := range vars {
			variables[k] = v
		}

		// Reading stdin blocks, so Ctrl+C keeps its default behavior here.
		err := cli.RunChat(cmd.Context(), cli.ChatOptions{
			GraphsDir:   cfg.GraphsDir,
			GraphID:     args[0],
			Version:     version,
			Variables:   variables,
			ContactName: name,
			SessionID:   sessionID,
			Fresh:       fresh,
			StateDir:    stateDir,
			Pretty:      !plain && term.IsTerminal(int(os.Stdout.Fd())),
			Logger:      logger,
		}, os.Stdin, cmd.OutOrStdout())
		if cli.IsInterrupted(err) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().Int("graph-version", 0, "Graph version (default: latest)")
	chatCmd.Flags().StringToString("var", nil, "Initial session variable (key=value, repeatable)")
	chatCmd.Flags().String("name", "", "Contact name")
	chatCmd.Flags().String("session", "", "Session ID to persist and resume")
	chatCmd.Flags().Bool("fresh", false, "Discard saved state for --session before starting")
	chatCmd.Flags().String("state-dir", "", "Directory for saved sessions (default .parley/executions)")
	chatCmd.Flags().Bool("plain", false, "Print messages as raw text even on a terminal")
}
