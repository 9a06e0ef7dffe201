// Package commands implements the autorelay CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "autorelay",
		Short: "autorelay - auto-reply relay bot",
		Long: `autorelay is an auto-reply relay: it listens for trigger phrases on
WhatsApp and Discord, answers with configured replies, and delivers
daily scheduled messages. Discord is the admin surface; WhatsApp is
the auto-reply surface gated by a contact allow-list.

Examples:
  autorelay setup
  autorelay serve
  autorelay serve --config ./config.yaml
  autorelay console`,
		Version: version,
	}

	// Register subcommands.
	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newConsoleCmd(),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
