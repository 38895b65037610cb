// Package cli defines the command-line surface: a long-running serve mode
// plus one-shot sync, connection-check, and config-inspection commands.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "shopify-filemaker",
		Short:         "FileMaker to Shopify stock synchronisation",
		Long:          "Keeps Shopify inventory aligned with FileMaker stock: scheduled full syncs plus webhook-driven order decrements.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewTestConnectionCommand(opts))
	cmd.AddCommand(NewConfigInfoCommand(opts))

	return cmd
}
