package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gaspcr/shopify-filemaker/internal/engine"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	DryRun bool
	SKU    string
}

// NewSyncCommand creates the one-shot full-sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one full FileMaker to Shopify sync cycle",
		Long: `Run one full sync cycle: snapshot FileMaker stock, diff it against
Shopify, and push corrections for every SKU whose quantity drifted.

Per-SKU failures are reported in the summary and do not fail the command;
only an aborted cycle (authentication failure, unreachable API, another
cycle already running) exits non-zero.

Example:
  shopify-filemaker sync --dry-run
  shopify-filemaker sync --sku 852738006010`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would change without writing")
	cmd.Flags().StringVar(&opts.SKU, "sku", "", "limit the cycle to a single SKU")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "incomplete configuration", err)
	}

	s := buildServices(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() {
		if err := s.fm.Logout(context.Background()); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: filemaker logout failed:", err)
		}
	}()

	result, err := s.orchestrator.Run(ctx, engine.RunOptions{DryRun: opts.DryRun, SKU: opts.SKU})
	if err != nil {
		if engine.IsCode(err, engine.CodeCycleRunning) {
			return WrapExitError(ExitFailure, "sync rejected", err)
		}
		return WrapExitError(ExitFailure, "sync aborted", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Summary())
	return nil
}
