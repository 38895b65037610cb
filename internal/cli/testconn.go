package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// TestConnectionOptions holds flags for the test-connection command.
type TestConnectionOptions struct {
	*RootOptions
	ProbeSKU string
	Timeout  time.Duration
}

// NewTestConnectionCommand creates the connectivity-check command. Both
// systems are probed in parallel and reported independently.
func NewTestConnectionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestConnectionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Check FileMaker and Shopify credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestConnection(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ProbeSKU, "sku", "1", "SKU used for the Shopify lookup probe")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "overall check timeout")

	return cmd
}

func runTestConnection(cmd *cobra.Command, opts *TestConnectionOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "incomplete configuration", err)
	}

	s := buildServices(cfg)

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	// Each probe records its own outcome so one system's failure does not
	// hide the other's result.
	var fmErr, shopErr error
	g := new(errgroup.Group)
	g.Go(func() error {
		fmErr = s.fm.Authenticate(ctx)
		if fmErr == nil {
			_ = s.fm.Logout(context.Background())
		}
		return nil
	})
	g.Go(func() error {
		// An unknown probe SKU still proves the token and shop URL work.
		_, _, shopErr = s.shop.FetchQuantity(ctx, opts.ProbeSKU)
		return nil
	})
	_ = g.Wait()

	out := cmd.OutOrStdout()
	report := func(system string, err error) {
		if err != nil {
			fmt.Fprintf(out, "%-10s FAILED: %v\n", system, err)
			return
		}
		fmt.Fprintf(out, "%-10s ok\n", system)
	}
	report("filemaker", fmErr)
	report("shopify", shopErr)

	if fmErr != nil || shopErr != nil {
		return NewExitError(ExitFailure, "connection check failed")
	}
	return nil
}
