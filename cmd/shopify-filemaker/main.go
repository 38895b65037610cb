// Package main is the entry point for the stock synchronisation service.
package main

import (
	"fmt"
	"os"

	"github.com/gaspcr/shopify-filemaker/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
