// Package cmd implements the goblast CLI. The default command runs the
// gateway; the other subcommands are HTTP clients of a running gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

var configFlag string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "goblast",
		Short:   "Bulk messaging gateway over a single WhatsApp session",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file path (default ~/.goblast/config.json5)")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(sendCmd())
	cmd.AddCommand(qrCmd())
	cmd.AddCommand(uploadCmd())
	cmd.AddCommand(disconnectCmd())
	cmd.AddCommand(configCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
