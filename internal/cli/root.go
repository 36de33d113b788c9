// Package cli wires the ducksync commands: one-shot sync runs, status
// inspection, and the long-running status server.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags.
var version = "dev"

type rootOptions struct {
	output string
}

// NewRootCommand builds the ducksync command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:     "ducksync",
		Short:   "Sync PostgreSQL tables into DuckDB/MotherDuck",
		Long: `ducksync copies rows from PostgreSQL tables into a DuckDB or MotherDuck
database, batch by batch, marking source rows as synced after each batch
lands durably. Configuration comes from the environment; see the README
for the full variable reference.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "text" && opts.output != "json" {
				return fmt.Errorf("invalid --output %q: must be text or json", opts.output)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "result format: text or json")

	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newServeCommand())

	return cmd
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
