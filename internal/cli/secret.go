package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSecretCommand groups secret maintenance subcommands.
func newSecretCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage swarm secrets declared in the inventory",
	}
	cmd.AddCommand(newSecretRotateCommand(opts))
	return cmd
}

// newSecretRotateCommand creates "secret rotate", which stores the current
// inventory value under the next versioned name.
func newSecretRotateCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <name>",
		Short: "Create the next version of a declared secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())
			orch, err := newOrchestrator(opts, logger)
			if err != nil {
				return err
			}
			out, next, err := orch.RotateSecret(cmd.Context(), opts.InventoryPath, args[0])
			if err == nil && next != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "created secret %s; point the stack at it and redeploy\n", next)
			}
			return publish(cmd.OutOrStdout(), opts, logger, out, err)
		},
	}
}
