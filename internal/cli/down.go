package cli

import (
	"github.com/spf13/cobra"
)

// newDownCommand creates the "down" subcommand that removes stacks, secrets and configs.
func newDownCommand(opts *Options) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Remove the stack, secrets and configs and prune every node",
		Long:  "down removes every stack, secret and config from the manager and prunes each reachable host. With --full the workers and then the manager leave the swarm.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())
			orch, err := newOrchestrator(opts, logger)
			if err != nil {
				return err
			}
			out, err := orch.Down(cmd.Context(), opts.InventoryPath, full)
			return publish(cmd.OutOrStdout(), opts, logger, out, err)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Also dissolve the swarm")
	addSettleFlag(cmd, opts)
	return cmd
}
