package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/swarmctl/internal/ui"
)

// newProbeCommand creates the "probe" subcommand that checks SSH reachability of every host.
func newProbeCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check that every inventory host answers over SSH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())
			orch, err := newOrchestrator(opts, logger)
			if err != nil {
				return err
			}
			out, part, err := orch.Probe(cmd.Context(), opts.InventoryPath)
			if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), ui.PartitionSummary(part))
			}
			return publish(cmd.OutOrStdout(), opts, logger, out, err)
		},
	}
}
