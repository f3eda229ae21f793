package cli

import (
	"github.com/spf13/cobra"
)

// newUpCommand creates the "up" subcommand that forms, provisions and deploys the cluster.
func newUpCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Form the swarm, provision every node and deploy the stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())
			orch, err := newOrchestrator(opts, logger)
			if err != nil {
				return err
			}
			out, err := orch.Up(cmd.Context(), opts.InventoryPath)
			return publish(cmd.OutOrStdout(), opts, logger, out, err)
		},
	}
	addReleaseFlags(cmd, opts)
	return cmd
}

// newDeployCommand creates the "deploy" subcommand that releases the stack to an existing swarm.
func newDeployCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Build images, deploy the stack and run the migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())
			orch, err := newOrchestrator(opts, logger)
			if err != nil {
				return err
			}
			out, err := orch.Deploy(cmd.Context(), opts.InventoryPath)
			return publish(cmd.OutOrStdout(), opts, logger, out, err)
		},
	}
	addReleaseFlags(cmd, opts)
	return cmd
}

// newUpdateCommand creates the "update" subcommand that rolls one service to a freshly built image.
func newUpdateCommand(opts *Options) *cobra.Command {
	var imageName, service string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Build one image and roll a service to it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())
			orch, err := newOrchestrator(opts, logger)
			if err != nil {
				return err
			}
			out, err := orch.Update(cmd.Context(), opts.InventoryPath, imageName, service)
			return publish(cmd.OutOrStdout(), opts, logger, out, err)
		},
	}

	cmd.Flags().StringVar(&imageName, "image", "", "Inventory image to build and roll out")
	cmd.Flags().StringVar(&service, "service", "", "Service to update (defaults to stack.service)")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}
