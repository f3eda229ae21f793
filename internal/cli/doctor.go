package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/swarmctl/internal/inventory"
)

// newDoctorCommand creates the "doctor" subcommand that runs local preflight checks.
func newDoctorCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check local tools and validate the inventory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())
			if err := runDoctorChecks(logger, opts, exec.LookPath); err != nil {
				return err
			}
			logger.Info("doctor checks completed successfully", "inventory", opts.InventoryPath)
			return nil
		},
	}
}

// runDoctorChecks validates the inventory and the files and tools it needs
// locally. Every problem is logged before the combined error is returned.
func runDoctorChecks(logger *slog.Logger, opts *Options, lookPath func(string) (string, error)) error {
	inv, err := inventory.Load(opts.InventoryPath)
	if err != nil {
		logger.Error("inventory check failed", "path", opts.InventoryPath, "error", err)
		return err
	}
	logger.Info("inventory ok", "path", opts.InventoryPath, "hosts", len(inv.Hosts()), "stack", inv.Stack.Name)

	var problems []string

	if _, err := os.Stat(inv.DescriptorPath()); err != nil {
		logger.Error("stack descriptor check failed", "path", inv.DescriptorPath(), "error", err)
		problems = append(problems, "stack descriptor "+inv.DescriptorPath())
	} else {
		logger.Info("stack descriptor ok", "path", inv.DescriptorPath())
	}

	for _, h := range inv.Hosts() {
		if h.KeyPath == "" {
			continue
		}
		path := expandHome(h.KeyPath)
		if _, err := os.Stat(path); err != nil {
			logger.Error("ssh key check failed", "host", h.Address, "path", path, "error", err)
			problems = append(problems, "ssh key "+path)
		}
	}

	if opts.KnownHosts != "" {
		if _, err := os.Stat(expandHome(opts.KnownHosts)); err != nil {
			logger.Error("known_hosts check failed", "path", opts.KnownHosts, "error", err)
			problems = append(problems, "known_hosts "+opts.KnownHosts)
		}
	}

	var required []string
	if opts.Transport == transportOpenSSH {
		required = append(required, "ssh")
	}
	if len(inv.Images) > 0 {
		required = append(required, "docker")
	}
	for _, tool := range required {
		if _, err := lookPath(tool); err != nil {
			logger.Error("doctor check failed: missing required tool", "tool", tool, "error", err)
			problems = append(problems, "tool "+tool)
			continue
		}
		logger.Info("doctor check ok", "tool", tool)
	}

	if len(problems) > 0 {
		return fmt.Errorf("doctor found %d issue(s): %s", len(problems), strings.Join(problems, ", "))
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}
