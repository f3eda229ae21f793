// Package cli defines the command-line interface for swarmctl.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/swarmctl/internal/logging"
	"github.com/codex-k8s/swarmctl/internal/probe"
	"github.com/codex-k8s/swarmctl/internal/teardown"
)

const (
	// defaultInventoryPath is the inventory read when --inventory is not given.
	defaultInventoryPath = "inventory.yaml"

	transportNative  = "native"
	transportOpenSSH = "openssh"
)

// Options stores global CLI options shared between commands.
type Options struct {
	InventoryPath  string
	LogLevel       logging.Level
	AssumeYes      bool
	Transport      string
	KnownHosts     string
	MetricsFile    string
	CommandTimeout time.Duration
	ProbeTimeout   time.Duration
	SkipBuild      bool
	Vars           string
	Settle         time.Duration
}

// Execute builds the root command, runs it with the provided args and logger, and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, logging.LevelInfo)
	}

	rootOpts := &Options{
		InventoryPath: defaultInventoryPath,
		LogLevel:      logging.LevelInfo,
		Transport:     transportNative,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(rootOpts, logger)
	rootCmd.SetArgs(args)

	return rootCmd.ExecuteContext(ctx)
}

// newRootCommand constructs the root cobra.Command with global flags and subcommands.
func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "swarmctl",
		Short:         "swarmctl provisions and deploys Docker Swarm clusters over SSH",
		Long:          "swarmctl forms a Docker Swarm cluster from an inventory of SSH hosts, provisions registry trust, secrets and firewall rules, and deploys a stack with bounded rollout checks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			levelName, err := applyBaseEnv(cmd, opts)
			if err != nil {
				return err
			}
			level := logging.ParseLevel(levelName)
			opts.LogLevel = level
			logger = logging.NewLogger(os.Stderr, level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", level)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.InventoryPath, "inventory", "i", defaultInventoryPath, "Path to the inventory file (yaml, json or toml)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.BoolVarP(&opts.AssumeYes, "yes", "y", false, "Continue without asking when some hosts are unreachable")
	flags.StringVar(&opts.Transport, "transport", transportNative, "SSH transport: native or openssh")
	flags.StringVar(&opts.KnownHosts, "known-hosts", "", "known_hosts file used to verify host keys")
	flags.StringVar(&opts.MetricsFile, "metrics-file", "", "Write run metrics in Prometheus text format to this file")
	flags.DurationVar(&opts.CommandTimeout, "command-timeout", 0, "Default bound for each remote command (0 uses the transport default)")
	flags.DurationVar(&opts.ProbeTimeout, "probe-timeout", probe.DefaultTimeout, "Bound for each connectivity probe")

	cmd.AddCommand(
		newUpCommand(opts),
		newDeployCommand(opts),
		newUpdateCommand(opts),
		newDownCommand(opts),
		newProbeCommand(opts),
		newStatusCommand(opts),
		newSecretCommand(opts),
		newDoctorCommand(opts),
	)

	return cmd
}

// addReleaseFlags registers the flags of commands that deploy the stack.
func addReleaseFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().BoolVar(&opts.SkipBuild, "skip-build", false, "Deploy without building and pushing the inventory images")
	cmd.Flags().StringVar(&opts.Vars, "vars", "", "Stack parameter overrides in k=v,k2=v2 format")
}

// addSettleFlag registers the teardown settle delay.
func addSettleFlag(cmd *cobra.Command, opts *Options) {
	cmd.Flags().DurationVar(&opts.Settle, "settle", teardown.DefaultSettle, "Wait between stack removal and secret removal (negative disables)")
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, logging.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, logging.LevelInfo)
}
