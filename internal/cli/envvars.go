package cli

import (
	"os"
	"strings"
	"time"

	envparse "github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/codex-k8s/swarmctl/internal/fault"
)

// baseEnv defines root CLI defaults sourced from SWARMCTL_* env vars.
type baseEnv struct {
	// Inventory is the inventory path from SWARMCTL_INVENTORY.
	Inventory string `env:"SWARMCTL_INVENTORY"`
	// LogLevel is the logging level from SWARMCTL_LOG_LEVEL.
	LogLevel string `env:"SWARMCTL_LOG_LEVEL"`
	// Yes answers the connectivity prompt from SWARMCTL_YES.
	Yes bool `env:"SWARMCTL_YES"`
	// Transport selects the SSH transport from SWARMCTL_TRANSPORT.
	Transport string `env:"SWARMCTL_TRANSPORT"`
	// KnownHosts is the known_hosts path from SWARMCTL_KNOWN_HOSTS.
	KnownHosts string `env:"SWARMCTL_KNOWN_HOSTS"`
	// MetricsFile is the metrics export path from SWARMCTL_METRICS_FILE.
	MetricsFile string `env:"SWARMCTL_METRICS_FILE"`
	// CommandTimeout is the per-command bound from SWARMCTL_COMMAND_TIMEOUT.
	CommandTimeout time.Duration `env:"SWARMCTL_COMMAND_TIMEOUT"`
	// ProbeTimeout is the probe bound from SWARMCTL_PROBE_TIMEOUT.
	ProbeTimeout time.Duration `env:"SWARMCTL_PROBE_TIMEOUT"`
	// SkipBuild disables image builds from SWARMCTL_SKIP_BUILD.
	SkipBuild bool `env:"SWARMCTL_SKIP_BUILD"`
	// Vars are stack parameter overrides from SWARMCTL_VARS.
	Vars string `env:"SWARMCTL_VARS"`
	// Settle is the teardown settle delay from SWARMCTL_SETTLE.
	Settle time.Duration `env:"SWARMCTL_SETTLE"`
}

// applyBaseEnv fills options the command line left unset from SWARMCTL_*
// variables and returns the effective log level name.
func applyBaseEnv(cmd *cobra.Command, opts *Options) (string, error) {
	var envCfg baseEnv
	if err := parseEnv(&envCfg); err != nil {
		return "", fault.New(fault.KindConfig, "", err)
	}

	levelName := cmd.Flag("log-level").Value.String()
	if flagUnset(cmd, "log-level") && envPresent("SWARMCTL_LOG_LEVEL") {
		levelName = envCfg.LogLevel
	}
	if flagUnset(cmd, "inventory") && envPresent("SWARMCTL_INVENTORY") {
		opts.InventoryPath = envCfg.Inventory
	}
	if flagUnset(cmd, "yes") && envPresent("SWARMCTL_YES") {
		opts.AssumeYes = envCfg.Yes
	}
	if flagUnset(cmd, "transport") && envPresent("SWARMCTL_TRANSPORT") {
		opts.Transport = envCfg.Transport
	}
	if flagUnset(cmd, "known-hosts") && envPresent("SWARMCTL_KNOWN_HOSTS") {
		opts.KnownHosts = envCfg.KnownHosts
	}
	if flagUnset(cmd, "metrics-file") && envPresent("SWARMCTL_METRICS_FILE") {
		opts.MetricsFile = envCfg.MetricsFile
	}
	if flagUnset(cmd, "command-timeout") && envPresent("SWARMCTL_COMMAND_TIMEOUT") {
		opts.CommandTimeout = envCfg.CommandTimeout
	}
	if flagUnset(cmd, "probe-timeout") && envPresent("SWARMCTL_PROBE_TIMEOUT") {
		opts.ProbeTimeout = envCfg.ProbeTimeout
	}
	if flagUnset(cmd, "skip-build") && envPresent("SWARMCTL_SKIP_BUILD") {
		opts.SkipBuild = envCfg.SkipBuild
	}
	if flagUnset(cmd, "vars") && envPresent("SWARMCTL_VARS") {
		opts.Vars = envCfg.Vars
	}
	if flagUnset(cmd, "settle") && envPresent("SWARMCTL_SETTLE") {
		opts.Settle = envCfg.Settle
	}

	switch opts.Transport {
	case transportNative, transportOpenSSH:
	default:
		return "", fault.Newf(fault.KindConfig, "", "unknown transport %q (want %s or %s)", opts.Transport, transportNative, transportOpenSSH)
	}
	return levelName, nil
}

// flagUnset reports whether the command defines name and it was not given.
func flagUnset(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && !f.Changed
}

// parseEnv fills target from SWARMCTL_* env vars via caarlos0/env.
func parseEnv(target any) error {
	return envparse.Parse(target)
}

// envPresent reports whether a non-empty env var exists.
func envPresent(key string) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return false
	}
	return strings.TrimSpace(val) != ""
}
