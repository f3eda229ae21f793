package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/codex-k8s/swarmctl/internal/env"
	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/ghoutput"
	"github.com/codex-k8s/swarmctl/internal/images"
	"github.com/codex-k8s/swarmctl/internal/orchestrator"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/ui"
)

// newExecutor builds the remote executor for the selected transport, with
// every call logged at debug level.
func newExecutor(opts *Options, logger *slog.Logger) (remote.Executor, error) {
	var exec remote.Executor
	switch opts.Transport {
	case transportOpenSSH:
		exec = &remote.OpenSSHExecutor{CommandTimeout: opts.CommandTimeout, KnownHostsFile: opts.KnownHosts}
	default:
		native, err := remote.NewSSHExecutor(remote.SSHConfig{
			CommandTimeout: opts.CommandTimeout,
			KnownHostsFile: opts.KnownHosts,
		})
		if err != nil {
			return nil, err
		}
		exec = native
	}
	return remote.WithLogging(exec, logger), nil
}

// newOrchestrator wires the executor, local runner and confirmation prompt.
func newOrchestrator(opts *Options, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	params, err := env.ParsePairs(opts.Vars)
	if err != nil {
		return nil, fault.New(fault.KindConfig, "", fmt.Errorf("--vars: %w", err))
	}
	exec, err := newExecutor(opts, logger)
	if err != nil {
		return nil, err
	}
	return &orchestrator.Orchestrator{
		Exec:         exec,
		Runner:       &images.ExecRunner{Logger: logger},
		Confirmer:    ui.Confirmer(opts.AssumeYes),
		Logger:       logger,
		ProbeTimeout: opts.ProbeTimeout,
		SkipBuild:    opts.SkipBuild,
		Params:       params,
		Settle:       opts.Settle,
	}, nil
}

// publish renders the run report and exports metrics and CI outputs. Export
// failures are logged; runErr is returned unchanged so soft failures still
// exit zero.
func publish(w io.Writer, opts *Options, logger *slog.Logger, out *orchestrator.Outcome, runErr error) error {
	if out == nil || out.Report == nil {
		return runErr
	}
	rep := out.Report

	if err := rep.Render(w); err != nil {
		logger.Warn("failed to render run report", "error", err)
	}
	if opts.MetricsFile != "" {
		if err := rep.WriteMetrics(opts.MetricsFile); err != nil {
			logger.Warn("failed to write run metrics", "path", opts.MetricsFile, "error", err)
		} else {
			logger.Debug("run metrics written", "path", opts.MetricsFile)
		}
	}
	if err := ghoutput.Write(ghoutput.Outputs(rep.RunID, rep.FailedSteps(), out.Converged())); err != nil {
		logger.Warn("failed to write GitHub outputs", "error", err)
	}
	return runErr
}
