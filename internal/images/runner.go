package images

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"

	"github.com/codex-k8s/swarmctl/internal/logging"
)

// Runner runs a local command. Implementations stream output to the log.
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) error
}

// ExecRunner runs commands with os/exec, forwarding output line by line.
type ExecRunner struct {
	Logger *slog.Logger
}

// Run executes name with args, feeding stdin when non-empty.
func (r *ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Info("running command", "cmd", name, "args", args)

	stdout := logging.NewWriter(logger, "cmd", name)
	stderr := logging.NewWriter(logger, "cmd", name, "stream", "stderr")
	defer stdout.Flush()
	defer stderr.Flush()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(stdin) > 0 {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	return cmd.Run()
}

var _ Runner = (*ExecRunner)(nil)
