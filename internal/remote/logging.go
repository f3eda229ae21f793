package remote

import (
	"context"
	"log/slog"
	"time"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/inventory"
)

type loggingExecutor struct {
	next   Executor
	logger *slog.Logger
}

// WithLogging wraps next so every call is logged at debug level. Stdin is
// reported by size only.
func WithLogging(next Executor, logger *slog.Logger) Executor {
	if logger == nil {
		return next
	}
	return &loggingExecutor{next: next, logger: logger}
}

func (l *loggingExecutor) Run(ctx context.Context, host inventory.Host, cmd Command) (string, error) {
	attrs := []any{"host", host.Address, "cmd", firstLine(cmd.Script)}
	if len(cmd.Stdin) > 0 {
		attrs = append(attrs, "stdin_bytes", len(cmd.Stdin))
	}
	l.logger.Debug("remote exec", attrs...)

	start := time.Now()
	out, err := l.next.Run(ctx, host, cmd)
	attrs = append(attrs, "elapsed", time.Since(start).Round(time.Millisecond))
	if err != nil {
		attrs = append(attrs, "kind", fault.KindOf(err), "error", err)
		l.logger.Debug("remote exec failed", attrs...)
		return out, err
	}
	l.logger.Debug("remote exec done", attrs...)
	return out, nil
}
