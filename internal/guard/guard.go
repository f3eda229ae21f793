// Package guard implements the check-then-act pattern every provisioning step follows.
package guard

import (
	"context"
	"time"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/report"
)

// CheckFunc queries remote state read-only and reports whether the desired
// state is already in place.
type CheckFunc func(ctx context.Context) (bool, error)

// ApplyFunc mutates remote state towards the desired state.
type ApplyFunc func(ctx context.Context) error

// Ensure runs check and, only if the desired state is absent, apply.
//
// A check that fails because the host is unreachable is never read as
// "absent": the step is skipped for that host. Other check failures fail the
// step without applying. The post-condition is not re-verified after apply;
// a successful exit status is trusted.
func Ensure(ctx context.Context, step, host string, check CheckFunc, apply ApplyFunc) report.Result {
	start := time.Now()
	res := ensure(ctx, step, host, check, apply)
	res.Duration = time.Since(start)
	return res
}

func ensure(ctx context.Context, step, host string, check CheckFunc, apply ApplyFunc) report.Result {
	present, err := check(ctx)
	if err != nil {
		if fault.Is(err, fault.KindConnectivity) {
			return report.Skipped(step, host, report.ReasonUnreachable)
		}
		return report.Failed(step, host, err)
	}
	if present {
		return report.Skipped(step, host, report.ReasonPresent)
	}

	if err := apply(ctx); err != nil {
		return report.Failed(step, host, err)
	}
	return report.OK(step, host)
}

// Always is a check for steps whose apply is itself idempotent.
func Always(context.Context) (bool, error) { return false, nil }
