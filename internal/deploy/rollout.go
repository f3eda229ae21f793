package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/logging"
	"github.com/codex-k8s/swarmctl/internal/poll"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/report"
)

// Rollout is the last observed state of a convergence wait.
type Rollout struct {
	Service  string
	Desired  int
	Running  int
	Attempts int
}

// Converged reports whether the running count reached the desired count.
func (r Rollout) Converged() bool { return r.Running == r.Desired }

// WaitConverged polls the running task count of service until it equals
// desired or spec.Attempts polls were made. Exhaustion is a soft failure: the
// full task list is logged as a diagnostic and a timeout result is returned.
func (d *Deployer) WaitConverged(ctx context.Context, inv *inventory.Inventory, service string, desired int, spec poll.Spec) (report.Result, Rollout) {
	m := inv.Manager
	rollout := Rollout{Service: service, Desired: desired}
	logger := d.logger().With("service", service)

	attempts, err := poll.Until(ctx, spec, func(ctx context.Context, attempt int) (bool, error) {
		out, err := d.Exec.Run(ctx, m, remote.Script("docker", "service", "ps", service,
			"--filter", "desired-state=running", "--format", "{{.CurrentState}}"))
		if err != nil {
			if remote.IsConnectivity(err) {
				return false, poll.Stop(err)
			}
			logger.Debug("service tasks not listed yet", "attempt", attempt, "error", err)
			return false, err
		}
		rollout.Running = CountRunning(out)
		logger.Info("waiting for rollout", "attempt", attempt, "of", spec.Attempts, "running", rollout.Running, "desired", desired)
		return rollout.Converged(), nil
	})
	rollout.Attempts = attempts

	switch {
	case err == nil:
		logger.Info("service converged", "replicas", desired, "attempts", attempts)
		return report.OK(StepConverge, m.Address), rollout
	case remote.IsConnectivity(err):
		return report.Skipped(StepConverge, m.Address, report.ReasonUnreachable), rollout
	case errors.Is(err, poll.ErrExhausted):
		d.dumpTasks(ctx, inv, service)
		return report.Failed(StepConverge, m.Address, fault.Newf(fault.KindTimeout, m.Address,
			"%s: %d/%d replicas running after %d attempts", service, rollout.Running, desired, attempts)), rollout
	default:
		return report.Failed(StepConverge, m.Address, fmt.Errorf("wait for %s: %w", service, err)), rollout
	}
}

// dumpTasks logs every task of service with untruncated errors.
func (d *Deployer) dumpTasks(ctx context.Context, inv *inventory.Inventory, service string) {
	logger := d.logger()
	out, err := d.Exec.Run(ctx, inv.Manager, remote.Script("docker", "service", "ps", service, "--no-trunc"))
	if err != nil {
		logger.Warn("could not list service tasks", "service", service, "error", err)
		return
	}
	logger.Warn("service did not converge, task states follow", "service", service)
	w := logging.NewWriter(logger, "service", service)
	_, _ = fmt.Fprintln(w, out)
	w.Flush()
}

// CountRunning counts the task states reported as Running.
func CountRunning(states string) int {
	n := 0
	for _, line := range strings.Split(states, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "Running") {
			n++
		}
	}
	return n
}

// WaitHealthy polls until a container of dependency reports healthy. The wait
// is soft: after the last attempt the caller proceeds regardless.
func (d *Deployer) WaitHealthy(ctx context.Context, inv *inventory.Inventory, dependency string, spec poll.Spec) report.Result {
	m := inv.Manager
	logger := d.logger().With("dependency", dependency)

	_, err := poll.Until(ctx, spec, func(ctx context.Context, attempt int) (bool, error) {
		out, err := d.Exec.Run(ctx, m, remote.Script("docker", "ps",
			"--filter", "name="+dependency, "--filter", "health=healthy", "-q"))
		if err != nil {
			if remote.IsConnectivity(err) {
				return false, poll.Stop(err)
			}
			return false, err
		}
		healthy := strings.TrimSpace(out) != ""
		if !healthy {
			logger.Info("waiting for dependency to become healthy", "attempt", attempt, "of", spec.Attempts)
		}
		return healthy, nil
	})

	switch {
	case err == nil:
		logger.Info("dependency healthy")
		return report.OK(StepHealth, m.Address)
	case remote.IsConnectivity(err):
		return report.Skipped(StepHealth, m.Address, report.ReasonUnreachable)
	default:
		logger.Warn("dependency not healthy, proceeding anyway", "error", err)
		return report.Failed(StepHealth, m.Address, err)
	}
}
