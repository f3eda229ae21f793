package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/guard"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/probe"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/report"
)

// Report step names.
const (
	StepManager = "swarm.manager"
	StepJoin    = "swarm.join"
	StepLeave   = "swarm.leave"
)

// ReasonNoManager marks workers skipped because no manager is available.
const ReasonNoManager = "no usable manager"

// Controller forms the cluster. The worker join token is fetched at most once
// per Controller and only when a worker actually needs to join.
type Controller struct {
	Exec   remote.Executor
	Logger *slog.Logger

	token      string
	tokenErr   error
	tokenFetch bool
	// TokenFetches counts join-token requests, for run reporting.
	TokenFetches int
}

// Form brings the manager and the reachable workers into the swarm.
// Unreachable hosts are never contacted. A failed join does not stop the loop.
func (c *Controller) Form(ctx context.Context, inv *inventory.Inventory, part probe.Partition) []report.Result {
	var results []report.Result

	manager := inv.Manager
	managerReady := false
	if part.IsReachable(manager.Address) {
		res := guard.Ensure(ctx, StepManager, manager.Address,
			func(ctx context.Context) (bool, error) {
				m, err := Query(ctx, c.Exec, manager)
				if err != nil {
					return false, err
				}
				if m == Worker {
					return false, DriftError(manager, m)
				}
				return m == Manager, nil
			},
			func(ctx context.Context) error {
				_, err := c.Exec.Run(ctx, manager, remote.Script("docker", "swarm", "init", "--advertise-addr", manager.Address))
				return err
			},
		)
		managerReady = res.Status != report.StatusFailed && res.Reason != report.ReasonUnreachable
		c.logResult(res)
		results = append(results, res)
	} else {
		results = append(results, report.Skipped(StepManager, manager.Address, report.ReasonUnreachable))
	}

	for _, w := range inv.Workers {
		var res report.Result
		switch {
		case !part.IsReachable(w.Address):
			res = report.Skipped(StepJoin, w.Address, report.ReasonUnreachable)
		case !managerReady:
			res = report.Skipped(StepJoin, w.Address, ReasonNoManager)
		default:
			res = c.join(ctx, manager, w)
		}
		c.logResult(res)
		results = append(results, res)
	}
	return results
}

func (c *Controller) join(ctx context.Context, manager, worker inventory.Host) report.Result {
	return guard.Ensure(ctx, StepJoin, worker.Address,
		func(ctx context.Context) (bool, error) {
			m, err := Query(ctx, c.Exec, worker)
			if err != nil {
				return false, err
			}
			if m == Manager {
				return false, DriftError(worker, m)
			}
			return m == Worker, nil
		},
		func(ctx context.Context) error {
			token, err := c.joinToken(ctx, manager)
			if err != nil {
				return err
			}
			target := manager.Address + ":" + strconv.Itoa(ManagerPort)
			cmd := remote.Command{
				Script: `docker swarm join --token "$(cat)" ` + remote.Quote(target),
				Stdin:  []byte(token),
			}
			_, err = c.Exec.Run(ctx, worker, cmd)
			return err
		},
	)
}

// joinToken fetches the worker join token once; init output does not carry it.
func (c *Controller) joinToken(ctx context.Context, manager inventory.Host) (string, error) {
	if c.tokenFetch {
		return c.token, c.tokenErr
	}
	c.tokenFetch = true
	c.TokenFetches++

	out, err := c.Exec.Run(ctx, manager, remote.Script("docker", "swarm", "join-token", "worker", "-q"))
	switch {
	case err != nil:
		c.tokenErr = fmt.Errorf("fetch join token: %w", err)
	case out == "":
		c.tokenErr = fault.Newf(fault.KindParse, manager.Address, "empty join token")
	default:
		c.token = out
	}
	return c.token, c.tokenErr
}

// Leave detaches host from the swarm. The manager must force, since it may be
// the last one.
func (c *Controller) Leave(ctx context.Context, host inventory.Host) report.Result {
	return guard.Ensure(ctx, StepLeave, host.Address,
		func(ctx context.Context) (bool, error) {
			m, err := Query(ctx, c.Exec, host)
			if err != nil {
				return false, err
			}
			return m == NotClustered, nil
		},
		func(ctx context.Context) error {
			args := []string{"swarm", "leave"}
			if host.Role == inventory.RoleManager {
				args = append(args, "--force")
			}
			_, err := c.Exec.Run(ctx, host, remote.Script("docker", args...))
			return err
		},
	)
}

func (c *Controller) logResult(res report.Result) {
	if c.Logger == nil {
		return
	}
	switch res.Status {
	case report.StatusFailed:
		c.Logger.Warn("swarm step failed", "step", res.Step, "host", res.Host, "kind", res.Kind, "error", res.Err)
	case report.StatusSkipped:
		c.Logger.Info("swarm step skipped", "step", res.Step, "host", res.Host, "reason", res.Reason)
	default:
		c.Logger.Info("swarm step applied", "step", res.Step, "host", res.Host)
	}
}
