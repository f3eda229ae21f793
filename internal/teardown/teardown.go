// Package teardown removes what provisioning and deployment created, in
// reverse order. Every failure is recorded and teardown always continues.
package teardown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/probe"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/report"
	"github.com/codex-k8s/swarmctl/internal/swarm"
)

// DefaultSettle is how long swarm gets to stop stack tasks before secrets and
// configs they mount are removed.
const DefaultSettle = 10 * time.Second

// Report step name prefixes.
const (
	StepStack  = "teardown.stack"
	StepSecret = "teardown.secret"
	StepConfig = "teardown.config"
	StepPrune  = "teardown.prune"
)

// Options selects how far teardown goes.
type Options struct {
	// Full also makes every node leave the swarm.
	Full bool
	// Settle overrides DefaultSettle; a negative value disables the wait.
	Settle time.Duration
}

// Controller tears a cluster down.
type Controller struct {
	Exec   remote.Executor
	Logger *slog.Logger
	// Sleep waits for d or until ctx ends; a context-aware timer when nil.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Down removes stacks, secrets and configs on the manager, prunes every
// reachable host and, with opts.Full, dissolves the swarm: workers leave
// first, then the manager leaves with --force.
func (c *Controller) Down(ctx context.Context, inv *inventory.Inventory, part probe.Partition, opts Options) []report.Result {
	var results []report.Result
	add := func(rs ...report.Result) {
		for _, r := range rs {
			c.logResult(r)
		}
		results = append(results, rs...)
	}

	m := inv.Manager
	if part.IsReachable(m.Address) {
		removed := c.removeAll(ctx, m, "stack", StepStack, add)
		if removed > 0 {
			c.settle(ctx, opts.Settle)
		}
		c.removeAll(ctx, m, "secret", StepSecret, add)
		c.removeAll(ctx, m, "config", StepConfig, add)
	} else {
		for _, step := range []string{StepStack, StepSecret, StepConfig} {
			add(report.Skipped(step, m.Address, report.ReasonUnreachable))
		}
	}

	for _, h := range inv.Hosts() {
		if !part.IsReachable(h.Address) {
			add(report.Skipped(StepPrune, h.Address, report.ReasonUnreachable))
			continue
		}
		add(c.prune(ctx, h))
	}

	if opts.Full {
		sc := &swarm.Controller{Exec: c.Exec, Logger: c.Logger}
		for _, h := range append(append([]inventory.Host(nil), inv.Workers...), m) {
			if !part.IsReachable(h.Address) {
				add(report.Skipped(swarm.StepLeave, h.Address, report.ReasonUnreachable))
				continue
			}
			add(sc.Leave(ctx, h))
		}
	}
	return results
}

// removeAll lists every object of kind on the manager and removes each one,
// returning how many were removed.
func (c *Controller) removeAll(ctx context.Context, m inventory.Host, kind, step string, add func(...report.Result)) int {
	out, err := c.Exec.Run(ctx, m, remote.Script("docker", kind, "ls", "--format", "{{.Name}}"))
	if err != nil {
		if remote.IsConnectivity(err) {
			add(report.Skipped(step, m.Address, report.ReasonUnreachable))
		} else {
			add(report.Failed(step, m.Address, fmt.Errorf("list %ss: %w", kind, err)))
		}
		return 0
	}

	removed := 0
	for _, name := range strings.Split(out, "\n") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		res := report.OK(step+"."+name, m.Address)
		if _, err := c.Exec.Run(ctx, m, remote.Script("docker", kind, "rm", name)); err != nil {
			res = report.Failed(step+"."+name, m.Address, err)
		} else {
			removed++
		}
		add(res)
	}
	return removed
}

func (c *Controller) prune(ctx context.Context, h inventory.Host) report.Result {
	start := time.Now()
	_, err := c.Exec.Run(ctx, h, remote.Script("docker", "system", "prune", "-af", "--volumes"))
	var res report.Result
	switch {
	case err == nil:
		res = report.OK(StepPrune, h.Address)
	case remote.IsConnectivity(err):
		res = report.Skipped(StepPrune, h.Address, report.ReasonUnreachable)
	default:
		res = report.Failed(StepPrune, h.Address, err)
	}
	res.Duration = time.Since(start)
	return res
}

func (c *Controller) settle(ctx context.Context, d time.Duration) {
	if d == 0 {
		d = DefaultSettle
	}
	if d < 0 {
		return
	}
	c.logger().Info("waiting for stack tasks to stop", "delay", d)
	sleep := c.Sleep
	if sleep == nil {
		sleep = wait
	}
	if err := sleep(ctx, d); err != nil && !errors.Is(err, context.Canceled) {
		c.logger().Warn("settle delay interrupted", "error", err)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Controller) logResult(res report.Result) {
	logger := c.logger()
	switch res.Status {
	case report.StatusFailed:
		logger.Warn("teardown step failed", "step", res.Step, "host", res.Host, "kind", res.Kind, "error", res.Err)
	case report.StatusSkipped:
		logger.Info("teardown step skipped", "step", res.Step, "host", res.Host, "reason", res.Reason)
	default:
		logger.Info("teardown step applied", "step", res.Step, "host", res.Host)
	}
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}
