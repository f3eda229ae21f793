// Package provision establishes the shared cluster infrastructure: overlay
// network, private registry, registry trust and logins, node labels, secrets
// and host firewalls. Every step follows the check-then-act guard.
package provision

import (
	"context"
	"log/slog"
	"strings"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/probe"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/report"
)

// Report step names.
const (
	StepNetwork   = "network"
	StepHtpasswd  = "registry.htpasswd"
	StepRegistry  = "registry.service"
	StepTrust     = "registry.trust"
	StepLogin     = "registry.login"
	StepNodeLabel = "node.label"
	StepSecret    = "secret"
	StepFirewall  = "firewall"
)

// Provisioner runs the provisioning steps in dependency order.
type Provisioner struct {
	Exec   remote.Executor
	Logger *slog.Logger
}

// Provision runs every step against the reachable hosts. Only a failed
// registry login on the manager is fatal: stacks are deployed with the
// manager's registry credentials.
func (p *Provisioner) Provision(ctx context.Context, inv *inventory.Inventory, part probe.Partition) ([]report.Result, error) {
	var results []report.Result
	add := func(rs ...report.Result) {
		for _, r := range rs {
			p.logResult(r)
		}
		results = append(results, rs...)
	}

	add(p.Network(ctx, inv, part))
	add(p.Htpasswd(ctx, inv, part))
	add(p.RegistryService(ctx, inv, part))
	add(p.Trust(ctx, inv, part)...)

	logins := p.Login(ctx, inv, part)
	add(logins...)
	for _, r := range logins {
		if r.Host == inv.Manager.Address && r.Status == report.StatusFailed {
			return results, fault.Fatal(r.Err)
		}
	}

	add(p.NodeLabels(ctx, inv, part)...)
	add(p.Secrets(ctx, inv, part)...)
	add(p.Firewall(ctx, inv, part)...)
	return results, nil
}

// listNames runs a docker "ls" command on the manager and returns the names.
func (p *Provisioner) listNames(ctx context.Context, host inventory.Host, object string) ([]string, error) {
	out, err := p.Exec.Run(ctx, host, remote.Script("docker", object, "ls", "--format", "{{.Name}}"))
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

func (p *Provisioner) hasName(ctx context.Context, host inventory.Host, object, name string) (bool, error) {
	names, err := p.listNames(ctx, host, object)
	if err != nil {
		return false, err
	}
	return contains(names, name), nil
}

// managerSkip returns a skip result when the manager did not answer the probe.
func managerSkip(step string, inv *inventory.Inventory, part probe.Partition) (report.Result, bool) {
	if part.IsReachable(inv.Manager.Address) {
		return report.Result{}, false
	}
	return report.Skipped(step, inv.Manager.Address, report.ReasonUnreachable), true
}

func (p *Provisioner) logResult(res report.Result) {
	if p.Logger == nil {
		return
	}
	switch res.Status {
	case report.StatusFailed:
		p.Logger.Warn("provisioning step failed", "step", res.Step, "host", res.Host, "kind", res.Kind, "error", res.Err)
	case report.StatusSkipped:
		p.Logger.Info("provisioning step skipped", "step", res.Step, "host", res.Host, "reason", res.Reason)
	default:
		p.Logger.Info("provisioning step applied", "step", res.Step, "host", res.Host)
	}
}

func lines(out string) []string {
	var res []string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			res = append(res, l)
		}
	}
	return res
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// absentOnExit treats the given exit codes of a check command as "absent".
func absentOnExit(err error, codes ...int) (bool, error) {
	code := remote.ExitCode(err)
	for _, c := range codes {
		if code == c {
			return false, nil
		}
	}
	return false, err
}
