// Package probe sweeps the inventory for reachable hosts before any mutation
// and holds the single operator decision point of a run.
package probe

import (
	"context"
	"log/slog"
	"time"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/report"
)

// DefaultTimeout bounds each no-op probe call.
const DefaultTimeout = 10 * time.Second

// Step is the report step name of the sweep.
const Step = "probe"

// Partition splits the inventory into reachable and unreachable hosts.
type Partition struct {
	Reachable   []inventory.Host
	Unreachable []inventory.Host
	// Errors holds the probe failure per unreachable address.
	Errors map[string]error
}

// Complete reports whether every host answered.
func (p Partition) Complete() bool { return len(p.Unreachable) == 0 }

// IsReachable reports whether address answered the probe.
func (p Partition) IsReachable(address string) bool {
	for _, h := range p.Reachable {
		if h.Address == address {
			return true
		}
	}
	return false
}

// ManagerReachable reports whether the declared manager answered.
func (p Partition) ManagerReachable() bool {
	for _, h := range p.Reachable {
		if h.Role == inventory.RoleManager {
			return true
		}
	}
	return false
}

// ReachableWorkers returns the reachable hosts declared as workers.
func (p Partition) ReachableWorkers() []inventory.Host {
	var out []inventory.Host
	for _, h := range p.Reachable {
		if h.Role == inventory.RoleWorker {
			out = append(out, h)
		}
	}
	return out
}

// Results converts the partition into report entries.
func (p Partition) Results() []report.Result {
	out := make([]report.Result, 0, len(p.Reachable)+len(p.Unreachable))
	for _, h := range p.Reachable {
		out = append(out, report.OK(Step, h.Address))
	}
	for _, h := range p.Unreachable {
		out = append(out, report.Failed(Step, h.Address, p.Errors[h.Address]))
	}
	return out
}

// Prober runs the sweep.
type Prober struct {
	Exec    remote.Executor
	Timeout time.Duration
	Logger  *slog.Logger
}

// Probe runs a no-op command on every host in inventory order.
func (p *Prober) Probe(ctx context.Context, inv *inventory.Inventory) Partition {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	part := Partition{Errors: make(map[string]error)}
	for _, h := range inv.Hosts() {
		_, err := p.Exec.Run(ctx, h, remote.Script("true").WithTimeout(timeout))
		if err != nil {
			part.Unreachable = append(part.Unreachable, h)
			part.Errors[h.Address] = err
			p.log().Warn("host unreachable", "host", h.Address, "role", h.Role, "kind", fault.KindOf(err), "error", err)
			continue
		}
		part.Reachable = append(part.Reachable, h)
		p.log().Debug("host reachable", "host", h.Address, "role", h.Role)
	}
	return part
}

func (p *Prober) log() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger
}

// Confirmer asks the operator whether to continue with a partial inventory.
type Confirmer interface {
	ConfirmPartial(ctx context.Context, part Partition) (bool, error)
}

// Answer is a Confirmer with a fixed decision, used for --yes and non-interactive sessions.
type Answer bool

// ConfirmPartial returns the fixed decision.
func (a Answer) ConfirmPartial(context.Context, Partition) (bool, error) { return bool(a), nil }

// Gate lets the run continue when every host answered, and otherwise asks
// confirmer. Declining yields a UserAbort fault. When requireManager is set an
// unreachable manager aborts without asking, since nothing manager-scoped
// could proceed.
func Gate(ctx context.Context, part Partition, confirmer Confirmer, requireManager bool) error {
	if part.Complete() {
		return nil
	}
	if requireManager && !part.ManagerReachable() {
		return fault.Fatal(fault.Newf(fault.KindConnectivity, managerAddress(part), "manager is unreachable"))
	}

	ok, err := confirmer.ConfirmPartial(ctx, part)
	if err != nil {
		return fault.Fatal(fault.New(fault.KindUserAbort, "", err))
	}
	if !ok {
		return fault.Fatal(fault.Newf(fault.KindUserAbort, "", "operator declined to continue with %d unreachable host(s)", len(part.Unreachable)))
	}
	return nil
}

func managerAddress(part Partition) string {
	for _, h := range part.Unreachable {
		if h.Role == inventory.RoleManager {
			return h.Address
		}
	}
	return ""
}
