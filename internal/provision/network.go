package provision

import (
	"context"

	"github.com/codex-k8s/swarmctl/internal/guard"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/probe"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/report"
)

// Network creates the attachable overlay network on the manager.
func (p *Provisioner) Network(ctx context.Context, inv *inventory.Inventory, part probe.Partition) report.Result {
	if res, skip := managerSkip(StepNetwork, inv, part); skip {
		return res
	}
	m := inv.Manager
	return guard.Ensure(ctx, StepNetwork, m.Address,
		func(ctx context.Context) (bool, error) {
			return p.hasName(ctx, m, "network", inv.Network)
		},
		func(ctx context.Context) error {
			_, err := p.Exec.Run(ctx, m, remote.Script("docker", "network", "create", "--driver", "overlay", "--attachable", inv.Network))
			return err
		},
	)
}
