package provision

import (
	"context"

	"github.com/codex-k8s/swarmctl/internal/guard"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/probe"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/report"
)

const (
	labelKey   = "type"
	labelValue = "worker"
)

// NodeLabels tags every reachable worker node with type=worker so stacks can
// place workloads with a node.labels constraint.
func (p *Provisioner) NodeLabels(ctx context.Context, inv *inventory.Inventory, part probe.Partition) []report.Result {
	var results []report.Result
	managerUp := part.IsReachable(inv.Manager.Address)
	for _, w := range inv.Workers {
		if !part.IsReachable(w.Address) || !managerUp {
			results = append(results, report.Skipped(StepNodeLabel, w.Address, report.ReasonUnreachable))
			continue
		}

		hostname, err := p.Exec.Run(ctx, w, remote.Script("hostname"))
		if err != nil {
			if remote.IsConnectivity(err) {
				results = append(results, report.Skipped(StepNodeLabel, w.Address, report.ReasonUnreachable))
			} else {
				results = append(results, report.Failed(StepNodeLabel, w.Address, err))
			}
			continue
		}

		m := inv.Manager
		results = append(results, guard.Ensure(ctx, StepNodeLabel, w.Address,
			func(ctx context.Context) (bool, error) {
				out, err := p.Exec.Run(ctx, m, remote.Script("docker", "node", "inspect", "--format", `{{index .Spec.Labels "`+labelKey+`"}}`, hostname))
				if err != nil {
					return false, err
				}
				return out == labelValue, nil
			},
			func(ctx context.Context) error {
				_, err := p.Exec.Run(ctx, m, remote.Script("docker", "node", "update", "--label-add", labelKey+"="+labelValue, hostname))
				return err
			},
		))
	}
	return results
}
