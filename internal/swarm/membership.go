// Package swarm drives hosts through the swarm membership state machine.
package swarm

import (
	"context"
	"fmt"
	"strings"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/remote"
)

// Membership is the discovered role of a host. It is queried fresh on every run.
type Membership string

const (
	// NotClustered means the host is not part of any swarm.
	NotClustered Membership = "not_clustered"
	// Manager means the host is a swarm manager.
	Manager Membership = "manager"
	// Worker means the host is a swarm worker.
	Worker Membership = "worker"
)

// ManagerPort is the swarm management port workers join through.
const ManagerPort = 2377

const infoFormat = "{{.Swarm.LocalNodeState}}|{{.Swarm.ControlAvailable}}"

// ParseMembership interprets the output of the membership query.
func ParseMembership(out string) (Membership, error) {
	state, control, _ := strings.Cut(strings.TrimSpace(out), "|")
	switch {
	case state == "inactive":
		return NotClustered, nil
	case state == "active" && control == "true":
		return Manager, nil
	case state == "active" && control == "false":
		return Worker, nil
	default:
		return "", fmt.Errorf("unexpected swarm state %q", out)
	}
}

// Matches reports whether the discovered membership fits the declared role.
func (m Membership) Matches(role inventory.Role) bool {
	return (role == inventory.RoleManager && m == Manager) || (role == inventory.RoleWorker && m == Worker)
}

// Query asks host for its current membership.
func Query(ctx context.Context, exec remote.Executor, host inventory.Host) (Membership, error) {
	out, err := exec.Run(ctx, host, remote.Script("docker", "info", "--format", infoFormat))
	if err != nil {
		return "", err
	}
	m, err := ParseMembership(out)
	if err != nil {
		return "", fault.New(fault.KindParse, host.Address, err)
	}
	return m, nil
}

// DriftError reports a declared role that disagrees with the discovered one.
// It is surfaced, never corrected.
func DriftError(host inventory.Host, discovered Membership) error {
	return fault.Newf(fault.KindDrift, host.Address, "declared %s but node is %s", host.Role, discovered)
}
