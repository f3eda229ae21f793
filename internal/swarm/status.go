package swarm

import (
	"context"
	"strings"

	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/remote"
)

// HostStatus is the declared and discovered role of one host.
type HostStatus struct {
	Host       inventory.Host
	Discovered Membership
	Err        error
}

// Drifted reports whether the discovered role disagrees with the declaration.
func (s HostStatus) Drifted() bool {
	return s.Err == nil && s.Discovered != NotClustered && !s.Discovered.Matches(s.Host.Role)
}

// Node is one entry of the manager's node list.
type Node struct {
	Hostname string
	Status   string
	Manager  string
}

// Inspect queries the membership of each host. Failures are recorded per host.
func Inspect(ctx context.Context, exec remote.Executor, hosts []inventory.Host) []HostStatus {
	out := make([]HostStatus, 0, len(hosts))
	for _, h := range hosts {
		m, err := Query(ctx, exec, h)
		out = append(out, HostStatus{Host: h, Discovered: m, Err: err})
	}
	return out
}

// Nodes lists the swarm nodes as seen by the manager.
func Nodes(ctx context.Context, exec remote.Executor, manager inventory.Host) ([]Node, error) {
	out, err := exec.Run(ctx, manager, remote.Script("docker", "node", "ls", "--format", "{{.Hostname}}|{{.Status}}|{{.ManagerStatus}}"))
	if err != nil {
		return nil, err
	}
	var nodes []Node
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		for len(parts) < 3 {
			parts = append(parts, "")
		}
		nodes = append(nodes, Node{Hostname: parts[0], Status: parts[1], Manager: parts[2]})
	}
	return nodes, nil
}
