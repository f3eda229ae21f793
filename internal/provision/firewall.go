package provision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/codex-k8s/swarmctl/internal/guard"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/probe"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/report"
)

const (
	// FingerprintPath records the ruleset last applied to a host.
	FingerprintPath = "/etc/swarmctl/firewall.fingerprint"

	// ReasonNoUFW marks hosts without ufw.
	ReasonNoUFW = "ufw not installed"
	// ReasonFirewallDisabled marks runs with firewall management turned off.
	ReasonFirewallDisabled = "firewall management disabled"
)

// ClusterPorts are opened only to cluster members: swarm management, node
// gossip, overlay traffic and the registry.
var ClusterPorts = []string{"2377/tcp", "7946/tcp", "7946/udp", "4789/udp", "5000/tcp"}

// Rules returns the ufw commands for host in application order. The SSH
// allow rule always precedes enable so the operator cannot be locked out.
func Rules(host inventory.Host, inv *inventory.Inventory) []string {
	sshPort := host.Port
	if sshPort == 0 {
		sshPort = 22
	}

	rules := []string{
		"ufw --force reset",
		"ufw default deny incoming",
		"ufw default allow outgoing",
		"ufw allow " + strconv.Itoa(sshPort) + "/tcp",
	}
	for _, port := range inv.Firewall.PublicPorts {
		rules = append(rules, "ufw allow "+port)
	}
	for _, member := range inv.Addresses() {
		for _, spec := range ClusterPorts {
			port, proto, _ := strings.Cut(spec, "/")
			rules = append(rules, fmt.Sprintf("ufw allow from %s to any port %s proto %s", member, port, proto))
		}
	}
	return append(rules, "ufw --force enable")
}

// Fingerprint identifies a ruleset.
func Fingerprint(rules []string) string {
	sum := sha256.Sum256([]byte(strings.Join(rules, "\n")))
	return hex.EncodeToString(sum[:])
}

// Firewall resets and applies the ruleset on every reachable host. Hosts whose
// recorded fingerprint matches and whose firewall is active are skipped.
func (p *Provisioner) Firewall(ctx context.Context, inv *inventory.Inventory, part probe.Partition) []report.Result {
	var results []report.Result
	for _, h := range inv.Hosts() {
		switch {
		case inv.Firewall.Disabled:
			results = append(results, report.Skipped(StepFirewall, h.Address, ReasonFirewallDisabled))
		case !part.IsReachable(h.Address):
			results = append(results, report.Skipped(StepFirewall, h.Address, report.ReasonUnreachable))
		default:
			results = append(results, p.firewallHost(ctx, h, inv))
		}
	}
	return results
}

func (p *Provisioner) firewallHost(ctx context.Context, h inventory.Host, inv *inventory.Inventory) report.Result {
	if _, err := p.Exec.Run(ctx, h, remote.Command{Script: "command -v ufw"}); err != nil {
		if remote.IsConnectivity(err) {
			return report.Skipped(StepFirewall, h.Address, report.ReasonUnreachable)
		}
		if remote.ExitCode(err) == 1 {
			return report.Skipped(StepFirewall, h.Address, ReasonNoUFW)
		}
		return report.Failed(StepFirewall, h.Address, err)
	}

	rules := Rules(h, inv)
	fingerprint := Fingerprint(rules)

	return guard.Ensure(ctx, StepFirewall, h.Address,
		func(ctx context.Context) (bool, error) {
			recorded, err := p.Exec.Run(ctx, h, remote.Command{Script: remote.Sudo(h, "cat "+FingerprintPath)})
			if err != nil {
				return absentOnExit(err, 1)
			}
			if recorded != fingerprint {
				return false, nil
			}
			status, err := p.Exec.Run(ctx, h, remote.Command{Script: remote.Sudo(h, "ufw status")})
			if err != nil {
				return false, err
			}
			return strings.HasPrefix(status, "Status: active"), nil
		},
		func(ctx context.Context) error {
			scripts := make([]string, 0, len(rules)+2)
			for _, r := range rules {
				scripts = append(scripts, remote.Sudo(h, r))
			}
			scripts = append(scripts,
				remote.Sudo(h, "mkdir -p /etc/swarmctl"),
				remote.Sudo(h, "tee "+FingerprintPath)+" >/dev/null",
			)
			_, err := p.Exec.Run(ctx, h, remote.Command{Script: remote.Chain(scripts...), Stdin: []byte(fingerprint)})
			return err
		},
	)
}
