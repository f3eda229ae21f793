package provision

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/codex-k8s/swarmctl/internal/daemonconfig"
	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/guard"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/probe"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/report"
)

const (
	// AuthDir holds the registry credential file on the manager.
	AuthDir = "/root/registry/auth"
	// HtpasswdPath is the registry credential file.
	HtpasswdPath = AuthDir + "/htpasswd"
	// RegistryService is the name of the registry swarm service.
	RegistryService = "registry"

	registryImage    = "registry:2"
	htpasswdImage    = "httpd:2.4"
	registryPort     = "5000"
	registryVolume   = "registry_data"
	dockerConfigFile = `"$HOME/.docker/config.json"`
)

// ReasonMalformedTrust marks a daemon.json that could not be parsed and was replaced.
const ReasonMalformedTrust = "malformed daemon.json replaced"

// Htpasswd generates the registry credential file once. An existing file is
// left alone even if the password changed.
func (p *Provisioner) Htpasswd(ctx context.Context, inv *inventory.Inventory, part probe.Partition) report.Result {
	if res, skip := managerSkip(StepHtpasswd, inv, part); skip {
		return res
	}
	m := inv.Manager
	return guard.Ensure(ctx, StepHtpasswd, m.Address,
		func(ctx context.Context) (bool, error) {
			_, err := p.Exec.Run(ctx, m, remote.Command{Script: remote.Sudo(m, "test -f "+HtpasswdPath)})
			if err != nil {
				return absentOnExit(err, 1)
			}
			return true, nil
		},
		func(ctx context.Context) error {
			gen := remote.Script("docker", "run", "--rm", "-i", "--entrypoint", "htpasswd", htpasswdImage, "-Bni", inv.Registry.User)
			entry, err := p.Exec.Run(ctx, m, gen.WithStdin([]byte(inv.Registry.Password)))
			if err != nil {
				return err
			}
			if !strings.HasPrefix(entry, inv.Registry.User+":") {
				return fault.Newf(fault.KindParse, m.Address, "unexpected htpasswd output")
			}
			write := remote.Chain(
				remote.Sudo(m, "mkdir -p "+AuthDir),
				remote.Sudo(m, "tee "+HtpasswdPath)+" >/dev/null",
			)
			_, err = p.Exec.Run(ctx, m, remote.Command{Script: write, Stdin: []byte(entry + "\n")})
			return err
		},
	)
}

// RegistryService starts the private registry on a manager node.
func (p *Provisioner) RegistryService(ctx context.Context, inv *inventory.Inventory, part probe.Partition) report.Result {
	if res, skip := managerSkip(StepRegistry, inv, part); skip {
		return res
	}
	m := inv.Manager
	return guard.Ensure(ctx, StepRegistry, m.Address,
		func(ctx context.Context) (bool, error) {
			return p.hasName(ctx, m, "service", RegistryService)
		},
		func(ctx context.Context) error {
			_, err := p.Exec.Run(ctx, m, remote.Script("docker", "service", "create",
				"--name", RegistryService,
				"--publish", publishedPort(inv.Registry.Endpoint)+":"+registryPort,
				"--constraint", "node.role == manager",
				"--mount", "type=volume,source="+registryVolume+",destination=/var/lib/registry",
				"--mount", "type=bind,source="+AuthDir+",destination=/auth",
				"-e", "REGISTRY_AUTH=htpasswd",
				"-e", "REGISTRY_AUTH_HTPASSWD_REALM=Registry Realm",
				"-e", "REGISTRY_AUTH_HTPASSWD_PATH=/auth/htpasswd",
				registryImage,
			))
			return err
		},
	)
}

// Trust adds the registry to insecure-registries on every reachable host and
// restarts docker only where the document changed.
func (p *Provisioner) Trust(ctx context.Context, inv *inventory.Inventory, part probe.Partition) []report.Result {
	var results []report.Result
	for _, h := range inv.Hosts() {
		if !part.IsReachable(h.Address) {
			results = append(results, report.Skipped(StepTrust, h.Address, report.ReasonUnreachable))
			continue
		}
		results = append(results, p.trustHost(ctx, h, inv.Registry.Endpoint))
	}
	return results
}

func (p *Provisioner) trustHost(ctx context.Context, h inventory.Host, endpoint string) report.Result {
	var (
		patched   []byte
		recovered bool
	)
	res := guard.Ensure(ctx, StepTrust, h.Address,
		func(ctx context.Context) (bool, error) {
			doc, err := p.Exec.Run(ctx, h, remote.Command{Script: remote.Sudo(h, "cat "+daemonconfig.Path)})
			if err != nil {
				if _, err := absentOnExit(err, 1); err != nil {
					return false, err
				}
				doc = ""
			}

			if _, err := daemonconfig.Registries([]byte(doc)); errors.Is(err, daemonconfig.ErrNotList) {
				p.warn("daemon config key replaced", "host", h.Address, "key", daemonconfig.Key, "error", err)
			}
			out, changed, err := daemonconfig.Patch([]byte(doc), endpoint)
			if errors.Is(err, daemonconfig.ErrMalformed) {
				p.warn("daemon config unreadable, starting from an empty document", "host", h.Address, "kind", fault.KindParse, "error", err)
				recovered = true
				out, changed, err = daemonconfig.Patch(daemonconfig.Empty, endpoint)
			}
			if err != nil {
				return false, fault.New(fault.KindParse, h.Address, err)
			}
			patched = out
			return !changed, nil
		},
		func(ctx context.Context) error {
			script := remote.Chain(
				remote.Sudo(h, "mkdir -p /etc/docker"),
				remote.Sudo(h, "tee "+daemonconfig.Path)+" >/dev/null",
				remote.Sudo(h, "systemctl restart docker"),
			)
			_, err := p.Exec.Run(ctx, h, remote.Command{Script: script, Stdin: patched})
			return err
		},
	)
	if recovered && res.Status == report.StatusOK {
		res.Reason = ReasonMalformedTrust
	}
	return res
}

// Login logs every reachable host into the registry with the password on stdin.
func (p *Provisioner) Login(ctx context.Context, inv *inventory.Inventory, part probe.Partition) []report.Result {
	var results []report.Result
	endpoint := inv.Registry.Endpoint
	for _, h := range inv.Hosts() {
		if !part.IsReachable(h.Address) {
			results = append(results, report.Skipped(StepLogin, h.Address, report.ReasonUnreachable))
			continue
		}
		results = append(results, guard.Ensure(ctx, StepLogin, h.Address,
			func(ctx context.Context) (bool, error) {
				_, err := p.Exec.Run(ctx, h, remote.Command{Script: "grep -qF -- " + remote.Quote(endpoint) + " " + dockerConfigFile})
				if err != nil {
					return absentOnExit(err, 1, 2)
				}
				return true, nil
			},
			func(ctx context.Context) error {
				cmd := remote.Script("docker", "login", endpoint, "-u", inv.Registry.User, "--password-stdin")
				_, err := p.Exec.Run(ctx, h, cmd.WithStdin([]byte(inv.Registry.Password)))
				return err
			},
		))
	}
	return results
}

func (p *Provisioner) warn(msg string, args ...any) {
	if p.Logger != nil {
		p.Logger.Warn(msg, args...)
	}
}

// publishedPort returns the port of endpoint, defaulting to the registry port.
func publishedPort(endpoint string) string {
	if _, port, err := net.SplitHostPort(endpoint); err == nil && port != "" {
		return port
	}
	return registryPort
}
