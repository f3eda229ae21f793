package provision

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/guard"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/probe"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/report"
)

// Secrets creates each inventory secret once. A secret that already exists is
// never updated, even when its declared value changed; see Rotate.
func (p *Provisioner) Secrets(ctx context.Context, inv *inventory.Inventory, part probe.Partition) []report.Result {
	names := inv.SecretNames()
	results := make([]report.Result, 0, len(names))
	m := inv.Manager
	for _, name := range names {
		step := StepSecret + "." + name
		if res, skip := managerSkip(step, inv, part); skip {
			results = append(results, res)
			continue
		}
		results = append(results, guard.Ensure(ctx, step, m.Address,
			func(ctx context.Context) (bool, error) {
				return p.hasName(ctx, m, "secret", name)
			},
			func(ctx context.Context) error {
				return p.createSecret(ctx, m, name, inv.Secrets[name])
			},
		))
	}
	return results
}

func (p *Provisioner) createSecret(ctx context.Context, m inventory.Host, name, value string) error {
	cmd := remote.Script("docker", "secret", "create", name, "-")
	_, err := p.Exec.Run(ctx, m, cmd.WithStdin([]byte(value)))
	return err
}

// Rotate creates the next versioned secret for name with the current
// inventory value and returns its name: the first rotation of "db_password"
// creates "db_password_v2". Existing secrets are untouched; services must be
// pointed at the new name by the stack manifest.
func (p *Provisioner) Rotate(ctx context.Context, inv *inventory.Inventory, name string) (string, error) {
	value, ok := inv.Secrets[name]
	if !ok {
		return "", fault.Newf(fault.KindConfig, "", "secret %q is not declared in the inventory", name)
	}

	existing, err := p.listNames(ctx, inv.Manager, "secret")
	if err != nil {
		return "", fmt.Errorf("list secrets: %w", err)
	}

	next := NextVersion(name, existing)
	if err := p.createSecret(ctx, inv.Manager, next, value); err != nil {
		return "", fmt.Errorf("create secret %s: %w", next, err)
	}
	p.info("secret rotated", "secret", name, "version", next)
	return next, nil
}

// NextVersion returns the name following the highest existing version of
// base. The unversioned base counts as version 1.
func NextVersion(base string, existing []string) string {
	re := regexp.MustCompile("^" + regexp.QuoteMeta(base) + `_v(\d+)$`)
	highest := 1
	for _, name := range existing {
		if m := re.FindStringSubmatch(name); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
				highest = n
			}
		}
	}
	return base + "_v" + strconv.Itoa(highest+1)
}

func (p *Provisioner) info(msg string, args ...any) {
	if p.Logger != nil {
		p.Logger.Info(msg, args...)
	}
}
