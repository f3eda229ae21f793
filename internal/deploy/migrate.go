package deploy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/guard"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/report"
)

// Migrate runs the migration command in a disposable container attached to
// the cluster network. Environment values travel through stdin as an env file.
// A failed migration is returned as a fatal error alongside its result.
func (d *Deployer) Migrate(ctx context.Context, inv *inventory.Inventory, params map[string]string) (report.Result, error) {
	mig := inv.Migration
	m := inv.Manager

	command, err := shellquote.Split(mig.Command)
	if err != nil {
		err = fault.Newf(fault.KindConfig, "", "migration.command: %w", err)
		return report.Failed(StepMigrate, m.Address, err), fault.Fatal(err)
	}
	image := string(Substitute([]byte(mig.Image), params))

	args := []string{"run", "--rm", "--network", inv.Network}
	var stdin []byte
	if len(mig.Env) > 0 {
		args = append(args, "--env-file", "/dev/stdin")
		stdin = EnvFile(mig.Env)
	}
	args = append(args, image)
	args = append(args, command...)

	res := guard.Ensure(ctx, StepMigrate, m.Address, guard.Always, func(ctx context.Context) error {
		d.logger().Info("running migration", "image", image, "command", mig.Command)
		out, err := d.Exec.Run(ctx, m, remote.Command{Script: remote.Script("docker", args...).Script, Stdin: stdin})
		if out != "" {
			d.logger().Info("migration output", "output", out)
		}
		return err
	})
	if res.Status == report.StatusFailed {
		return res, fault.Fatal(fmt.Errorf("migration: %w", res.Err))
	}
	return res, nil
}

// EnvFile renders env as KEY=VALUE lines in key order.
func EnvFile(env map[string]string) []byte {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k + "=" + env[k] + "\n")
	}
	return []byte(b.String())
}
