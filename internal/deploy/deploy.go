// Package deploy applies the application stack to the cluster and follows
// it through rollout, dependency health and migration.
package deploy

import (
	"context"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/codex-k8s/swarmctl/internal/guard"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/report"
)

// Report step names.
const (
	StepApply    = "stack.deploy"
	StepConverge = "stack.converge"
	StepHealth   = "migration.health"
	StepMigrate  = "migration"
	StepUpdate   = "service.update"
)

// ReasonNotApplied marks rollout steps skipped because the stack was not deployed.
const ReasonNotApplied = "stack not applied"

var (
	placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	envName     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Substitute replaces ${NAME} placeholders whose NAME is a key of params.
// Unknown placeholders and every other byte of the manifest are kept verbatim.
func Substitute(manifest []byte, params map[string]string) []byte {
	if len(params) == 0 {
		return manifest
	}
	return placeholder.ReplaceAllFunc(manifest, func(m []byte) []byte {
		name := string(placeholder.FindSubmatch(m)[1])
		if v, ok := params[name]; ok {
			return []byte(v)
		}
		return m
	})
}

// Deployer runs stack operations on the manager.
type Deployer struct {
	Exec   remote.Executor
	Logger *slog.Logger
}

// RemotePath is where the descriptor of inv's stack is written on the manager.
func RemotePath(inv *inventory.Inventory) string {
	return path.Join(inv.Stack.RemoteDir, inv.Stack.Name+".yml")
}

// Apply substitutes params into manifest, streams the result to the manager
// and deploys the stack. docker stack deploy converges an existing stack in
// place, so the step has no existence check.
func (d *Deployer) Apply(ctx context.Context, inv *inventory.Inventory, manifest []byte, params map[string]string) report.Result {
	m := inv.Manager
	target := RemotePath(inv)
	body := Substitute(manifest, params)

	return guard.Ensure(ctx, StepApply, m.Address, guard.Always, func(ctx context.Context) error {
		write := remote.Chain(
			remote.Script("mkdir", "-p", inv.Stack.RemoteDir).Script,
			"cat > "+remote.Quote(target),
		)
		if _, err := d.Exec.Run(ctx, m, remote.Command{Script: write, Stdin: body}); err != nil {
			return err
		}
		d.logger().Info("stack descriptor written", "path", target, "bytes", len(body))

		_, err := d.Exec.Run(ctx, m, DeployCommand(inv, params))
		return err
	})
}

// DeployCommand runs docker stack deploy for inv's stack with params exported
// to its environment, so interpolation forms Substitute leaves alone, such as
// ${NAME:-default}, resolve against the same values. The assignments are
// sourced from stdin and never appear in argv. Keys that are not valid
// variable names are not exported.
func DeployCommand(inv *inventory.Inventory, params map[string]string) remote.Command {
	deploy := remote.Script("docker", "stack", "deploy", "--with-registry-auth", "-c", RemotePath(inv), inv.Stack.Name)

	keys := make([]string, 0, len(params))
	for k := range params {
		if envName.MatchString(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return deploy
	}
	slices.Sort(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k + "=" + remote.Quote(params[k]) + "\n")
	}
	script := remote.Chain("set -a", ". /dev/stdin", "set +a", deploy.Script)
	return remote.Command{Script: script, Stdin: []byte(b.String())}
}

// UpdateImage rolls service to image without redeploying the whole stack.
func (d *Deployer) UpdateImage(ctx context.Context, inv *inventory.Inventory, service, image string) report.Result {
	m := inv.Manager
	return guard.Ensure(ctx, StepUpdate, m.Address, guard.Always, func(ctx context.Context) error {
		_, err := d.Exec.Run(ctx, m, remote.Script("docker", "service", "update", "--image", image, "--with-registry-auth", service))
		return err
	})
}

func (d *Deployer) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.Logger
}
