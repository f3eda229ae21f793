package teardown

import (
	"context"
	"strings"

	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/remote"
	"github.com/codex-k8s/swarmctl/internal/remote/remotetest"
)

// failSecretRm fails removal of db_password and delegates everything else.
type failSecretRm struct {
	*remotetest.Cluster
}

func (f *failSecretRm) Run(ctx context.Context, host inventory.Host, cmd remote.Command) (string, error) {
	if strings.Contains(cmd.Script, "secret rm db_password") {
		return "", remotetest.Failed(host.Address, cmd.Script, 1, "Error response from daemon: secret db_password is in use")
	}
	return f.Cluster.Run(ctx, host, cmd)
}
