package deploy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/poll"
	"github.com/codex-k8s/swarmctl/internal/remote/remotetest"
	"github.com/codex-k8s/swarmctl/internal/report"
)

const manifest = `services:
  app:
    image: ${REGISTRY_URL}/shop:${TAG}
    environment:
      - SHELL_VAR=${HOME}
      - LITERAL=$$ESCAPED
    deploy:
      replicas: 3
  db:
    image: postgres:16
`

var fast = poll.Spec{Attempts: 20, Interval: time.Millisecond}

func testInventory() *inventory.Inventory {
	return &inventory.Inventory{
		Manager: inventory.Host{Address: "10.0.0.1", User: "root", Port: 22, Role: inventory.RoleManager},
		Workers: []inventory.Host{{Address: "10.0.0.2", User: "root", Port: 22, Role: inventory.RoleWorker}},
		Network: "app_network",
		Stack: inventory.Stack{
			Name:      "shop",
			Service:   "shop_app",
			Replicas:  3,
			RemoteDir: "/tmp/swarmctl",
			Params:    map[string]string{"REGISTRY_URL": "10.0.0.1:5000", "TAG": "20260101_120000"},
		},
	}
}

func newCluster() *remotetest.Cluster {
	cluster := remotetest.NewCluster("10.0.0.1", "10.0.0.2")
	cluster.Bootstrap("10.0.0.1", "10.0.0.2")
	return cluster
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		params map[string]string
		want   string
	}{
		{name: "known", in: "image: ${A}/x", params: map[string]string{"A": "reg"}, want: "image: reg/x"},
		{name: "unknown kept", in: "${A} ${B}", params: map[string]string{"A": "1"}, want: "1 ${B}"},
		{name: "bare dollar kept", in: "$A ${A}", params: map[string]string{"A": "1"}, want: "$A 1"},
		{name: "repeated", in: "${A}${A}", params: map[string]string{"A": "x"}, want: "xx"},
		{name: "no params", in: "${A}", want: "${A}"},
		{name: "empty value", in: "v=${A};", params: map[string]string{"A": ""}, want: "v=;"},
		{name: "not an identifier", in: "${1A} ${A-b}", params: map[string]string{"1A": "x", "A": "y"}, want: "${1A} ${A-b}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(Substitute([]byte(tt.in), tt.params)))
		})
	}
}

func TestApplyWritesDescriptorThroughStdin(t *testing.T) {
	cluster := newCluster()
	inv := testInventory()

	res := (&Deployer{Exec: cluster}).Apply(context.Background(), inv, []byte(manifest), inv.Stack.Params)
	require.Equal(t, report.StatusOK, res.Status, res.Message())

	written := cluster.Nodes["10.0.0.1"].Files["/tmp/swarmctl/shop.yml"]
	assert.Contains(t, written, "image: 10.0.0.1:5000/shop:20260101_120000")
	assert.Contains(t, written, "SHELL_VAR=${HOME}")
	assert.Contains(t, written, "LITERAL=$$ESCAPED")

	require.Contains(t, cluster.Services, "shop_app")
	assert.Equal(t, 3, cluster.Services["shop_app"].Replicas)
	assert.Equal(t, []string{"shop_app", "shop_db"}, cluster.Stacks["shop"])
	assert.Equal(t, 1, cluster.CountCalls("docker stack deploy --with-registry-auth -c /tmp/swarmctl/shop.yml shop"))
	for _, call := range cluster.Calls() {
		assert.NotContains(t, call.Script, "20260101_120000", "descriptor content never goes through argv")
	}
}

func TestApplyExportsParamsToDeploy(t *testing.T) {
	cluster := newCluster()
	inv := testInventory()
	params := map[string]string{"REGISTRY_URL": "10.0.0.1:5000", "TAG": "it's 1", "not-a-name": "x"}

	res := (&Deployer{Exec: cluster}).Apply(context.Background(), inv, []byte("services:\n  app:\n    image: ${REGISTRY_URL}/shop:${TAG:-latest}\n"), params)
	require.Equal(t, report.StatusOK, res.Status, res.Message())

	assert.Contains(t, cluster.Nodes["10.0.0.1"].Files["/tmp/swarmctl/shop.yml"], "${TAG:-latest}", "left for docker to resolve")
	assert.Equal(t, map[string]string{"REGISTRY_URL": "10.0.0.1:5000", "TAG": "it's 1"}, cluster.StackEnv["shop"])
	for _, call := range cluster.Calls() {
		assert.NotContains(t, call.Script, "10.0.0.1:5000", "params never go through argv")
	}
}

func TestDeployCommand(t *testing.T) {
	inv := testInventory()

	bare := DeployCommand(inv, map[string]string{"-bad": "x"})
	assert.Equal(t, "docker stack deploy --with-registry-auth -c /tmp/swarmctl/shop.yml shop", bare.Script)
	assert.Empty(t, bare.Stdin)

	cmd := DeployCommand(inv, map[string]string{"B": "two words", "A": ""})
	assert.Equal(t, "set -a && . /dev/stdin && set +a && docker stack deploy --with-registry-auth -c /tmp/swarmctl/shop.yml shop", cmd.Script)
	assert.Equal(t, "A=''\nB='two words'\n", string(cmd.Stdin))
}

func TestApplyFailureIsReported(t *testing.T) {
	cluster := newCluster()
	inv := testInventory()

	res := (&Deployer{Exec: cluster}).Apply(context.Background(), inv, []byte("services: ["), nil)
	assert.Equal(t, report.StatusFailed, res.Status)
	assert.Equal(t, fault.KindCommand, res.Kind)
}

func TestWaitConvergedSucceeds(t *testing.T) {
	cluster := newCluster()
	inv := testInventory()
	d := &Deployer{Exec: cluster}
	require.Equal(t, report.StatusOK, d.Apply(context.Background(), inv, []byte(manifest), inv.Stack.Params).Status)

	seq := []int{0, 1, 3}
	cluster.Running = func(_ string, poll, _ int) int { return seq[min(poll, len(seq))-1] }

	res, rollout := d.WaitConverged(context.Background(), inv, "shop_app", 3, fast)
	assert.Equal(t, report.StatusOK, res.Status)
	assert.True(t, rollout.Converged())
	assert.Equal(t, 3, rollout.Attempts)
	assert.Equal(t, 3, cluster.ServicePolls["shop_app"])
}

func TestWaitConvergedIsBounded(t *testing.T) {
	cluster := newCluster()
	inv := testInventory()
	d := &Deployer{Exec: cluster}
	require.Equal(t, report.StatusOK, d.Apply(context.Background(), inv, []byte(manifest), inv.Stack.Params).Status)

	seq := []int{0, 0, 1, 2}
	cluster.Running = func(_ string, poll, _ int) int {
		if poll <= len(seq) {
			return seq[poll-1]
		}
		return 2
	}

	res, rollout := d.WaitConverged(context.Background(), inv, "shop_app", 3, fast)

	assert.Equal(t, report.StatusFailed, res.Status)
	assert.Equal(t, fault.KindTimeout, res.Kind)
	assert.Contains(t, res.Message(), "2/3 replicas running after 20 attempts")
	assert.Equal(t, 20, rollout.Attempts)
	assert.Equal(t, 2, rollout.Running)
	assert.False(t, rollout.Converged())
	assert.Equal(t, 20, cluster.ServicePolls["shop_app"], "exactly the bounded number of polls")
	assert.Equal(t, 1, cluster.CountCalls("--no-trunc"), "diagnostic dump after exhaustion")
}

func TestWaitConvergedKeepsPollingUntilServiceExists(t *testing.T) {
	cluster := newCluster()
	inv := testInventory()

	res, rollout := (&Deployer{Exec: cluster}).WaitConverged(context.Background(), inv, "shop_app", 3,
		poll.Spec{Attempts: 4, Interval: time.Millisecond})

	assert.Equal(t, report.StatusFailed, res.Status)
	assert.Equal(t, fault.KindTimeout, res.Kind)
	assert.Equal(t, 4, rollout.Attempts)
}

func TestWaitConvergedStopsOnUnreachableManager(t *testing.T) {
	cluster := newCluster()
	cluster.Nodes["10.0.0.1"].Unreachable = true
	inv := testInventory()

	res, rollout := (&Deployer{Exec: cluster}).WaitConverged(context.Background(), inv, "shop_app", 3, fast)
	assert.Equal(t, report.StatusSkipped, res.Status)
	assert.Equal(t, 1, rollout.Attempts)
}

func TestCountRunning(t *testing.T) {
	assert.Equal(t, 0, CountRunning(""))
	assert.Equal(t, 2, CountRunning("Running 5 seconds ago\nPreparing 2 seconds ago\n  Running 1 second ago"))
}

func TestWaitHealthy(t *testing.T) {
	cluster := newCluster()
	inv := testInventory()
	cluster.Healthy = func(_ string, poll int) bool { return poll >= 3 }

	res := (&Deployer{Exec: cluster}).WaitHealthy(context.Background(), inv, "shop_db", fast)
	assert.Equal(t, report.StatusOK, res.Status)
	assert.Equal(t, 3, cluster.HealthPolls["shop_db"])
}

func TestWaitHealthyIsSoft(t *testing.T) {
	cluster := newCluster()
	inv := testInventory()
	cluster.Healthy = func(string, int) bool { return false }

	res := (&Deployer{Exec: cluster}).WaitHealthy(context.Background(), inv, "shop_db", poll.Spec{Attempts: 5, Interval: time.Millisecond})
	assert.Equal(t, report.StatusFailed, res.Status)
	assert.Equal(t, fault.KindTimeout, res.Kind)
	assert.Equal(t, 5, cluster.HealthPolls["shop_db"])
}

func TestMigrate(t *testing.T) {
	cluster := newCluster()
	inv := testInventory()
	inv.Migration = &inventory.Migration{
		Image:   "${REGISTRY_URL}/shop:latest",
		Command: `python manage.py migrate --database "default"`,
		Env:     map[string]string{"DB_PASSWORD": "pg-secret", "DB_HOST": "shop_db"},
	}

	res, err := (&Deployer{Exec: cluster}).Migrate(context.Background(), inv, inv.Stack.Params)
	require.NoError(t, err)
	assert.Equal(t, report.StatusOK, res.Status)

	require.Len(t, cluster.Migrations, 1)
	run := cluster.Migrations[0]
	assert.Equal(t, []string{
		"--rm", "--network", "app_network", "--env-file", "/dev/stdin",
		"10.0.0.1:5000/shop:latest", "python", "manage.py", "migrate", "--database", "default",
	}, run.Args)
	assert.Equal(t, "DB_HOST=shop_db\nDB_PASSWORD=pg-secret\n", run.Stdin)
	for _, call := range cluster.Calls() {
		assert.NotContains(t, call.Script, "pg-secret")
	}
}

func TestMigrateWithoutEnvUsesNoStdin(t *testing.T) {
	cluster := newCluster()
	inv := testInventory()
	inv.Migration = &inventory.Migration{Image: "app:latest", Command: "alembic upgrade head"}

	_, err := (&Deployer{Exec: cluster}).Migrate(context.Background(), inv, nil)
	require.NoError(t, err)
	assert.NotContains(t, cluster.Migrations[0].Args, "--env-file")
}

func TestMigrateFailureIsFatal(t *testing.T) {
	cluster := newCluster()
	cluster.MigrationExit = 1
	inv := testInventory()
	inv.Migration = &inventory.Migration{Image: "app:latest", Command: "migrate"}

	res, err := (&Deployer{Exec: cluster}).Migrate(context.Background(), inv, nil)
	require.Error(t, err)
	assert.True(t, fault.IsFatal(err))
	assert.Equal(t, report.StatusFailed, res.Status)
}

func TestMigrateRejectsUnbalancedCommand(t *testing.T) {
	cluster := newCluster()
	inv := testInventory()
	inv.Migration = &inventory.Migration{Image: "app:latest", Command: `migrate "unterminated`}

	_, err := (&Deployer{Exec: cluster}).Migrate(context.Background(), inv, nil)
	require.Error(t, err)
	assert.True(t, fault.IsFatal(err))
	assert.Equal(t, fault.KindConfig, fault.KindOf(err))
	assert.Empty(t, cluster.Migrations)
}

func TestUpdateImage(t *testing.T) {
	cluster := newCluster()
	inv := testInventory()
	d := &Deployer{Exec: cluster}
	require.Equal(t, report.StatusOK, d.Apply(context.Background(), inv, []byte(manifest), inv.Stack.Params).Status)

	res := d.UpdateImage(context.Background(), inv, "shop_app", "10.0.0.1:5000/shop:20260102_080000")
	assert.Equal(t, report.StatusOK, res.Status)
	assert.Equal(t, "10.0.0.1:5000/shop:20260102_080000", cluster.Services["shop_app"].Image)
	assert.Equal(t, 1, cluster.Services["shop_app"].Updates)

	res = d.UpdateImage(context.Background(), inv, "shop_missing", "x:1")
	assert.Equal(t, report.StatusFailed, res.Status)
}

func TestEnvFile(t *testing.T) {
	assert.Equal(t, "A=1\nB=two words\n", string(EnvFile(map[string]string{"B": "two words", "A": "1"})))
}
