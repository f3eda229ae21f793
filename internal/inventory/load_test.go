package inventory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/swarmctl/internal/fault"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const yamlInventory = `
manager:
  address: 10.0.0.1
  key_path: ~/.ssh/id_ed25519
workers:
  - address: 10.0.0.2
  - address: 10.0.0.3
    user: ubuntu
    port: 2222
registry:
  user: admin
  password: ${REGISTRY_PASSWORD}
stack:
  name: shop
  descriptor: deploy/services.yml
  replicas: 3
  params:
    REGISTRY_URL: 10.0.0.1:5000
secrets:
  app_secret: ${APP_SECRET}
  db_password: plain
env_files:
  - prod.env
`

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "prod.env", "REGISTRY_PASSWORD=hunter2\nAPP_SECRET=from-env-file\n")
	path := writeFile(t, dir, "inventory.yaml", yamlInventory)

	inv, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, RoleManager, inv.Manager.Role)
	assert.Equal(t, "root", inv.Manager.User)
	assert.Equal(t, 22, inv.Manager.Port)
	require.Len(t, inv.Workers, 2)
	assert.Equal(t, RoleWorker, inv.Workers[1].Role)
	assert.Equal(t, "10.0.0.3:2222", inv.Workers[1].DialAddress())
	assert.Equal(t, "ubuntu@10.0.0.3", inv.Workers[1].Target())

	assert.Equal(t, "hunter2", inv.Registry.Password)
	assert.Equal(t, "10.0.0.1:5000", inv.Registry.Endpoint)
	assert.Equal(t, "from-env-file", inv.Secrets["app_secret"])
	assert.Equal(t, []string{"app_secret", "db_password"}, inv.SecretNames())

	assert.Equal(t, "shop_app", inv.Stack.Service)
	assert.Equal(t, 20, inv.Stack.Rollout.Attempts)
	assert.Equal(t, 10*time.Second, inv.Stack.Rollout.IntervalDuration())
	assert.Equal(t, "app_network", inv.Network)
	assert.Equal(t, filepath.Join(dir, "deploy", "services.yml"), inv.DescriptorPath())
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, inv.Addresses())
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "inventory.json", `{
		"manager": {"address": "192.168.1.10", "user": "admin"},
		"registry": {"user": "u", "password": "p", "endpoint": "registry.local:5000"},
		"stack": {"name": "app", "descriptor": "/abs/stack.yml", "service": "app_web"},
		"migration": {"dependency": "app_db", "image": "app:latest", "command": "alembic upgrade head"}
	}`)

	inv, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, inv.Workers)
	assert.Equal(t, "registry.local:5000", inv.Registry.Endpoint)
	assert.Equal(t, "/abs/stack.yml", inv.DescriptorPath())
	require.NotNil(t, inv.Migration)
	assert.Equal(t, 30, inv.Migration.Health.Attempts)
	assert.Equal(t, 5*time.Second, inv.Migration.Health.IntervalDuration())
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "inventory.toml", `
network = "backend"

[manager]
address = "10.1.0.1"

[[workers]]
address = "10.1.0.2"

[registry]
user = "u"
password = "p"

[stack]
name = "api"
descriptor = "stack.yml"

[firewall]
public_ports = ["443/tcp"]
`)

	inv, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "backend", inv.Network)
	assert.Equal(t, []string{"443/tcp"}, inv.Firewall.PublicPorts)
	require.Len(t, inv.Workers, 1)
}

func TestLoadMissingIsConfigFault(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "inventory.yaml"))
	require.Error(t, err)
	assert.Equal(t, fault.KindConfig, fault.KindOf(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "inventory.yaml", "manager:\n  address: 1.2.3.4\n  ip: 1.2.3.4\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, fault.KindConfig, fault.KindOf(err))
}

func TestLoadUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "inventory.ini", "manager=1")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported inventory format")
}

func TestValidate(t *testing.T) {
	valid := func() *Inventory {
		inv := &Inventory{
			Manager:  Host{Address: "10.0.0.1"},
			Workers:  []Host{{Address: "10.0.0.2"}},
			Registry: Registry{User: "u", Password: "p"},
			Stack:    Stack{Name: "app"},
		}
		inv.applyDefaults()
		return inv
	}

	tests := []struct {
		name    string
		mutate  func(inv *Inventory)
		wantErr string
	}{
		{name: "valid", mutate: func(*Inventory) {}},
		{name: "missing manager", mutate: func(inv *Inventory) { inv.Manager.Address = "" }, wantErr: "manager.address is required"},
		{name: "duplicate host", mutate: func(inv *Inventory) { inv.Workers[0].Address = "10.0.0.1" }, wantErr: "declared more than once"},
		{name: "worker without address", mutate: func(inv *Inventory) { inv.Workers[0].Address = "" }, wantErr: "every worker needs an address"},
		{name: "missing stack", mutate: func(inv *Inventory) { inv.Stack.Name = "" }, wantErr: "stack.name is required"},
		{name: "missing registry creds", mutate: func(inv *Inventory) { inv.Registry.Password = "" }, wantErr: "registry.user and registry.password"},
		{name: "bad secret name", mutate: func(inv *Inventory) { inv.Secrets = map[string]string{"bad name": "x"} }, wantErr: "secret name"},
		{name: "bad port", mutate: func(inv *Inventory) { inv.Firewall.PublicPorts = []string{"80"} }, wantErr: "firewall.public_ports"},
		{name: "port out of range", mutate: func(inv *Inventory) { inv.Firewall.PublicPorts = []string{"70000/tcp"} }, wantErr: "out of range"},
		{name: "bad interval", mutate: func(inv *Inventory) { inv.Stack.Rollout.Interval = "soon" }, wantErr: "stack.rollout.interval"},
		{name: "zero attempts", mutate: func(inv *Inventory) { inv.Stack.Rollout.Attempts = -1 }, wantErr: "stack.rollout.attempts"},
		{name: "migration without image", mutate: func(inv *Inventory) {
			inv.Migration = &Migration{Command: "migrate", Health: Polling{Attempts: 1, Interval: "1s"}}
		}, wantErr: "migration.image"},
		{name: "image without context", mutate: func(inv *Inventory) { inv.Images = []ImageBuild{{Name: "api"}} }, wantErr: "images[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := valid()
			tt.mutate(inv)
			err := inv.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
