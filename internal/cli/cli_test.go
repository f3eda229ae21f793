package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/logging"
	"github.com/codex-k8s/swarmctl/internal/orchestrator"
	"github.com/codex-k8s/swarmctl/internal/report"
	"github.com/codex-k8s/swarmctl/internal/teardown"
)

const testInventory = `
manager:
  address: 10.0.0.1
workers:
  - address: 10.0.0.2
registry:
  user: admin
  password: hunter2
stack:
  name: shop
  descriptor: stack.yml
`

func writeInventory(t *testing.T, withDescriptor bool) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testInventory), 0o600))
	if withDescriptor {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "stack.yml"), []byte("version: \"3.8\"\n"), 0o600))
	}
	return path
}

func parsedCommand(t *testing.T, opts *Options, args ...string) *Options {
	t.Helper()
	root := newRootCommand(opts, logging.Discard())
	sub, rest, err := root.Find(args)
	require.NoError(t, err)
	require.NoError(t, sub.ParseFlags(rest))
	_, err = applyBaseEnv(sub, opts)
	require.NoError(t, err)
	return opts
}

func TestFlagDefaults(t *testing.T) {
	opts := parsedCommand(t, &Options{}, "down")

	assert.Equal(t, defaultInventoryPath, opts.InventoryPath)
	assert.Equal(t, transportNative, opts.Transport)
	assert.Equal(t, teardown.DefaultSettle, opts.Settle)
	assert.False(t, opts.AssumeYes)
}

func TestEnvFillsUnsetFlags(t *testing.T) {
	t.Setenv("SWARMCTL_INVENTORY", "/etc/swarmctl/prod.yaml")
	t.Setenv("SWARMCTL_YES", "true")
	t.Setenv("SWARMCTL_TRANSPORT", "openssh")
	t.Setenv("SWARMCTL_PROBE_TIMEOUT", "3s")
	t.Setenv("SWARMCTL_SETTLE", "1s")
	t.Setenv("SWARMCTL_SKIP_BUILD", "true")

	opts := parsedCommand(t, &Options{}, "down", "--settle", "5s")

	assert.Equal(t, "/etc/swarmctl/prod.yaml", opts.InventoryPath)
	assert.True(t, opts.AssumeYes)
	assert.Equal(t, transportOpenSSH, opts.Transport)
	assert.Equal(t, 3*time.Second, opts.ProbeTimeout)
	assert.Equal(t, 5*time.Second, opts.Settle, "explicit flag wins over env")
	assert.False(t, opts.SkipBuild, "down has no --skip-build flag")
}

func TestEnvLogLevel(t *testing.T) {
	t.Setenv("SWARMCTL_LOG_LEVEL", "debug")

	root := newRootCommand(&Options{}, logging.Discard())
	sub, rest, err := root.Find([]string{"status"})
	require.NoError(t, err)
	require.NoError(t, sub.ParseFlags(rest))

	level, err := applyBaseEnv(sub, &Options{Transport: transportNative})
	require.NoError(t, err)
	assert.Equal(t, "debug", level)
}

func TestUnknownTransport(t *testing.T) {
	root := newRootCommand(&Options{}, logging.Discard())
	sub, rest, err := root.Find([]string{"probe", "--transport", "telnet"})
	require.NoError(t, err)
	require.NoError(t, sub.ParseFlags(rest))

	_, err = applyBaseEnv(sub, &Options{Transport: "telnet"})
	require.Error(t, err)
	assert.Equal(t, fault.KindConfig, fault.KindOf(err))
}

func TestInvalidEnvValue(t *testing.T) {
	t.Setenv("SWARMCTL_PROBE_TIMEOUT", "soon")

	root := newRootCommand(&Options{}, logging.Discard())
	sub, rest, err := root.Find([]string{"probe"})
	require.NoError(t, err)
	require.NoError(t, sub.ParseFlags(rest))

	_, err = applyBaseEnv(sub, &Options{Transport: transportNative})
	require.Error(t, err)
}

func TestExecuteDoctor(t *testing.T) {
	path := writeInventory(t, true)
	require.NoError(t, Execute([]string{"doctor", "--inventory", path, "--log-level", "error"}, logging.Discard()))
}

func TestExecuteMissingInventory(t *testing.T) {
	err := Execute([]string{"doctor", "-i", filepath.Join(t.TempDir(), "nope.yaml"), "--log-level", "error"}, logging.Discard())
	require.Error(t, err)
	assert.Equal(t, fault.KindConfig, fault.KindOf(err))
}

func TestDoctorReportsProblems(t *testing.T) {
	path := writeInventory(t, false)
	opts := &Options{InventoryPath: path, Transport: transportOpenSSH, KnownHosts: filepath.Join(t.TempDir(), "known_hosts")}
	lookPath := func(tool string) (string, error) { return "", errors.New(tool + " not found") }

	err := runDoctorChecks(logging.Discard(), opts, lookPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 issue(s)")
	assert.Contains(t, err.Error(), "stack descriptor")
	assert.Contains(t, err.Error(), "known_hosts")
	assert.Contains(t, err.Error(), "tool ssh")
}

func TestDoctorPasses(t *testing.T) {
	path := writeInventory(t, true)
	opts := &Options{InventoryPath: path, Transport: transportOpenSSH}
	lookPath := func(tool string) (string, error) { return "/usr/bin/" + tool, nil }

	assert.NoError(t, runDoctorChecks(logging.Discard(), opts, lookPath))
}

func TestPublish(t *testing.T) {
	dir := t.TempDir()
	outputs := filepath.Join(dir, "github_output")
	metrics := filepath.Join(dir, "swarmctl.prom")
	t.Setenv("GITHUB_OUTPUT", outputs)

	rep := report.New("abc12345", "deploy")
	rep.Add(
		report.OK("stack.deploy", "10.0.0.1"),
		report.Failedf("stack.converge", "10.0.0.1", fault.KindTimeout, "shop_app: %d/%d replicas running after %d attempts", 1, 2, 20),
	)
	rep.Finish()
	out := &orchestrator.Outcome{Report: rep}

	var buf bytes.Buffer
	runErr := errors.New("boom")
	err := publish(&buf, &Options{MetricsFile: metrics}, logging.Discard(), out, runErr)
	assert.Same(t, runErr, err)

	assert.Contains(t, buf.String(), "abc12345")
	assert.Contains(t, buf.String(), "stack.converge")

	gh, err := os.ReadFile(outputs)
	require.NoError(t, err)
	assert.Contains(t, string(gh), "run_id=abc12345\n")
	assert.Contains(t, string(gh), "failed_steps=stack.converge@10.0.0.1\n")
	assert.Contains(t, string(gh), "converged=false\n")

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "swarmctl_step_total")
}

func TestPublishWithoutReport(t *testing.T) {
	var buf bytes.Buffer
	err := publish(&buf, &Options{}, logging.Discard(), nil, nil)
	assert.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestNewOrchestratorParsesVars(t *testing.T) {
	orch, err := newOrchestrator(&Options{Transport: transportNative, Vars: "TAG=v2, REPLICAS=3"}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "v2", orch.Params["TAG"])
	assert.Equal(t, "3", orch.Params["REPLICAS"])

	_, err = newOrchestrator(&Options{Transport: transportNative, Vars: "broken"}, logging.Discard())
	require.Error(t, err)
	assert.Equal(t, fault.KindConfig, fault.KindOf(err))
}
