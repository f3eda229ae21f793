package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/swarmctl/internal/fault"
)

func sampleReport() *Report {
	r := New("a1b2c3d4", "up")
	r.Add(
		OK("swarm.init", "10.0.0.1"),
		Skipped("network", "10.0.0.1", ReasonPresent),
		Failed("swarm.join", "10.0.0.3", fault.New(fault.KindConnectivity, "10.0.0.3", errors.New("timed out"))),
		Failed("deploy.converge", "", errors.New("no classification")),
	)
	r.Finish()
	return r
}

func TestReportQueries(t *testing.T) {
	r := sampleReport()

	assert.Len(t, r.Results(), 4)
	assert.Len(t, r.Failures(), 2)
	assert.Equal(t, []string{"deploy.converge", "swarm.join@10.0.0.3"}, r.FailedSteps())
	assert.Equal(t, "1 ok, 1 skipped, 2 failed", r.Summary())

	join := r.Find("swarm.join", "10.0.0.3")
	require.Len(t, join, 1)
	assert.Equal(t, fault.KindConnectivity, join[0].Kind)

	converge := r.Find("deploy.converge", "")
	require.Len(t, converge, 1)
	assert.Equal(t, fault.KindCommand, converge[0].Kind)
}

func TestFailedf(t *testing.T) {
	res := Failedf("swarm.manager", "10.0.0.1", fault.KindDrift, "declared %s, discovered %s", "manager", "worker")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, fault.KindDrift, res.Kind)
	assert.Equal(t, "drift on 10.0.0.1: declared manager, discovered worker", res.Message())
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().Render(&buf))

	out := buf.String()
	assert.Contains(t, out, "run a1b2c3d4")
	assert.Contains(t, out, "swarm.init")
	assert.Contains(t, out, "already present")
	assert.Contains(t, out, "1 ok, 1 skipped, 2 failed")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestWriteMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarmctl.prom")
	require.NoError(t, sampleReport().WriteMetrics(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, `swarmctl_step_total{command="up",status="ok",step="swarm.init"} 1`)
	assert.Contains(t, text, `swarmctl_step_failures_total{command="up",kind="connectivity"} 1`)
	assert.Contains(t, text, "swarmctl_run_duration_seconds")
}
