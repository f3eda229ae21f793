package ghoutput

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAppendsOutputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output")
	require.NoError(t, os.WriteFile(path, []byte("existing=1\n"), 0o600))
	t.Setenv(EnvVar, path)

	require.NoError(t, Write(Outputs("ab12cd34", []string{"firewall@10.0.0.2", "registry.login@10.0.0.3"}, true)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing=1\n"+
		"converged=true\n"+
		"failed_steps=firewall@10.0.0.2,registry.login@10.0.0.3\n"+
		"run_id=ab12cd34\n", string(raw))
}

func TestWriteMultilineUsesDelimiter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output")

	require.NoError(t, WriteFile(path, map[string]string{"summary": "line one\nline two"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "summary<<ghadelimiter_"))
	assert.Equal(t, strings.TrimPrefix(lines[0], "summary<<"), lines[3])
	assert.Equal(t, []string{"line one", "line two"}, lines[1:3])
}

func TestWriteWithoutGitHub(t *testing.T) {
	t.Setenv(EnvVar, "")
	assert.NoError(t, Write(Outputs("x", nil, false)))
}

func TestOutputsWithoutFailures(t *testing.T) {
	assert.Equal(t, "", Outputs("x", nil, false)["failed_steps"])
	assert.Equal(t, "false", Outputs("x", nil, false)["converged"])
}
