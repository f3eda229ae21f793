package remote

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/inventory"
)

func TestScriptQuotesArguments(t *testing.T) {
	args := []string{"info", "--format", "{{.Swarm.LocalNodeState}}|{{.Swarm.ControlAvailable}}"}
	cmd := Script("docker", args...)
	words, err := shellquote.Split(cmd.Script)
	require.NoError(t, err)
	assert.Equal(t, append([]string{"docker"}, args...), words)

	cmd = Script("docker", "service", "create", "--constraint", "node.role == manager", "registry:2")
	assert.Equal(t, "docker service create --constraint 'node.role == manager' registry:2", cmd.Script)

	cmd = Script("docker", "network", "create", "app_network")
	assert.Equal(t, "docker network create app_network", cmd.Script)
}

func TestChain(t *testing.T) {
	assert.Equal(t, "mkdir -p /a && cat > /a/b", Chain("mkdir -p /a", " ", "cat > /a/b"))
	assert.Equal(t, "true", Chain("true"))
}

func TestSudo(t *testing.T) {
	assert.Equal(t, "ufw status", Sudo(inventory.Host{User: "root"}, "ufw status"))
	assert.Equal(t, "sudo -n ufw status", Sudo(inventory.Host{User: "ubuntu"}, "ufw status"))
}

func TestErrorMessageAndKind(t *testing.T) {
	err := &Error{Kind: fault.KindCommand, Host: "10.0.0.1", Command: "docker swarm init", ExitCode: 1, Stderr: "already part of a swarm\n"}
	assert.Equal(t, `command on 10.0.0.1 running "docker swarm init": exit status 1: already part of a swarm`, err.Error())
	assert.Equal(t, fault.KindCommand, fault.KindOf(err))
	assert.Equal(t, 1, ExitCode(err))

	conn := &Error{Kind: fault.KindConnectivity, Host: "10.0.0.2", Err: errors.New("dial tcp: i/o timeout")}
	assert.True(t, IsConnectivity(conn))
	assert.Equal(t, -1, ExitCode(conn))
}

func TestCommandCopies(t *testing.T) {
	base := Script("cat")
	withInput := base.WithStdin([]byte("payload")).WithTimeout(5)
	assert.Nil(t, base.Stdin)
	assert.Equal(t, []byte("payload"), withInput.Stdin)
}

type staticExecutor struct {
	out string
	err error
}

func (s staticExecutor) Run(context.Context, inventory.Host, Command) (string, error) {
	return s.out, s.err
}

func TestWithLoggingNeverLogsStdin(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	exec := WithLogging(staticExecutor{out: "ok"}, logger)
	out, err := exec.Run(context.Background(), inventory.Host{Address: "10.0.0.1"}, Script("docker", "secret", "create", "db_password", "-").WithStdin([]byte("s3cr3t-value")))
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	logged := buf.String()
	assert.Contains(t, logged, "docker secret create db_password -")
	assert.Contains(t, logged, "stdin_bytes=12")
	assert.NotContains(t, logged, "s3cr3t-value")
}

func TestWithLoggingReportsKind(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	failure := &Error{Kind: fault.KindTimeout, Host: "h", Err: context.DeadlineExceeded}
	_, err := WithLogging(staticExecutor{err: failure}, logger).Run(context.Background(), inventory.Host{Address: "h"}, Script("true"))
	require.Error(t, err)
	assert.Contains(t, buf.String(), "kind=timeout")
}
