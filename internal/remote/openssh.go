package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/inventory"
)

// sshUnreachableExit is the status ssh(1) uses for its own failures.
const sshUnreachableExit = 255

var connectivityDiagnostics = []string{
	"connect to host",
	"connection timed out",
	"connection refused",
	"no route to host",
	"could not resolve hostname",
	"permission denied (publickey",
	"host key verification failed",
	"connection closed by",
	"connection reset by",
	"operation timed out",
	"network is unreachable",
}

// OpenSSHExecutor shells out to the local ssh binary, so ~/.ssh/config,
// jump hosts and hardware keys work as they do for the operator.
type OpenSSHExecutor struct {
	// Binary is the ssh executable; "ssh" when empty.
	Binary string
	// ConnectTimeout is passed as -o ConnectTimeout.
	ConnectTimeout time.Duration
	// CommandTimeout is the default per-call bound.
	CommandTimeout time.Duration
	// KnownHostsFile enables strict host key checking against this file.
	KnownHostsFile string
	// Options are extra -o options appended after the defaults.
	Options []string
}

// Args returns the ssh argument vector for host and script.
func (e *OpenSSHExecutor) Args(host inventory.Host, script string) []string {
	connect := e.ConnectTimeout
	if connect <= 0 {
		connect = defaultDialTimeout
	}

	strict, knownHosts := "no", "/dev/null"
	if e.KnownHostsFile != "" {
		strict, knownHosts = "yes", e.KnownHostsFile
	}

	args := []string{
		"-o", "StrictHostKeyChecking=" + strict,
		"-o", "UserKnownHostsFile=" + knownHosts,
		"-o", "BatchMode=yes",
		"-o", "LogLevel=ERROR",
		"-o", "ConnectTimeout=" + strconv.Itoa(int(connect.Round(time.Second)/time.Second)),
	}
	for _, opt := range e.Options {
		args = append(args, "-o", opt)
	}
	if host.Port != 0 && host.Port != 22 {
		args = append(args, "-p", strconv.Itoa(host.Port))
	}
	if host.KeyPath != "" {
		args = append(args, "-i", host.KeyPath)
	}
	return append(args, host.Target(), script)
}

// Run executes cmd on host and returns its trimmed stdout.
func (e *OpenSSHExecutor) Run(ctx context.Context, host inventory.Host, cmd Command) (string, error) {
	ctx, cancel := withDeadline(ctx, cmd.Timeout, e.CommandTimeout)
	defer cancel()

	binary := e.Binary
	if binary == "" {
		binary = "ssh"
	}

	c := exec.CommandContext(ctx, binary, e.Args(host, cmd.Script)...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	err := c.Run()
	out := strings.TrimSpace(stdout.String())
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return out, contextError(ctx, host.Address, cmd.Script)
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return out, &Error{Kind: fault.KindConnectivity, Host: host.Address, Err: fmt.Errorf("start %s: %w", binary, err)}
	}

	code := exitErr.ExitCode()
	kind := fault.KindCommand
	if code == sshUnreachableExit && IsConnectivityDiagnostic(stderr.String()) {
		kind = fault.KindConnectivity
	}
	return out, &Error{
		Kind:     kind,
		Host:     host.Address,
		Command:  cmd.Script,
		ExitCode: code,
		Stderr:   stderr.String(),
		Err:      err,
	}
}

// IsConnectivityDiagnostic reports whether ssh stderr text describes a
// transport failure rather than output of the remote command.
func IsConnectivityDiagnostic(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, marker := range connectivityDiagnostics {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
