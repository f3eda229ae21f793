package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/inventory"
)

const defaultDialTimeout = 10 * time.Second

var defaultKeyFiles = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// SSHConfig configures the native SSH executor.
type SSHConfig struct {
	// DialTimeout bounds TCP connect plus SSH handshake.
	DialTimeout time.Duration
	// CommandTimeout is the default per-call bound.
	CommandTimeout time.Duration
	// KnownHostsFile enables host key verification when set.
	// Without it host keys are accepted unverified, like StrictHostKeyChecking=no.
	KnownHostsFile string
	// AgentSocket overrides SSH_AUTH_SOCK.
	AgentSocket string
	// HomeDir overrides the directory searched for default keys.
	HomeDir string
}

// SSHExecutor runs commands through golang.org/x/crypto/ssh. Each call opens
// its own connection, so one unreachable host never affects another.
type SSHExecutor struct {
	cfg      SSHConfig
	hostKeys ssh.HostKeyCallback
	mu       sync.Mutex
	keyCache map[string]ssh.Signer
}

// NewSSHExecutor validates cfg and prepares host key verification.
func NewSSHExecutor(cfg SSHConfig) (*SSHExecutor, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.AgentSocket == "" {
		cfg.AgentSocket = os.Getenv("SSH_AUTH_SOCK")
	}
	if cfg.HomeDir == "" {
		cfg.HomeDir, _ = os.UserHomeDir()
	}

	hostKeys := ssh.InsecureIgnoreHostKey() //nolint:gosec // matches StrictHostKeyChecking=no unless a known_hosts file is given
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(expandHome(cfg.KnownHostsFile, cfg.HomeDir))
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeys = cb
	}

	return &SSHExecutor{
		cfg:      cfg,
		hostKeys: hostKeys,
		keyCache: make(map[string]ssh.Signer),
	}, nil
}

// Run executes cmd on host and returns its trimmed stdout.
func (e *SSHExecutor) Run(ctx context.Context, host inventory.Host, cmd Command) (string, error) {
	ctx, cancel := withDeadline(ctx, cmd.Timeout, e.cfg.CommandTimeout)
	defer cancel()

	auth, closeAuth, err := e.authMethods(host)
	if err != nil {
		return "", &Error{Kind: fault.KindConnectivity, Host: host.Address, Err: err}
	}
	defer closeAuth()

	client, err := e.dial(ctx, host, auth)
	if err != nil {
		if ctx.Err() != nil {
			return "", contextError(ctx, host.Address, cmd.Script)
		}
		return "", &Error{Kind: fault.KindConnectivity, Host: host.Address, Err: err}
	}
	defer func() { _ = client.Close() }()

	return e.runSession(ctx, client, host, cmd)
}

func (e *SSHExecutor) runSession(ctx context.Context, client *ssh.Client, host inventory.Host, cmd Command) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", &Error{Kind: fault.KindConnectivity, Host: host.Address, Err: fmt.Errorf("open session: %w", err)}
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Stdin != nil {
		session.Stdin = bytes.NewReader(cmd.Stdin)
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd.Script) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = client.Close()
		// Run returns once the closed connection has drained the output copiers.
		<-done
		return strings.TrimSpace(stdout.String()), contextError(ctx, host.Address, cmd.Script)
	case err := <-done:
		out := strings.TrimSpace(stdout.String())
		if err == nil {
			return out, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return out, &Error{
				Kind:     fault.KindCommand,
				Host:     host.Address,
				Command:  cmd.Script,
				ExitCode: exitErr.ExitStatus(),
				Stderr:   stderr.String(),
				Err:      err,
			}
		}
		var missing *ssh.ExitMissingError
		if errors.As(err, &missing) {
			return out, &Error{Kind: fault.KindConnectivity, Host: host.Address, Command: cmd.Script, Stderr: stderr.String(), Err: err}
		}
		return out, &Error{Kind: fault.KindCommand, Host: host.Address, Command: cmd.Script, Stderr: stderr.String(), Err: err}
	}
}

// dial connects with a context-aware dialer and bounds the handshake.
func (e *SSHExecutor) dial(ctx context.Context, host inventory.Host, auth []ssh.AuthMethod) (*ssh.Client, error) {
	addr := host.DialAddress()
	config := &ssh.ClientConfig{
		User:            host.User,
		Auth:            auth,
		HostKeyCallback: e.hostKeys,
		Timeout:         e.cfg.DialTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.DialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	deadline := time.Now().Add(e.cfg.DialTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

// authMethods prefers the host's key file, then the agent, then default keys.
func (e *SSHExecutor) authMethods(host inventory.Host) ([]ssh.AuthMethod, func(), error) {
	noop := func() {}

	if host.KeyPath != "" {
		signer, err := e.signer(host.KeyPath)
		if err != nil {
			return nil, noop, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, noop, nil
	}

	var methods []ssh.AuthMethod
	closer := noop
	if e.cfg.AgentSocket != "" {
		if conn, err := net.Dial("unix", e.cfg.AgentSocket); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			closer = func() { _ = conn.Close() }
		}
	}

	var signers []ssh.Signer
	for _, name := range defaultKeyFiles {
		path := filepath.Join(e.cfg.HomeDir, ".ssh", name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if s, err := e.signer(path); err == nil {
			signers = append(signers, s)
		}
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if len(methods) == 0 {
		return nil, closer, errors.New("no SSH credentials: set key_path, run an ssh-agent or provide ~/.ssh/id_*")
	}
	return methods, closer, nil
}

func (e *SSHExecutor) signer(path string) (ssh.Signer, error) {
	path = expandHome(path, e.cfg.HomeDir)

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.keyCache[path]; ok {
		return s, nil
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", path, err)
	}
	s, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	e.keyCache[path] = s
	return s, nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
