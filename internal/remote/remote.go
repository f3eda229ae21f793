// Package remote runs shell commands on cluster hosts over SSH and classifies
// every failure as connectivity, command or timeout.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/inventory"
)

// DefaultCommandTimeout bounds a single remote call when neither the command
// nor the executor specifies a timeout.
const DefaultCommandTimeout = 2 * time.Minute

// Command is one shell invocation on a remote host.
type Command struct {
	// Script is interpreted by the remote login shell.
	Script string
	// Stdin is streamed to the command. Secret material travels only here.
	Stdin []byte
	// Timeout overrides the executor default for this call.
	Timeout time.Duration
}

// Executor runs commands on a host and returns trimmed stdout.
// Implementations must return *Error for every failure.
type Executor interface {
	Run(ctx context.Context, host inventory.Host, cmd Command) (string, error)
}

// Script builds a Command from words, quoting each argument for the remote shell.
func Script(name string, args ...string) Command {
	return Command{Script: shellquote.Join(append([]string{name}, args...)...)}
}

// Chain joins scripts so each runs only if the previous one succeeded.
func Chain(scripts ...string) string {
	parts := make([]string, 0, len(scripts))
	for _, s := range scripts {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " && ")
}

// Quote quotes a single word for the remote shell.
func Quote(s string) string {
	return shellquote.Join(s)
}

// WithStdin returns a copy of c that streams data to the command.
func (c Command) WithStdin(data []byte) Command {
	c.Stdin = data
	return c
}

// WithTimeout returns a copy of c bounded by d.
func (c Command) WithTimeout(d time.Duration) Command {
	c.Timeout = d
	return c
}

// Error describes a failed remote call.
type Error struct {
	Kind     fault.Kind
	Host     string
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s", e.Kind, e.Host)
	if e.Command != "" {
		fmt.Fprintf(&b, " running %q", firstLine(e.Command))
	}
	if e.Kind == fault.KindCommand && e.ExitCode != 0 {
		fmt.Fprintf(&b, ": exit status %d", e.ExitCode)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		fmt.Fprintf(&b, ": %s", stderr)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// FaultKind reports the failure kind.
func (e *Error) FaultKind() fault.Kind { return e.Kind }

// IsConnectivity reports whether err means the host could not be reached.
func IsConnectivity(err error) bool {
	return fault.Is(err, fault.KindConnectivity)
}

// ExitCode returns the remote exit status carried by err, or -1.
func ExitCode(err error) int {
	var re *Error
	if errors.As(err, &re) && re.Kind == fault.KindCommand {
		return re.ExitCode
	}
	return -1
}

func withDeadline(ctx context.Context, cmdTimeout, fallback time.Duration) (context.Context, context.CancelFunc) {
	d := cmdTimeout
	if d <= 0 {
		d = fallback
	}
	if d <= 0 {
		d = DefaultCommandTimeout
	}
	return context.WithTimeout(ctx, d)
}

// contextError converts a context failure into a classified error.
// Cancellation comes from the operator interrupting the run.
func contextError(ctx context.Context, host, script string) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: fault.KindTimeout, Host: host, Command: script, Err: ctx.Err()}
	}
	return &Error{Kind: fault.KindUserAbort, Host: host, Command: script, Err: ctx.Err()}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx] + " ..."
	}
	return s
}

// Sudo prefixes a single command with non-interactive sudo unless the host
// logs in as root.
func Sudo(host inventory.Host, script string) string {
	if host.User == "" || host.User == "root" {
		return script
	}
	return "sudo -n " + script
}
