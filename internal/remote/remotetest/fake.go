// Package remotetest provides in-memory executors for tests: a scriptable
// fake and a stateful swarm cluster simulator.
package remotetest

import (
	"context"
	"strings"
	"sync"

	"github.com/codex-k8s/swarmctl/internal/fault"
	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/remote"
)

// Call is one recorded executor invocation.
type Call struct {
	Host   string
	Script string
	Stdin  []byte
}

// Handler answers a call on behalf of the fake.
type Handler func(host inventory.Host, cmd remote.Command) (string, error)

// Fake is an Executor answering from a handler and recording every call.
type Fake struct {
	Handler Handler

	mu    sync.Mutex
	calls []Call
}

// Run records the call and delegates to Handler. A nil handler succeeds with empty output.
func (f *Fake) Run(_ context.Context, host inventory.Host, cmd remote.Command) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Host: host.Address, Script: cmd.Script, Stdin: cmd.Stdin})
	f.mu.Unlock()

	if f.Handler == nil {
		return "", nil
	}
	return f.Handler(host, cmd)
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the calls made against address.
func (f *Fake) CallsTo(address string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Host == address {
			out = append(out, c)
		}
	}
	return out
}

// Unreachable builds the error an executor returns for a host it cannot reach.
func Unreachable(host string) error {
	return &remote.Error{Kind: fault.KindConnectivity, Host: host, Err: errString("ssh: connect to host " + host + " port 22: Connection timed out")}
}

// Failed builds a command failure with the given exit code and stderr.
func Failed(host, script string, code int, stderr string) error {
	return &remote.Error{Kind: fault.KindCommand, Host: host, Command: script, ExitCode: code, Stderr: stderr, Err: errString("exit status")}
}

// TimedOut builds a per-call timeout failure.
func TimedOut(host, script string) error {
	return &remote.Error{Kind: fault.KindTimeout, Host: host, Command: script, Err: context.DeadlineExceeded}
}

// ContainsAll reports whether s contains every fragment.
func ContainsAll(s string, fragments ...string) bool {
	for _, f := range fragments {
		if !strings.Contains(s, f) {
			return false
		}
	}
	return true
}

type errString string

func (e errString) Error() string { return string(e) }
