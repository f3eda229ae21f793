// Package report collects per-step outcomes of a run and renders them.
package report

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codex-k8s/swarmctl/internal/fault"
)

// Status is the outcome of one step on one host.
type Status string

const (
	// StatusOK means the step changed remote state successfully.
	StatusOK Status = "ok"
	// StatusSkipped means the step was a no-op, e.g. the resource already existed.
	StatusSkipped Status = "skipped"
	// StatusFailed means the step failed; Kind tells why.
	StatusFailed Status = "failed"
)

// Common skip reasons.
const (
	ReasonPresent     = "already present"
	ReasonUnreachable = "host unreachable"
)

// Result is the outcome of one step, optionally scoped to a host.
type Result struct {
	Step     string
	Host     string
	Status   Status
	Reason   string
	Kind     fault.Kind
	Err      error
	Duration time.Duration
}

// OK reports a step that changed remote state.
func OK(step, host string) Result {
	return Result{Step: step, Host: host, Status: StatusOK}
}

// Skipped reports a step that had nothing to do.
func Skipped(step, host, reason string) Result {
	return Result{Step: step, Host: host, Status: StatusSkipped, Reason: reason}
}

// Failed reports a failed step, classifying err.
func Failed(step, host string, err error) Result {
	kind := fault.KindOf(err)
	if kind == fault.KindNone {
		kind = fault.KindCommand
	}
	return Result{Step: step, Host: host, Status: StatusFailed, Kind: kind, Err: err}
}

// Failedf reports a failed step of a given kind with a formatted reason.
func Failedf(step, host string, kind fault.Kind, format string, args ...any) Result {
	err := fault.Newf(kind, host, format, args...)
	return Result{Step: step, Host: host, Status: StatusFailed, Kind: kind, Err: err}
}

// Message returns a one-line description for tables and logs.
func (r Result) Message() string {
	switch {
	case r.Status == StatusFailed && r.Err != nil:
		return r.Err.Error()
	case r.Reason != "":
		return r.Reason
	default:
		return ""
	}
}

// Report is the ordered list of step results of one run.
type Report struct {
	RunID   string
	Command string
	Started time.Time
	Elapsed time.Duration

	mu      sync.Mutex
	results []Result
}

// New starts a report for the given run.
func New(runID, command string) *Report {
	return &Report{RunID: runID, Command: command, Started: time.Now()}
}

// Add appends results in order.
func (r *Report) Add(results ...Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, results...)
}

// Finish records the run duration.
func (r *Report) Finish() {
	r.Elapsed = time.Since(r.Started)
}

// Results returns a copy of all results.
func (r *Report) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

// Failures returns the failed results.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results() {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Find returns the results of a step, optionally narrowed to one host.
func (r *Report) Find(step, host string) []Result {
	var out []Result
	for _, res := range r.Results() {
		if res.Step == step && (host == "" || res.Host == host) {
			out = append(out, res)
		}
	}
	return out
}

// Counts returns the number of results per status.
func (r *Report) Counts() map[Status]int {
	out := make(map[Status]int, 3)
	for _, res := range r.Results() {
		out[res.Status]++
	}
	return out
}

// FailedSteps returns "step@host" identifiers of failures in a stable order.
func (r *Report) FailedSteps() []string {
	var out []string
	for _, res := range r.Failures() {
		id := res.Step
		if res.Host != "" {
			id += "@" + res.Host
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Summary returns a one-line count of outcomes.
func (r *Report) Summary() string {
	c := r.Counts()
	parts := []string{
		fmt.Sprintf("%d ok", c[StatusOK]),
		fmt.Sprintf("%d skipped", c[StatusSkipped]),
		fmt.Sprintf("%d failed", c[StatusFailed]),
	}
	return strings.Join(parts, ", ")
}
