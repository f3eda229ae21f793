// Package ghoutput publishes run results as GitHub Actions step outputs.
package ghoutput

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// EnvVar names the file GitHub Actions collects step outputs from.
const EnvVar = "GITHUB_OUTPUT"

// Outputs builds the step outputs of one run.
func Outputs(runID string, failedSteps []string, converged bool) map[string]string {
	return map[string]string{
		"run_id":       runID,
		"failed_steps": strings.Join(failedSteps, ","),
		"converged":    strconv.FormatBool(converged),
	}
}

// Write appends values to the file named by GITHUB_OUTPUT. It does nothing
// outside GitHub Actions.
func Write(values map[string]string) error {
	return WriteFile(strings.TrimSpace(os.Getenv(EnvVar)), values)
}

// WriteFile appends values to path in key order. Multi-line values use the
// heredoc form with a random delimiter.
func WriteFile(path string, values map[string]string) error {
	if path == "" || len(values) == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", EnvVar, err)
	}
	defer func() { _ = f.Close() }()

	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		value := values[key]
		if !strings.ContainsAny(value, "\r\n") {
			fmt.Fprintf(&b, "%s=%s\n", key, value)
			continue
		}
		delim := "ghadelimiter_" + uuid.NewString()
		fmt.Fprintf(&b, "%s<<%s\n%s\n%s\n", key, delim, value, delim)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("write %s: %w", EnvVar, err)
	}
	return nil
}
