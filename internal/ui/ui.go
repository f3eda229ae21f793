// Package ui holds the interactive operator prompts.
package ui

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/codex-k8s/swarmctl/internal/probe"
)

// Interactive reports whether stdin and stdout are both terminals.
func Interactive() bool {
	return isTerminal(os.Stdin) && isTerminal(os.Stdout)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// HuhConfirmer asks the operator with a huh confirm form.
type HuhConfirmer struct{}

// ConfirmPartial shows the unreachable hosts and asks whether to continue.
func (HuhConfirmer) ConfirmPartial(ctx context.Context, part probe.Partition) (bool, error) {
	proceed := false
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%d of %d hosts are unreachable. Continue with the reachable hosts?",
					len(part.Unreachable), len(part.Unreachable)+len(part.Reachable))).
				Description(PartitionSummary(part)).
				Affirmative("Continue").
				Negative("Abort").
				Value(&proceed),
		).Title("Connectivity"),
	).RunWithContext(ctx)
	if err != nil {
		return false, err
	}
	return proceed, nil
}

// PartitionSummary lists unreachable hosts with their failure.
func PartitionSummary(part probe.Partition) string {
	var b strings.Builder
	for _, h := range part.Unreachable {
		fmt.Fprintf(&b, "unreachable: %s (%s)", h.Address, h.Role)
		if err := part.Errors[h.Address]; err != nil {
			fmt.Fprintf(&b, ": %v", err)
		}
		b.WriteString("\n")
	}
	for _, h := range part.Reachable {
		fmt.Fprintf(&b, "reachable:   %s (%s)\n", h.Address, h.Role)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Confirmer picks how the connectivity gate is answered: --yes continues,
// a terminal prompts, anything else aborts.
func Confirmer(assumeYes bool) probe.Confirmer {
	switch {
	case assumeYes:
		return probe.Answer(true)
	case Interactive():
		return HuhConfirmer{}
	default:
		return probe.Answer(false)
	}
}
