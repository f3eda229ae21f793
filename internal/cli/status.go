package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/codex-k8s/swarmctl/internal/swarm"
)

// newStatusCommand creates the "status" subcommand that lists per-host membership.
func newStatusCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show swarm membership of every reachable host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())
			orch, err := newOrchestrator(opts, logger)
			if err != nil {
				return err
			}
			out, st, err := orch.Status(cmd.Context(), opts.InventoryPath)
			if st != nil {
				if st.NodesErr != nil {
					logger.Warn("manager could not list nodes", "error", st.NodesErr)
				} else if len(st.Nodes) > 0 {
					if werr := renderNodes(cmd.OutOrStdout(), st.Nodes); werr != nil {
						logger.Warn("failed to render node list", "error", werr)
					}
				}
			}
			return publish(cmd.OutOrStdout(), opts, logger, out, err)
		},
	}
}

// renderNodes prints the manager's node list.
func renderNodes(w io.Writer, nodes []swarm.Node) error {
	rows := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		mgr := n.Manager
		if mgr == "" {
			mgr = "-"
		}
		rows = append(rows, []string{n.Hostname, n.Status, mgr})
	}
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NODE", "STATUS", "MANAGER").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return cell.Bold(true)
			}
			return cell
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
