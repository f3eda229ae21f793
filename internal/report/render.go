package report

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	colorGreen = lipgloss.Color("#22c55e")
	colorRed   = lipgloss.Color("#ef4444")
	colorDim   = lipgloss.Color("#6b7280")
	colorBlue  = lipgloss.Color("#3b82f6")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = cellStyle.Foreground(colorGreen)
	failStyle   = cellStyle.Foreground(colorRed)
	skipStyle   = cellStyle.Foreground(colorDim)
)

const maxMessageWidth = 80

// Render writes the report as a table followed by a summary line.
func (r *Report) Render(w io.Writer) error {
	results := r.Results()

	rows := make([][]string, 0, len(results))
	for _, res := range results {
		host := res.Host
		if host == "" {
			host = "-"
		}
		rows = append(rows, []string{res.Step, host, string(res.Status), truncate(res.Message(), maxMessageWidth)})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("STEP", "HOST", "STATUS", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col != 2 || row < 0 || row >= len(results) {
				return cellStyle
			}
			switch results[row].Status {
			case StatusOK:
				return okStyle
			case StatusFailed:
				return failStyle
			default:
				return skipStyle
			}
		})

	title := fmt.Sprintf("swarmctl %s (run %s)", r.Command, r.RunID)
	_, err := fmt.Fprintf(w, "%s\n%s\n%s in %s\n", titleStyle.Render(title), t.Render(), r.Summary(), r.Elapsed.Round(time.Millisecond))
	return err
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
