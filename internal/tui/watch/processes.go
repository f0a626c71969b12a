package watch

import (
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/vkore/internal/supervisor"
)

func newProcessTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "MODULE", Width: 18},
			{Title: "STATE", Width: 8},
			{Title: "PID", Width: 7},
			{Title: "TRIGGER", Width: 10},
			{Title: "RESTARTS", Width: 8},
			{Title: "STARTED", Width: 9},
			{Title: "EXIT", Width: 5},
		}),
		table.WithHeight(8),
		table.WithFocused(true),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#874BFD"))
	t.SetStyles(styles)
	return t
}

// processRows renders running instances first, then finished ones.
func processRows(procs []supervisor.HandleInfo) []table.Row {
	rows := make([]table.Row, 0, len(procs))
	for _, running := range []bool{true, false} {
		for _, p := range procs {
			if (p.State == supervisor.StateRunning) != running {
				continue
			}
			pid := "-"
			if p.PID > 0 {
				pid = strconv.Itoa(p.PID)
			}
			exit := ""
			if p.ExitCode != nil {
				exit = strconv.Itoa(*p.ExitCode)
			}
			rows = append(rows, table.Row{
				p.Module,
				string(p.State),
				pid,
				string(p.Trigger),
				strconv.Itoa(p.Restarts),
				p.StartedAt.Local().Format(time.TimeOnly),
				exit,
			})
		}
	}
	return rows
}

func renderProcesses(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4
	body := t.View()
	if count == 0 {
		body = theme.Dim.Render("  No module instances yet")
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("PROCESSES"),
		body,
	)
	return theme.Border.Width(innerWidth).Render(content)
}
