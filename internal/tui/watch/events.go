package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/vkore/internal/events"
)

const visibleEvents = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= visibleEvents {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeModuleLaunched:
		typeStyle = theme.StatusRunning
	case events.TypeModuleExited:
		typeStyle = theme.stateStyle(eventString(e, "state"))
	case events.TypeModuleUnresolved:
		typeStyle = theme.StatusFailed
	case events.TypeSchedulerSkipped:
		typeStyle = theme.StatusSkipped
	case events.TypeSchedulerTick:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-18s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string

	if launchID, ok := data["launch_id"].(string); ok {
		if len(launchID) > 8 {
			launchID = launchID[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", launchID))
	}
	if name, ok := data["module"].(string); ok {
		parts = append(parts, name)
	}
	if trigger, ok := data["trigger"].(string); ok {
		parts = append(parts, trigger)
	}
	if code, ok := data["exit_code"].(float64); ok {
		parts = append(parts, fmt.Sprintf("exit=%d", int(code)))
	}
	if text, ok := data["text"].(string); ok {
		parts = append(parts, text)
	}
	if reason, ok := data["reason"].(string); ok {
		parts = append(parts, reason)
	}
	if tick, ok := data["tick"].(float64); ok {
		parts = append(parts, fmt.Sprintf("#%d", int(tick)))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	return strings.Join(parts, " ")
}

func eventString(e events.Event, key string) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)
	v, _ := data[key].(string)
	return v
}
