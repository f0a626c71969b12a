package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks service health from /healthz polling.
type HealthState struct {
	Status           string
	UptimeSeconds    int64
	ModulesLoaded    int
	ModulesResolved  int
	ProcessesRunning int
	Connected        bool
	LastCheck        time.Time
}

func renderHeader(health HealthState, spin string, pulse Pulse, lastTick time.Time, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING " + spin)
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	uptime := formatDuration(time.Duration(health.UptimeSeconds) * time.Second)

	lastEventStr := "never"
	if !pulse.LastEvent().IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", time.Since(pulse.LastEvent()).Round(time.Second))
	}
	lastTickStr := "none yet"
	if !lastTick.IsZero() {
		lastTickStr = fmt.Sprintf("%s ago", time.Since(lastTick).Round(time.Second))
	}

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := theme.Header.Render(" VKORE WATCH")
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  Modules: %d/%d resolved  Running: %d",
		statusText,
		uptime,
		health.ModulesResolved,
		health.ModulesLoaded,
		health.ProcessesRunning,
	)

	activityLine := fmt.Sprintf(" Last event: %s %s  Last tick: %s",
		lastEventStr,
		pulse.Render(theme),
		lastTickStr,
	)

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		activityLine,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
