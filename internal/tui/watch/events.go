package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/scriptsrunner/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width, limit int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENTS"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= limit {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENTS"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.ScriptCompleted:
		typeStyle = theme.StatusOK
	case events.ScriptFailed, events.ScriptTimedOut:
		typeStyle = theme.StatusFailed
	case events.ScriptStarted, events.ScriptLaunched:
		typeStyle = theme.StatusRunning
	case events.ScriptQueued:
		typeStyle = theme.StatusQueued
	case events.ScriptsRescan, events.SettingsSaved:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-18s", e.Type)), describeEvent(e))
}

func describeEvent(e events.Event) string {
	switch e.Type {
	case events.ScriptsRescan:
		var p events.RescanPayload
		if err := e.Decode(&p); err == nil {
			desc := fmt.Sprintf("%d script(s)", p.Scripts)
			if p.Error != "" {
				desc += " (" + p.Error + ")"
			}
			return desc
		}
	case events.SettingsSaved:
		return "settings updated"
	default:
		var p events.ScriptPayload
		if err := e.Decode(&p); err == nil && p.Path != "" {
			parts := []string{baseName(p.Path)}
			if p.Position > 0 {
				parts = append(parts, fmt.Sprintf("#%d", p.Position))
			}
			if p.ExitCode != nil {
				parts = append(parts, fmt.Sprintf("exit=%d", *p.ExitCode))
			}
			if p.DurationMs > 0 {
				parts = append(parts, fmt.Sprintf("%dms", p.DurationMs))
			}
			if p.Detached {
				parts = append(parts, "detached")
			}
			if p.Reason != "" {
				parts = append(parts, p.Reason)
			}
			return strings.Join(parts, " ")
		}
	}

	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw
}
