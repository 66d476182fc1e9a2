package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks service health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Running       int
	Queued        int
	MaxConcurrent int
	ScanError     string
	Connected     bool
	LastCheck     time.Time
}

// Pulse lights up on each event and fades over ten seconds.
type Pulse struct {
	level     int
	lastEvent time.Time
}

func (p *Pulse) OnEvent(at time.Time) {
	p.level = 5
	p.lastEvent = at
}

// Fade recomputes the level from the time since the last event.
func (p *Pulse) Fade(now time.Time) {
	if p.lastEvent.IsZero() {
		return
	}
	elapsed := now.Sub(p.lastEvent)
	p.level = max(0, 5-int(elapsed/(2*time.Second)))
}

func (p Pulse) Level() int { return p.level }

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < p.level {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(health HealthState, pulse Pulse, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	switch {
	case !health.Connected:
		statusText = theme.StatusFailed.Render("CONNECTING")
	case health.Status != "ok" && health.Status != "":
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	lastEvent := "never"
	if !pulse.lastEvent.IsZero() {
		lastEvent = fmt.Sprintf("%s ago", time.Since(pulse.lastEvent).Round(time.Second))
	}

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := " SCRIPTSRUNNER"
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  Running: %d/%d  Queued: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.Running, health.MaxConcurrent,
		health.Queued,
	)

	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, pulse.Render(theme))

	lines := []string{titleLine, statsLine, activityLine}
	if health.ScanError != "" {
		lines = append(lines, theme.StatusFailed.Render(" Scan: "+health.ScanError))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
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
