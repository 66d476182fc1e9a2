// Package watch implements the scriptsrunner terminal monitor: a live table
// of scripts fed by the HTTP API and its SSE event stream.
package watch

import "github.com/charmbracelet/lipgloss"

// palette holds the raw colours; Theme derives every style from it.
type palette struct {
	ok, running, failed, queued, idle lipgloss.Color
	accent, text, heading, muted      lipgloss.Color
	warm, selFg, selBg, off           lipgloss.Color
}

var defaultPalette = palette{
	ok:      "#00FF00",
	running: "#FFFF00",
	failed:  "#FF0000",
	queued:  "#61AFEF",
	idle:    "#666666",
	accent:  "#874BFD",
	text:    "#FAFAFA",
	heading: "#61AFEF",
	muted:   "#888888",
	warm:    "#E5C07B",
	selFg:   "229",
	selBg:   "57",
	off:     "#444444",
}

// Theme is every style the monitor renders with.
type Theme struct {
	StatusOK, StatusRunning, StatusFailed, StatusQueued, StatusIdle lipgloss.Style

	Border, Title, Header, Dim, Highlight, Selected lipgloss.Style

	PulseOn, PulseOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	return newTheme(defaultPalette)
}

func newTheme(p palette) Theme {
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return Theme{
		StatusOK:      fg(p.ok),
		StatusRunning: fg(p.running),
		StatusFailed:  fg(p.failed),
		StatusQueued:  fg(p.queued),
		StatusIdle:    fg(p.idle),

		Border:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(p.accent),
		Title:     fg(p.text).Bold(true).Padding(0, 1),
		Header:    fg(p.heading).Bold(true),
		Dim:       fg(p.muted),
		Highlight: fg(p.warm),
		Selected:  fg(p.selFg).Background(p.selBg),

		PulseOn:  fg(p.ok),
		PulseOff: fg(p.off),
	}
}
