package watch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/scriptsrunner/internal/dispatch"
	"github.com/mattjoyce/scriptsrunner/internal/events"
	"github.com/mattjoyce/scriptsrunner/internal/queue"
)

const maxOutputLines = 200

// Outcomes shown in the LAST column.
const (
	outcomeOK       = "ok"
	outcomeFailed   = "failed"
	outcomeTimeout  = "timeout"
	outcomeCanceled = "canceled"
	outcomeLaunched = "launched"
)

// ScriptRow is the monitor's view of one script.
type ScriptRow struct {
	Path      string
	Name      string
	Status    queue.Status
	Position  int
	RunID     string
	StartedAt time.Time
	Favorite  bool
	Missing   bool

	Runs         int
	LastOutcome  string
	LastExit     *int
	LastDuration time.Duration
}

func rowFromView(v dispatch.ScriptView) ScriptRow {
	row := ScriptRow{
		Path:     v.Path,
		Name:     v.Name,
		Status:   v.Status,
		Position: v.Position,
		RunID:    v.RunID,
		Favorite: v.Record.Favorite,
		Missing:  v.Missing,
		Runs:     v.Record.RunCount,
	}
	if len(v.Record.History) > 0 {
		h := v.Record.History[0]
		row.LastExit = h.ExitCode
		row.LastDuration = time.Duration(h.DurationMs) * time.Millisecond
		switch {
		case h.ExitCode == nil:
			row.LastOutcome = outcomeLaunched
		case h.TimedOut:
			row.LastOutcome = outcomeTimeout
		case h.Canceled:
			row.LastOutcome = outcomeCanceled
		case *h.ExitCode == 0:
			row.LastOutcome = outcomeOK
		default:
			row.LastOutcome = outcomeFailed
		}
	}
	return row
}

// scriptTable holds rows ordered by path plus a tail of live output per script.
type scriptTable struct {
	rows   []*ScriptRow
	byPath map[string]*ScriptRow
	output map[string][]string
}

func newScriptTable() *scriptTable {
	return &scriptTable{
		byPath: make(map[string]*ScriptRow),
		output: make(map[string][]string),
	}
}

// replace swaps in a fresh listing from /scripts. Output tails are kept.
func (t *scriptTable) replace(views []dispatch.ScriptView) {
	t.rows = t.rows[:0]
	t.byPath = make(map[string]*ScriptRow, len(views))
	for _, v := range views {
		row := rowFromView(v)
		if prev, ok := t.byPath[v.Path]; ok {
			row.StartedAt = prev.StartedAt
		}
		t.rows = append(t.rows, &row)
		t.byPath[v.Path] = &row
	}
	sort.Slice(t.rows, func(i, j int) bool { return t.rows[i].Path < t.rows[j].Path })
}

func (t *scriptTable) row(path string) *ScriptRow {
	if r, ok := t.byPath[path]; ok {
		return r
	}
	r := &ScriptRow{Path: path, Name: baseName(path), Status: queue.StatusIdle}
	t.byPath[path] = r
	t.rows = append(t.rows, r)
	sort.Slice(t.rows, func(i, j int) bool { return t.rows[i].Path < t.rows[j].Path })
	return r
}

// apply folds one event into the table. It reports whether the listing
// should be refetched from the API.
func (t *scriptTable) apply(e events.Event) bool {
	switch e.Type {
	case events.ScriptsRescan, events.SettingsSaved:
		return true

	case events.ScriptOutput:
		var p events.OutputPayload
		if err := e.Decode(&p); err != nil || p.Path == "" {
			return false
		}
		lines := append(t.output[p.Path], p.Line)
		if len(lines) > maxOutputLines {
			lines = lines[len(lines)-maxOutputLines:]
		}
		t.output[p.Path] = lines
		return false
	}

	var p events.ScriptPayload
	if err := e.Decode(&p); err != nil || p.Path == "" {
		return false
	}
	r := t.row(p.Path)

	switch e.Type {
	case events.ScriptQueued:
		r.Status = queue.StatusQueued
		r.Position = p.Position
	case events.ScriptStarted:
		r.Status = queue.StatusRunning
		r.Position = 0
		r.RunID = p.RunID
		r.StartedAt = e.At
		t.output[p.Path] = nil
	case events.ScriptCompleted, events.ScriptFailed, events.ScriptTimedOut, events.ScriptCanceled:
		r.Runs++
		r.LastExit = p.ExitCode
		r.LastDuration = time.Duration(p.DurationMs) * time.Millisecond
		r.LastOutcome = outcomeFor(e.Type)
		if !p.Detached {
			r.Status = queue.StatusIdle
			r.RunID = ""
		}
	case events.ScriptLaunched:
		r.Runs++
		r.LastExit = nil
		r.LastOutcome = outcomeLaunched
	case events.ScriptReset, events.ScriptDequeued:
		r.Status = queue.StatusIdle
		r.Position = 0
		r.RunID = ""
		return p.Reason == "removed"
	}
	return false
}

func outcomeFor(eventType string) string {
	switch eventType {
	case events.ScriptCompleted:
		return outcomeOK
	case events.ScriptTimedOut:
		return outcomeTimeout
	case events.ScriptCanceled:
		return outcomeCanceled
	default:
		return outcomeFailed
	}
}

func baseName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func renderScripts(t *scriptTable, selected int, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render("SCRIPTS")

	if len(t.rows) == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			title,
			theme.Dim.Render("  No scripts found. Check the configured folders."),
		))
	}

	header := theme.Header.Render(fmt.Sprintf("   %-28s %-10s %-10s %6s %10s", "NAME", "STATUS", "LAST", "RUNS", "DURATION"))
	lines := []string{title, header}
	for i, r := range t.rows {
		line := fmt.Sprintf(" %s %-28s %-10s %-10s %6d %10s",
			statusSymbol(r, theme),
			truncate(displayName(r), 28),
			statusLabel(r),
			lastLabel(r),
			r.Runs,
			durationLabel(r),
		)
		if i == selected {
			line = theme.Selected.Render(line)
		}
		lines = append(lines, line)
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderOutput(t *scriptTable, row *ScriptRow, vp viewport.Model, theme Theme, width int) string {
	innerWidth := width - 4
	if row == nil {
		return ""
	}
	title := theme.Title.Render("OUTPUT " + row.Name)
	if len(t.output[row.Path]) == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			title, theme.Dim.Render("  No live output."),
		))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, title, vp.View()))
}

func displayName(r *ScriptRow) string {
	name := r.Name
	if r.Favorite {
		name = "★ " + name
	}
	if r.Missing {
		name += " (missing)"
	}
	return name
}

func statusSymbol(r *ScriptRow, theme Theme) string {
	switch r.Status {
	case queue.StatusRunning:
		return theme.StatusRunning.Render("◉")
	case queue.StatusQueued:
		return theme.StatusQueued.Render("○")
	}
	switch r.LastOutcome {
	case outcomeOK:
		return theme.StatusOK.Render("●")
	case outcomeFailed, outcomeTimeout:
		return theme.StatusFailed.Render("●")
	}
	return theme.StatusIdle.Render("·")
}

func statusLabel(r *ScriptRow) string {
	if r.Status == queue.StatusQueued && r.Position > 0 {
		return fmt.Sprintf("queued #%d", r.Position)
	}
	return string(r.Status)
}

func lastLabel(r *ScriptRow) string {
	switch {
	case r.LastOutcome == "":
		return "-"
	case r.LastOutcome == outcomeFailed && r.LastExit != nil:
		return fmt.Sprintf("exit %d", *r.LastExit)
	default:
		return r.LastOutcome
	}
}

func durationLabel(r *ScriptRow) string {
	if r.Status == queue.StatusRunning && !r.StartedAt.IsZero() {
		return formatDuration(time.Since(r.StartedAt))
	}
	if r.LastDuration > 0 {
		return formatDuration(r.LastDuration)
	}
	return "-"
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(runes[:n-1]) + "…"
}
