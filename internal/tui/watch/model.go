package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/scriptsrunner/internal/events"
	"github.com/mattjoyce/scriptsrunner/internal/state"
)

// Model is the BubbleTea model for the monitor.
type Model struct {
	client client

	width  int
	height int

	health   HealthState
	scripts  *scriptTable
	eventLog []events.Event
	pulse    Pulse

	theme    Theme
	selected int
	keys     keyMap
	help     help.Model
	output   viewport.Model

	hubEvents chan events.Event

	lastError string
	notice    string
}

// New creates a monitor for the API at apiURL.
func New(apiURL, apiKey string) *Model {
	return &Model{
		client:    newClient(apiURL, apiKey),
		scripts:   newScriptTable(),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 256),
		theme:     NewDefaultTheme(),
		keys:      defaultKeyMap(),
		help:      help.New(),
		output:    viewport.New(80, 5),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.subscribe(m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.fetchHealth,
		m.client.fetchScripts,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width - 4
		m.output.Width = max(10, msg.Width-8)
		m.output.Height = max(3, msg.Height/5)
		m.syncOutput()

	case tickMsg:
		m.pulse.Fade(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.pulse.OnEvent(e.At)
		m.health.Connected = true
		m.lastError = ""

		if e.Type != events.ScriptOutput {
			m.eventLog = append([]events.Event{e}, m.eventLog...)
			if len(m.eventLog) > 50 {
				m.eventLog = m.eventLog[:50]
			}
		}

		cmds := []tea.Cmd{receiveNextEvent(m.hubEvents)}
		if m.scripts.apply(e) {
			cmds = append(cmds, m.client.fetchScripts)
		}
		m.syncOutput()
		return m, tea.Batch(cmds...)

	case scriptsMsg:
		m.scripts.replace(msg)
		m.clampSelection()
		m.syncOutput()

	case healthMsg:
		m.health = HealthState{
			Status:        msg.Status,
			UptimeSeconds: msg.UptimeSeconds,
			Running:       msg.Running,
			Queued:        msg.Queued,
			MaxConcurrent: msg.MaxConcurrent,
			ScanError:     msg.ScanError,
			Connected:     true,
			LastCheck:     time.Now(),
		}
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return m.client.fetchHealth() })

	case actionDoneMsg:
		if msg.err != nil {
			m.lastError = fmt.Sprintf("%s %s: %v", msg.action, baseName(msg.path), msg.err)
		} else {
			m.notice = fmt.Sprintf("%s %s", msg.action, baseName(msg.path))
		}

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		// Resync the listing; events missed while disconnected are not replayed.
		return m, tea.Batch(m.client.subscribe(m.hubEvents), m.client.fetchScripts)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return m.client.fetchHealth() })
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
			m.syncOutput()
		}
		return m, nil
	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.scripts.rows)-1 {
			m.selected++
			m.syncOutput()
		}
		return m, nil
	case key.Matches(msg, m.keys.Rescan):
		return m, m.client.rescan()
	}

	row := m.selectedRow()
	if row == nil {
		return m, nil
	}
	m.notice = ""
	switch {
	case key.Matches(msg, m.keys.Run):
		return m, m.client.post("run", row.Path, map[string]any{"path": row.Path, "mode": state.ModeBackground})
	case key.Matches(msg, m.keys.Terminal):
		return m, m.client.post("run", row.Path, map[string]any{"path": row.Path, "mode": state.ModeTerminal})
	case key.Matches(msg, m.keys.Cancel):
		return m, m.client.post("cancel", row.Path, map[string]any{"path": row.Path})
	case key.Matches(msg, m.keys.Reset):
		return m, m.client.post("reset", row.Path, map[string]any{"path": row.Path})
	case key.Matches(msg, m.keys.Dequeue):
		return m, m.client.post("dequeue", row.Path, map[string]any{"path": row.Path})
	}

	// Remaining keys scroll the output pane.
	var cmd tea.Cmd
	m.output, cmd = m.output.Update(msg)
	return m, cmd
}

// syncOutput loads the selected script's output tail into the viewport.
func (m *Model) syncOutput() {
	row := m.selectedRow()
	if row == nil {
		m.output.SetContent("")
		return
	}
	m.output.SetContent(strings.Join(m.scripts.output[row.Path], "\n"))
	m.output.GotoBottom()
}

func (m *Model) clampSelection() {
	if m.selected >= len(m.scripts.rows) {
		m.selected = len(m.scripts.rows) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func (m Model) selectedRow() *ScriptRow {
	if m.selected < 0 || m.selected >= len(m.scripts.rows) {
		return nil
	}
	return m.scripts.rows[m.selected]
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}

	parts := []string{
		renderHeader(m.health, m.pulse, m.theme, m.width),
		renderScripts(m.scripts, m.selected, m.theme, m.width),
	}
	if out := renderOutput(m.scripts, m.selectedRow(), m.output, m.theme, m.width); out != "" {
		parts = append(parts, out)
	}
	parts = append(parts, renderEventStream(m.eventLog, m.theme, m.width, 8))

	switch {
	case m.lastError != "":
		parts = append(parts, m.theme.StatusFailed.Render(" ⚠ "+m.lastError))
	case m.notice != "":
		parts = append(parts, m.theme.Dim.Render(" ✓ "+m.notice))
	}

	parts = append(parts, " "+m.help.View(m.keys))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
