package watch

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Run      key.Binding
	Terminal key.Binding
	Cancel   key.Binding
	Reset    key.Binding
	Dequeue  key.Binding
	Rescan   key.Binding
	Quit     key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Run:      key.NewBinding(key.WithKeys("enter", "r"), key.WithHelp("enter", "run")),
		Terminal: key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "terminal")),
		Cancel:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel")),
		Reset:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "reset")),
		Dequeue:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "dequeue")),
		Rescan:   key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "rescan")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Run, k.Terminal, k.Cancel, k.Reset, k.Dequeue, k.Rescan, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Run, k.Terminal, k.Cancel, k.Reset, k.Dequeue},
		{k.Rescan, k.Quit},
	}
}
