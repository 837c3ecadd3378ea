package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the live view keybindings.
type KeyMap struct {
	Quit   key.Binding
	Up     key.Binding
	Down   key.Binding
	Pause  key.Binding
	RunNow key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Pause: key.NewBinding(
			key.WithKeys("p", " "),
			key.WithHelp("p", "pause/resume"),
		),
		RunNow: key.NewBinding(
			key.WithKeys("r", "enter"),
			key.WithHelp("r", "run now"),
		),
	}
}

func (k KeyMap) hints() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Pause, k.RunNow, k.Quit}
}
