package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	up      key.Binding
	down    key.Binding
	install key.Binding
	refresh key.Binding
	stop    key.Binding
	remove  key.Binding
	sync    key.Binding
	yes     key.Binding
	no      key.Binding
	quit    key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		install: key.NewBinding(key.WithKeys("enter", "i"), key.WithHelp("enter", "install")),
		refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		stop:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
		remove:  key.NewBinding(key.WithKeys("d", "delete"), key.WithHelp("d", "remove")),
		sync:    key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "resync")),
		yes:     key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "yes")),
		no:      key.NewBinding(key.WithKeys("n", "esc"), key.WithHelp("n", "no")),
		quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.install, k.stop, k.remove, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.up, k.down, k.install},
		{k.refresh, k.stop, k.remove},
		{k.sync, k.quit},
	}
}
