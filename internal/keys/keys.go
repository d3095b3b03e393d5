// Package keys contains keybinding definitions.
package keys

import "github.com/charmbracelet/bubbles/key"

// ChatKeyMap defines the keybindings for the chat view.
type ChatKeyMap struct {
	Send       key.Binding
	Clear      key.Binding
	ScrollUp   key.Binding
	ScrollDown key.Binding
	Quit       key.Binding
}

// DefaultChatKeyMap returns the default chat keybindings.
func DefaultChatKeyMap() ChatKeyMap {
	return ChatKeyMap{
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Clear: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("ctrl+l", "clear history"),
		),
		ScrollUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("pgup", "scroll up"),
		),
		ScrollDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("pgdn", "scroll down"),
		),
		// Plain letters go to the input, so quit stays on control keys.
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "esc"),
			key.WithHelp("esc", "quit"),
		),
	}
}

// ShortHelp returns keybindings for the short help view.
func (k ChatKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Clear, k.Quit}
}

// FullHelp returns keybindings for the full help view.
func (k ChatKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Send, k.Clear},          // Input
		{k.ScrollUp, k.ScrollDown}, // Scrollback
		{k.Quit},                   // General
	}
}
