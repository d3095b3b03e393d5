package keys

import (
	"testing"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

func TestChat_KeyAssignment(t *testing.T) {
	k := DefaultChatKeyMap()

	require.Equal(t, []string{"enter"}, k.Send.Keys())
	require.Equal(t, []string{"ctrl+l"}, k.Clear.Keys())
	require.Equal(t, []string{"ctrl+c", "esc"}, k.Quit.Keys())
}

func TestChat_MatchesKeyMsgs(t *testing.T) {
	k := DefaultChatKeyMap()

	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyEnter}, k.Send))
	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyCtrlL}, k.Clear))
	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyEsc}, k.Quit))
	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyCtrlC}, k.Quit))
	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyPgUp}, k.ScrollUp))
	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyPgDown}, k.ScrollDown))
}

func TestChat_PlainLettersAreNotBound(t *testing.T) {
	k := DefaultChatKeyMap()

	for _, r := range "q?jk" {
		msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
		for _, b := range []key.Binding{k.Send, k.Clear, k.ScrollUp, k.ScrollDown, k.Quit} {
			require.False(t, key.Matches(msg, b), "rune %q must reach the input", r)
		}
	}
}

func TestChat_HelpText(t *testing.T) {
	k := DefaultChatKeyMap()

	for _, b := range append(k.ShortHelp(), k.ScrollUp, k.ScrollDown) {
		require.NotEmpty(t, b.Help().Key)
		require.NotEmpty(t, b.Help().Desc)
	}
	require.Len(t, k.FullHelp(), 3)

	var _ help.KeyMap = k
	out := help.New().ShortHelpView(k.ShortHelp())
	require.Contains(t, out, "clear history")
}
