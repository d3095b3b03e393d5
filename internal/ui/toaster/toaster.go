// Package toaster shows transient notifications over the chat view.
package toaster

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/statusrelay/internal/render"
)

// DefaultDuration applies when a toast carries no duration.
const DefaultDuration = 3 * time.Second

// Style selects the toast border color and glyph.
type Style int

const (
	StyleSuccess Style = iota
	StyleError
	StyleInfo
	StyleWarn
)

var (
	successColor = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#66BB6A"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#EF5350"}
	infoColor    = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#42A5F5"}
	warnColor    = lipgloss.AdaptiveColor{Light: "#EF6C00", Dark: "#FFA726"}
)

// StyleFor maps a message severity to a toast style.
func StyleFor(sev render.Severity) Style {
	switch sev {
	case render.SeveritySuccess:
		return StyleSuccess
	case render.SeverityError:
		return StyleError
	case render.SeverityWarning:
		return StyleWarn
	default:
		return StyleInfo
	}
}

// Model holds the toast state. It is a value type; Show and Hide return
// the updated copy.
type Model struct {
	message string
	style   Style
	visible bool
	seq     int
}

// New creates a hidden toaster.
func New() Model {
	return Model{}
}

// Show displays message and returns the command that dismisses it after d.
// A non-positive d uses DefaultDuration.
func (m Model) Show(message string, style Style, d time.Duration) (Model, tea.Cmd) {
	if d <= 0 {
		d = DefaultDuration
	}
	m.message = message
	m.style = style
	m.visible = true
	m.seq++
	return m, ScheduleDismiss(m.seq, d)
}

// ShowMessage displays a rendered toast message.
func (m Model) ShowMessage(msg render.Message) (Model, tea.Cmd) {
	return m.Show(msg.Content, StyleFor(msg.Severity), time.Duration(msg.DurationMS)*time.Millisecond)
}

// Hide dismisses the toast.
func (m Model) Hide() Model {
	m.visible = false
	m.message = ""
	return m
}

// Update hides the toast when its own dismiss timer fires. Timers from
// toasts that were since replaced are ignored.
func (m Model) Update(msg tea.Msg) Model {
	if d, ok := msg.(DismissMsg); ok && d.seq == m.seq {
		return m.Hide()
	}
	return m
}

// Visible reports whether a toast is showing.
func (m Model) Visible() bool {
	return m.visible && m.message != ""
}

// View renders the toast box, or "" when hidden.
func (m Model) View() string {
	if !m.Visible() {
		return ""
	}

	style := lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.RoundedBorder())

	var glyph string
	switch m.style {
	case StyleError:
		style, glyph = style.BorderForeground(errorColor), "✗"
	case StyleInfo:
		style, glyph = style.BorderForeground(infoColor), "i"
	case StyleWarn:
		style, glyph = style.BorderForeground(warnColor), "⚠"
	default:
		style, glyph = style.BorderForeground(successColor), "✓"
	}
	return style.Render(glyph + " " + m.message)
}

// Overlay draws the toast centered one row above the bottom of bg, which is
// width by height cells. The rows it covers are replaced.
func (m Model) Overlay(bg string, width, height int) string {
	if !m.Visible() {
		return bg
	}

	lines := strings.Split(bg, "\n")
	for len(lines) < height {
		lines = append(lines, "")
	}
	toast := strings.Split(m.View(), "\n")

	start := max(0, height-1-len(toast))
	for i, row := range toast {
		if start+i >= len(lines) {
			break
		}
		lines[start+i] = lipgloss.PlaceHorizontal(width, lipgloss.Center, row)
	}
	return strings.Join(lines, "\n")
}

// DismissMsg hides the toast that scheduled it.
type DismissMsg struct {
	seq int
}

// ScheduleDismiss returns a command that emits DismissMsg after d.
func ScheduleDismiss(seq int, d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return DismissMsg{seq: seq}
	})
}
