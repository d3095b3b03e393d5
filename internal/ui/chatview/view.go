package chatview

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/statusrelay/internal/log"
	"github.com/zjrosen/statusrelay/internal/render"
	"github.com/zjrosen/statusrelay/internal/transcript"
)

const (
	headerHeight = 1
	inputHeight  = 2
)

var (
	userColor      = lipgloss.AdaptiveColor{Light: "#D9730D", Dark: "#FB923C"}
	assistantColor = lipgloss.AdaptiveColor{Light: "#117A7F", Dark: "#179299"}
	statusColor    = lipgloss.AdaptiveColor{Light: "#6F42C1", Dark: "#A066D3"}
	systemColor    = lipgloss.AdaptiveColor{Light: "#C92A2A", Dark: "#FF8787"}
	mutedColor     = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"}

	severityColors = map[render.Severity]lipgloss.AdaptiveColor{
		render.SeverityInfo:    {Light: "#1565C0", Dark: "#54A0FF"},
		render.SeveritySuccess: {Light: "#2E7D32", Dark: "#43BF6D"},
		render.SeverityWarning: {Light: "#EF6C00", Dark: "#FFB347"},
		render.SeverityError:   {Light: "#C62828", Dark: "#FF6B6B"},
	}

	roleStyle   = lipgloss.NewStyle().Bold(true)
	timeStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	headerStyle = lipgloss.NewStyle().Bold(true)
	inputStyle  = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(mutedColor)
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(inputStyle.Width(m.width).Render(m.input.View()))

	return m.toast.Overlay(b.String(), m.width, m.height)
}

func (m Model) header() string {
	parts := []string{headerStyle.Render(m.cfg.Title)}
	if m.cfg.Status != nil {
		if s := m.cfg.Status(); s != "" {
			parts = append(parts, timeStyle.Render(s))
		}
	}
	if m.working {
		parts = append(parts, m.spinner.View()+" waiting for reply")
	} else {
		parts = append(parts, m.help.View(m.keys))
	}
	return lipgloss.NewStyle().MaxWidth(m.width).Render(strings.Join(parts, "  "))
}

func (m Model) renderEntries(entries []transcript.Entry) string {
	width := max(m.viewport.Width-2, 10)
	md, err := m.cfg.Markdown.Get(width)
	if err != nil {
		log.ErrorErr(log.CatUI, "markdown renderer unavailable", err)
	}

	var b strings.Builder
	for _, e := range entries {
		if e.Message.Kind == render.KindToast {
			continue
		}

		b.WriteString(roleStyle.Foreground(authorColor(e.Message)).Render(authorLabel(e.Message)))
		b.WriteString(" ")
		b.WriteString(timeStyle.Render(e.At.Format("15:04:05")))
		b.WriteString("\n")

		body := render.Markdown(e.Message)
		if md != nil {
			if out, err := md.Render(body); err == nil {
				body = strings.Trim(out, "\n")
			}
		}
		if c, ok := severityColors[e.Message.Severity]; ok && e.Message.Kind != render.KindReply {
			body = lipgloss.NewStyle().
				Border(lipgloss.ThickBorder(), false, false, false, true).
				BorderForeground(c).
				PaddingLeft(1).
				Render(body)
		}
		b.WriteString(body)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func authorLabel(msg render.Message) string {
	if msg.Author != "" {
		return msg.Author
	}
	return render.AuthorStatus
}

func authorColor(msg render.Message) lipgloss.AdaptiveColor {
	switch msg.Author {
	case render.AuthorUser:
		return userColor
	case render.AuthorBot:
		return assistantColor
	case render.AuthorSystem:
		return systemColor
	default:
		return statusColor
	}
}
