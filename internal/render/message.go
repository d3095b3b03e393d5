// Package render turns status events into chat messages and hands them to a
// Sink. Each session owns one Dispatcher, and with it one task list view.
package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/zjrosen/statusrelay/internal/event"
)

// Kind classifies a rendered message.
type Kind string

const (
	KindStatus   Kind = "status"
	KindAlert    Kind = "alert"
	KindToast    Kind = "toast"
	KindTaskList Kind = "tasklist"
	KindText     Kind = "text"
	KindReply    Kind = "reply"
)

// Severity drives alert and card coloring.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Authors shown next to rendered messages.
const (
	AuthorStatus = "Status"
	AuthorSystem = "System"
	AuthorUser   = "You"
	AuthorBot    = "Assistant"
)

// Message is a host-agnostic chat message.
type Message struct {
	Kind       Kind              `json:"kind"`
	Author     string            `json:"author,omitempty"`
	Title      string            `json:"title,omitempty"`
	Content    string            `json:"content"`
	Icon       string            `json:"icon,omitempty"`
	Progress   *int              `json:"progress,omitempty"`
	Severity   Severity          `json:"severity,omitempty"`
	Tasks      []event.TaskEntry `json:"tasks,omitempty"`
	Closed     bool              `json:"closed,omitempty"`
	DurationMS int               `json:"duration_ms,omitempty"`
}

// Sink is the chat host. Send posts a new message and returns its id;
// Update replaces a previously sent message.
type Sink interface {
	Send(ctx context.Context, msg Message) (string, error)
	Update(ctx context.Context, id string, msg Message) error
}

var glyphs = map[string]string{
	"mail":           "✉",
	"calendar":       "▦",
	"search":         "⌕",
	"folder":         "▤",
	"database":       "◫",
	"code":           "</>",
	"loader":         "◐",
	"check-circle":   "✓",
	"alert-triangle": "⚠",
	"alert-circle":   "!",
	"info":           "i",
	"bell":           "♪",
	"clock":          "◷",
	"x-circle":       "✗",
}

// Glyph maps an icon name to a terminal glyph. Unknown names render as a bullet.
func Glyph(icon string) string {
	if g, ok := glyphs[icon]; ok {
		return g
	}
	if icon == "" {
		return ""
	}
	return "•"
}

var statusGlyphs = map[event.TaskStatus]string{
	event.TaskReady:   "○",
	event.TaskRunning: "◐",
	event.TaskDone:    "✓",
	event.TaskFailed:  "✗",
}

// Markdown renders any message as markdown.
func Markdown(msg Message) string {
	var b strings.Builder

	switch msg.Kind {
	case KindStatus:
		writeHeading(&b, msg)
		if msg.Content != "" {
			b.WriteString(msg.Content)
			b.WriteString("\n")
		}
		if msg.Progress != nil {
			fmt.Fprintf(&b, "\n`%s` %d%%\n", ProgressBar(*msg.Progress, 20), *msg.Progress)
		}

	case KindAlert:
		title := msg.Title
		if title == "" {
			title = strings.ToUpper(string(msg.Severity))
		}
		fmt.Fprintf(&b, "> **%s %s**\n", glyphOr(msg.Icon, "!"), title)
		for _, line := range strings.Split(msg.Content, "\n") {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteString("\n")
		}

	case KindToast:
		fmt.Fprintf(&b, "_%s_\n", msg.Content)

	case KindTaskList:
		writeHeading(&b, msg)
		b.WriteString(taskLines(msg.Tasks))
		if msg.Closed {
			b.WriteString("\n_closed_\n")
		}

	default:
		b.WriteString(msg.Content)
	}

	return strings.TrimRight(b.String(), "\n")
}

func writeHeading(b *strings.Builder, msg Message) {
	if msg.Title == "" {
		return
	}
	if g := Glyph(msg.Icon); g != "" {
		fmt.Fprintf(b, "**%s %s**\n\n", g, msg.Title)
		return
	}
	fmt.Fprintf(b, "**%s**\n\n", msg.Title)
}

// taskLines lays out one line per task, status text aligned after the
// widest task name.
func taskLines(tasks []event.TaskEntry) string {
	if len(tasks) == 0 {
		return "_no tasks_\n"
	}
	width := 0
	for _, t := range tasks {
		if w := runewidth.StringWidth(t.Name); w > width {
			width = w
		}
	}

	var b strings.Builder
	for _, t := range tasks {
		g := statusGlyphs[t.Status]
		if t.Icon != "" {
			g = Glyph(t.Icon)
		}
		fmt.Fprintf(&b, "- %s %s  %s\n", g, runewidth.FillRight(t.Name, width), t.Status)
	}
	return b.String()
}

// ProgressBar draws a fixed-width bar for a 0..100 percentage.
func ProgressBar(pct, width int) string {
	if width <= 0 {
		return ""
	}
	pct = max(0, min(100, pct))
	filled := pct * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func glyphOr(icon, fallback string) string {
	if g := Glyph(icon); g != "" {
		return g
	}
	return fallback
}
