package render

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"
)

// Severity colors shared by the console sink and the chat view.
var (
	InfoColor    = lipgloss.AdaptiveColor{Light: "#1E66F5", Dark: "#89B4FA"}
	SuccessColor = lipgloss.AdaptiveColor{Light: "#40A02B", Dark: "#A6E3A1"}
	WarningColor = lipgloss.AdaptiveColor{Light: "#DF8E1D", Dark: "#F9E2AF"}
	ErrorColor   = lipgloss.AdaptiveColor{Light: "#D20F39", Dark: "#F38BA8"}
	MutedColor   = lipgloss.AdaptiveColor{Light: "#8C8FA1", Dark: "#6C7086"}
)

// SeverityColor returns the accent color for s.
func SeverityColor(s Severity) lipgloss.AdaptiveColor {
	switch s {
	case SeveritySuccess:
		return SuccessColor
	case SeverityWarning:
		return WarningColor
	case SeverityError:
		return ErrorColor
	default:
		return InfoColor
	}
}

// MarkdownRenderer styles markdown for the terminal.
type MarkdownRenderer interface {
	Render(markdown string) (string, error)
}

// ConsoleOption configures a ConsoleSink.
type ConsoleOption func(*ConsoleSink)

// WithMarkdown styles bodies through r. Without it bodies are word wrapped
// plain markdown.
func WithMarkdown(r MarkdownRenderer) ConsoleOption {
	return func(c *ConsoleSink) { c.md = r }
}

// WithWidth sets the wrap width.
func WithWidth(width int) ConsoleOption {
	return func(c *ConsoleSink) {
		if width > 0 {
			c.width = width
		}
	}
}

// WithNoColor strips all color and styling.
func WithNoColor() ConsoleOption {
	return func(c *ConsoleSink) { c.plain = true }
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) ConsoleOption {
	return func(c *ConsoleSink) { c.now = now }
}

// ConsoleSink prints messages to a writer. Terminals cannot edit earlier
// output, so Update prints the whole message again under the same id.
type ConsoleSink struct {
	mu     sync.Mutex
	out    io.Writer
	md     MarkdownRenderer
	width  int
	plain  bool
	now    func() time.Time
	styles *lipgloss.Renderer
	seq    int
}

// NewConsoleSink creates a sink writing to w.
func NewConsoleSink(w io.Writer, opts ...ConsoleOption) *ConsoleSink {
	c := &ConsoleSink{
		out:   w,
		width: 80,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.styles = lipgloss.NewRenderer(w)
	if c.plain {
		c.styles.SetColorProfile(termenv.Ascii)
	}
	return c
}

// Send implements Sink.
func (c *ConsoleSink) Send(_ context.Context, msg Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	id := fmt.Sprintf("console-%d", c.seq)
	return id, c.write(id, msg, false)
}

// Update implements Sink.
func (c *ConsoleSink) Update(_ context.Context, id string, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.write(id, msg, true)
}

func (c *ConsoleSink) write(id string, msg Message, update bool) error {
	body, err := c.body(msg)
	if err != nil {
		return err
	}

	label := msg.Author
	if label == "" {
		label = AuthorStatus
	}
	if update {
		label += " (updated)"
	}

	header := c.styles.NewStyle().Bold(true).Foreground(SeverityColor(msg.Severity)).Render(label)
	meta := c.styles.NewStyle().Foreground(MutedColor).Render(fmt.Sprintf("%s %s", c.now().Format("15:04:05"), id))

	_, err = fmt.Fprintf(c.out, "%s %s\n%s\n\n", header, meta, body)
	return err
}

func (c *ConsoleSink) body(msg Message) (string, error) {
	text := Markdown(msg)
	if c.md == nil {
		return wordwrap.String(text, c.width), nil
	}

	out, err := c.md.Render(text)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	out = strings.Trim(out, "\n")
	if c.plain {
		out = ansi.Strip(out)
	}
	return out, nil
}
