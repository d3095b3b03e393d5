// Package chatview is the terminal chat window: the session transcript,
// including rendered status events, above a single-line input that talks to
// the chat backend.
package chatview

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/zjrosen/statusrelay/internal/backend"
	"github.com/zjrosen/statusrelay/internal/keys"
	"github.com/zjrosen/statusrelay/internal/log"
	"github.com/zjrosen/statusrelay/internal/normalize"
	"github.com/zjrosen/statusrelay/internal/pubsub"
	"github.com/zjrosen/statusrelay/internal/render"
	"github.com/zjrosen/statusrelay/internal/transcript"
	"github.com/zjrosen/statusrelay/internal/ui/markdown"
	"github.com/zjrosen/statusrelay/internal/ui/toaster"
)

// ErrNoBackend is shown when a message is sent without a configured backend.
var ErrNoBackend = errors.New("no chat backend configured")

// Sender delivers one chat turn. Implemented by backend.Client.
type Sender interface {
	Send(ctx context.Context, req backend.Request) ([]normalize.Record, error)
}

// Config wires the chat view.
type Config struct {
	Transcript *transcript.Transcript
	Backend    Sender
	// Markdown renders entry bodies. Defaults to a dark style cache.
	Markdown *markdown.Cache
	// Title is shown in the header. Defaults to "statusrelay".
	Title string
	// Status returns a short header suffix, typically the listener address.
	Status func() string
	// Logs, when set, surfaces WARN and ERROR log lines as toasts.
	Logs *log.LogListener
}

// ReplyMsg carries the outcome of a backend turn.
type ReplyMsg struct {
	Records []normalize.Record
	Err     error
}

// Model is the chat window. It implements tea.Model.
type Model struct {
	cfg      Config
	ctx      context.Context
	listener *pubsub.ContinuousListener[transcript.Entry]

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	toast    toaster.Model
	keys     keys.ChatKeyMap
	help     help.Model

	width   int
	height  int
	working bool
	ready   bool
}

// New creates a chat view bound to ctx. The transcript subscription ends
// with ctx.
func New(ctx context.Context, cfg Config) Model {
	if cfg.Markdown == nil {
		cfg.Markdown = markdown.NewCache("dark")
	}
	if cfg.Title == "" {
		cfg.Title = "statusrelay"
	}

	input := textinput.New()
	input.Placeholder = "Type a message and press Enter"
	input.Prompt = "› "
	input.CharLimit = 0
	input.Focus()

	return Model{
		cfg:      cfg,
		ctx:      ctx,
		listener: pubsub.NewContinuousListener[transcript.Entry](ctx, cfg.Transcript),
		viewport: viewport.New(0, 0),
		input:    input,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		toast:    toaster.New(),
		keys:     keys.DefaultChatKeyMap(),
		help:     help.New(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.listener.Listen(), textinput.Blink}
	if m.cfg.Logs != nil {
		cmds = append(cmds, m.cfg.Logs.Listen())
	}
	return tea.Batch(cmds...)
}

// Working reports whether a backend turn is in flight.
func (m Model) Working() bool {
	return m.working
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m = m.setSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Clear):
			if err := m.cfg.Transcript.Clear(); err != nil {
				log.ErrorErr(log.CatUI, "failed to clear transcript", err)
				var cmd tea.Cmd
				m.toast, cmd = m.toast.Show("Could not clear history", toaster.StyleError, 0)
				return m, cmd
			}
			return m, nil
		case key.Matches(msg, m.keys.Send):
			return m.submit()
		case key.Matches(msg, m.keys.ScrollUp, m.keys.ScrollDown):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case pubsub.Event[transcript.Entry]:
		if msg.Type == pubsub.CreatedEvent && msg.Payload.Message.Kind == render.KindToast {
			var cmd tea.Cmd
			m.toast, cmd = m.toast.ShowMessage(msg.Payload.Message)
			cmds = append(cmds, cmd)
		}
		m = m.refresh()
		cmds = append(cmds, m.listener.Listen())
		return m, tea.Batch(cmds...)

	case log.LogEvent:
		var cmd tea.Cmd
		if style, text, ok := logToast(msg.Payload); ok {
			m.toast, cmd = m.toast.Show(text, style, 0)
		}
		if m.cfg.Logs == nil {
			return m, cmd
		}
		return m, tea.Batch(cmd, m.cfg.Logs.Listen())

	case ReplyMsg:
		m.working = false
		if msg.Err != nil {
			log.ErrorErr(log.CatUI, "chat turn failed", msg.Err, "session", m.cfg.Transcript.SessionID())
			m.cfg.Transcript.AppendError(msg.Err)
			var cmd tea.Cmd
			m.toast, cmd = m.toast.Show("Backend request failed", toaster.StyleError, 0)
			return m.refresh(), cmd
		}
		m.cfg.Transcript.AppendReply(msg.Records)
		return m.refresh(), nil

	case spinner.TickMsg:
		if !m.working {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case toaster.DismissMsg:
		m.toast = m.toast.Update(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit records the input as a user turn and sends it to the backend.
func (m Model) submit() (Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if m.working {
		var cmd tea.Cmd
		m.toast, cmd = m.toast.Show("Still waiting for the previous reply", toaster.StyleWarn, 0)
		return m, cmd
	}

	m.input.SetValue("")
	m.cfg.Transcript.AppendUser(text)
	m.working = true
	m = m.refresh()
	return m, tea.Batch(m.sendCmd(text), m.spinner.Tick)
}

func (m Model) sendCmd(text string) tea.Cmd {
	ctx, sender, sessionID := m.ctx, m.cfg.Backend, m.cfg.Transcript.SessionID()
	return func() tea.Msg {
		if sender == nil {
			return ReplyMsg{Err: ErrNoBackend}
		}
		records, err := sender.Send(ctx, backend.Request{ChatInput: text, SessionID: sessionID})
		return ReplyMsg{Records: records, Err: err}
	}
}

func (m Model) setSize(width, height int) Model {
	m.width, m.height = width, height
	m.viewport.Width = max(width, 1)
	m.viewport.Height = max(height-headerHeight-inputHeight, 1)
	m.input.Width = max(width-4, 1)
	m.help.Width = width
	m.ready = true
	return m.refresh()
}

// refresh re-renders the transcript, following the tail when the view was
// already scrolled to the bottom.
func (m Model) refresh() Model {
	if !m.ready {
		return m
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderEntries(m.cfg.Transcript.Entries()))
	if atBottom {
		m.viewport.GotoBottom()
	}
	return m
}

// logToast picks WARN and ERROR lines out of the log stream and trims the
// timestamp and level prefix.
func logToast(line string) (toaster.Style, string, bool) {
	var style toaster.Style
	switch {
	case strings.Contains(line, " [ERROR] "):
		style = toaster.StyleError
	case strings.Contains(line, " [WARN] "):
		style = toaster.StyleWarn
	default:
		return style, "", false
	}
	text := strings.TrimSpace(line)
	if i := strings.Index(text, "] ["); i >= 0 {
		if j := strings.Index(text[i+3:], "] "); j >= 0 {
			text = text[i+3+j+2:]
		}
	}
	return style, text, true
}
