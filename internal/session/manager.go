package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/statusrelay/internal/log"
	"github.com/zjrosen/statusrelay/internal/render"
)

// ErrUnknownSession is returned by Close for ids that are not open.
var ErrUnknownSession = errors.New("unknown session")

// ErrManagerClosed is returned by Open after CloseAll.
var ErrManagerClosed = errors.New("session manager closed")

// Session is one open chat session and its consumer.
type Session struct {
	ID         string
	OpenedAt   time.Time
	Dispatcher *render.Dispatcher
	Consumer   *Consumer
}

// Config holds the settings applied to every session.
type Config struct {
	PollInterval    time.Duration
	ToastDurationMS int
	Tracer          trace.Tracer
}

// Manager tracks open sessions. All sessions drain the same Source, so each
// event goes to exactly one of them.
type Manager struct {
	source Source
	cfg    Config

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a manager over source.
func NewManager(source Source, cfg Config) *Manager {
	return &Manager{
		source:   source,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Open starts a session rendering to sink.
func (m *Manager) Open(ctx context.Context, sink render.Sink) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	id := uuid.NewString()
	opts := []render.Option{render.WithToastDuration(m.cfg.ToastDurationMS)}
	if m.cfg.Tracer != nil {
		opts = append(opts, render.WithTracer(m.cfg.Tracer))
	}
	d := render.NewDispatcher(sink, opts...)
	c := NewConsumer(id, m.source, d, m.cfg.PollInterval)

	s := &Session{
		ID:         id,
		OpenedAt:   time.Now(),
		Dispatcher: d,
		Consumer:   c,
	}
	m.sessions[id] = s
	c.Start(ctx)

	log.Info(log.CatSession, "session opened", "session", id, "open", len(m.sessions))
	return s, nil
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	return s, ok
}

// Close stops the session's consumer and waits for it to exit.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrUnknownSession
	}
	s.Consumer.Stop()
	s.Consumer.Wait()

	log.Info(log.CatSession, "session closed", "session", id, "handled", s.Consumer.Handled())
	return nil
}

// CloseAll closes every session and rejects further Opens.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Consumer.Stop()
	}
	for _, s := range sessions {
		s.Consumer.Wait()
	}
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// IDs returns open session ids, oldest first.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].OpenedAt.Before(list[j].OpenedAt) })
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	return ids
}
