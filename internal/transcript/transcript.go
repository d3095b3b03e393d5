// Package transcript keeps the ordered chat history of one session. It is the
// render.Sink behind the terminal chat view.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/statusrelay/internal/log"
	"github.com/zjrosen/statusrelay/internal/normalize"
	"github.com/zjrosen/statusrelay/internal/pubsub"
	"github.com/zjrosen/statusrelay/internal/render"
)

// ErrUnknownEntry is returned by Update for ids that were never sent.
var ErrUnknownEntry = errors.New("unknown transcript entry")

// Entry is one message in the transcript.
type Entry struct {
	ID      string         `json:"id"`
	Message render.Message `json:"message"`
	At      time.Time      `json:"at"`
}

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one user or assistant message of the conversation history.
// Status traffic is not part of the history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store persists entries. Implemented by infrastructure/sqlite.
type Store interface {
	Save(sessionID string, e Entry) error
	List(sessionID string) ([]Entry, error)
	DeleteSession(sessionID string) error
}

// Transcript is safe for concurrent use. Every change is published on its
// broker as a CreatedEvent, UpdatedEvent or DeletedEvent.
type Transcript struct {
	sessionID string
	store     Store
	now       func() time.Time
	broker    *pubsub.Broker[Entry]

	mu      sync.Mutex
	entries []Entry
	index   map[string]int
}

// Option configures a Transcript.
type Option func(*Transcript)

// WithStore persists every change to s.
func WithStore(s Store) Option {
	return func(t *Transcript) { t.store = s }
}

// WithClock overrides the entry timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Transcript) { t.now = now }
}

// New creates an empty transcript for sessionID.
func New(sessionID string, opts ...Option) *Transcript {
	t := &Transcript{
		sessionID: sessionID,
		now:       time.Now,
		index:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.broker = pubsub.NewBroker[Entry](pubsub.WithClock(t.now))
	return t
}

// SessionID returns the owning session id.
func (t *Transcript) SessionID() string {
	return t.sessionID
}

// Load replaces the in-memory entries with what the store holds. It does not
// publish events.
func (t *Transcript) Load() error {
	if t.store == nil {
		return nil
	}
	entries, err := t.store.List(t.sessionID)
	if err != nil {
		return fmt.Errorf("loading transcript %s: %w", t.sessionID, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = entries
	t.index = make(map[string]int, len(entries))
	for i, e := range entries {
		t.index[e.ID] = i
	}
	return nil
}

// Send appends msg and returns its entry id.
func (t *Transcript) Send(_ context.Context, msg render.Message) (string, error) {
	e := t.append(msg)
	return e.ID, nil
}

// Update replaces the message of an existing entry in place.
func (t *Transcript) Update(_ context.Context, id string, msg render.Message) error {
	t.mu.Lock()
	i, ok := t.index[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}
	t.entries[i].Message = msg
	e := t.entries[i]
	t.mu.Unlock()

	t.persist(e)
	t.broker.Publish(pubsub.UpdatedEvent, e)
	return nil
}

// AppendUser records the user's side of a turn.
func (t *Transcript) AppendUser(text string) Entry {
	return t.append(render.Message{
		Kind:    render.KindText,
		Author:  render.AuthorUser,
		Content: text,
	})
}

// AppendReply records a normalized backend reply, one entry per record.
// Image elements are appended to the content as markdown images.
func (t *Transcript) AppendReply(records []normalize.Record) []Entry {
	out := make([]Entry, 0, len(records))
	for _, r := range records {
		out = append(out, t.append(render.Message{
			Kind:    render.KindReply,
			Author:  render.AuthorBot,
			Content: replyContent(r),
		}))
	}
	return out
}

// AppendError records a failed turn as a visible system message.
func (t *Transcript) AppendError(err error) Entry {
	return t.append(render.Message{
		Kind:     render.KindAlert,
		Author:   render.AuthorSystem,
		Severity: render.SeverityError,
		Content:  "I'm sorry, an error occurred: " + err.Error(),
	})
}

// Entries returns a copy of all entries in order.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

// Get returns the entry with id.
func (t *Transcript) Get(id string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok {
		return Entry{}, false
	}
	return t.entries[i], true
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// History returns the last n user and assistant turns, oldest first. n <= 0
// returns all of them.
func (t *Transcript) History(n int) []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()

	var turns []Turn
	for _, e := range t.entries {
		switch {
		case e.Message.Kind == render.KindText && e.Message.Author == render.AuthorUser:
			turns = append(turns, Turn{Role: RoleUser, Content: e.Message.Content})
		case e.Message.Kind == render.KindReply:
			turns = append(turns, Turn{Role: RoleAssistant, Content: e.Message.Content})
		}
	}
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

// Clear drops every entry, including persisted ones.
func (t *Transcript) Clear() error {
	t.mu.Lock()
	t.entries = nil
	t.index = make(map[string]int)
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.DeleteSession(t.sessionID); err != nil {
			return fmt.Errorf("clearing transcript %s: %w", t.sessionID, err)
		}
	}
	t.broker.Publish(pubsub.DeletedEvent, Entry{})
	return nil
}

// Subscribe streams transcript changes until ctx is done.
func (t *Transcript) Subscribe(ctx context.Context) <-chan pubsub.Event[Entry] {
	return t.broker.Subscribe(ctx)
}

// Close ends every subscription.
func (t *Transcript) Close() {
	t.broker.Close()
}

func (t *Transcript) append(msg render.Message) Entry {
	e := Entry{
		ID:      uuid.NewString(),
		Message: msg,
		At:      t.now(),
	}

	t.mu.Lock()
	t.index[e.ID] = len(t.entries)
	t.entries = append(t.entries, e)
	t.mu.Unlock()

	t.persist(e)
	t.broker.Publish(pubsub.CreatedEvent, e)
	return e
}

// persist logs store failures. The in-memory transcript stays authoritative
// for the running session.
func (t *Transcript) persist(e Entry) {
	if t.store == nil {
		return
	}
	if err := t.store.Save(t.sessionID, e); err != nil {
		log.ErrorErr(log.CatStore, "failed to persist transcript entry", err, "session", t.sessionID, "entry", e.ID)
	}
}

func replyContent(r normalize.Record) string {
	var images []string
	for _, el := range r.Elements {
		if el.Type == normalize.ElementImage && el.URL != "" {
			images = append(images, fmt.Sprintf("![%s](%s)", el.Name, el.URL))
		}
	}
	if len(images) == 0 {
		return r.Text()
	}
	return r.Text() + "\n\n" + strings.Join(images, "\n")
}

var (
	_ render.Sink               = (*Transcript)(nil)
	_ pubsub.Subscriber[Entry] = (*Transcript)(nil)
)
