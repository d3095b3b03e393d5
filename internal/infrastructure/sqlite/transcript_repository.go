package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/zjrosen/statusrelay/internal/transcript"
)

// SessionSummary describes one persisted session.
type SessionSummary struct {
	ID      string
	Entries int
	FirstAt time.Time
	LastAt  time.Time
}

// TranscriptRepository stores transcript entries keyed by session.
type TranscriptRepository struct {
	db  *sql.DB
	now func() time.Time
}

func newTranscriptRepository(db *sql.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db, now: time.Now}
}

var _ transcript.Store = (*TranscriptRepository)(nil)

// Save inserts the entry, or updates it in place when the id exists. An
// updated entry keeps its position and creation time.
func (r *TranscriptRepository) Save(sessionID string, e transcript.Entry) error {
	model, err := toEntryModel(sessionID, e, r.now())
	if err != nil {
		return err
	}
	_, err = r.db.Exec(
		`INSERT INTO transcript_entries (id, session_id, kind, author, content, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			author = excluded.author,
			content = excluded.content,
			message = excluded.message,
			updated_at = excluded.updated_at`,
		model.ID, model.SessionID, model.Kind, model.Author, model.Content, model.Message,
		model.CreatedAt, model.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save transcript entry: %w", err)
	}
	return nil
}

// List returns a session's entries in the order they were first saved.
func (r *TranscriptRepository) List(sessionID string) ([]transcript.Entry, error) {
	rows, err := r.db.Query(
		`SELECT seq, id, session_id, kind, author, content, message, created_at, updated_at
		FROM transcript_entries WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcript entries: %w", err)
	}
	defer rows.Close()

	var entries []transcript.Entry
	for rows.Next() {
		var m TranscriptEntryModel
		if err := rows.Scan(&m.Seq, &m.ID, &m.SessionID, &m.Kind, &m.Author, &m.Content,
			&m.Message, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript entry: %w", err)
		}
		e, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcript entries: %w", err)
	}
	return entries, nil
}

// DeleteSession removes every entry of a session.
func (r *TranscriptRepository) DeleteSession(sessionID string) error {
	if _, err := r.db.Exec(`DELETE FROM transcript_entries WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session transcript: %w", err)
	}
	return nil
}

// Sessions lists persisted sessions, most recently active first.
func (r *TranscriptRepository) Sessions() ([]SessionSummary, error) {
	rows, err := r.db.Query(
		`SELECT session_id, COUNT(*), MIN(created_at), MAX(updated_at)
		FROM transcript_entries
		GROUP BY session_id
		ORDER BY MAX(seq) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			s           SessionSummary
			first, last int64
		)
		if err := rows.Scan(&s.ID, &s.Entries, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}
		s.FirstAt = time.UnixMilli(first)
		s.LastAt = time.UnixMilli(last)
		out = append(out, s)
	}
	return out, rows.Err()
}
