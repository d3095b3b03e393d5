package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zjrosen/statusrelay/internal/render"
	"github.com/zjrosen/statusrelay/internal/transcript"
)

// TranscriptEntryModel is a transcript_entries row. Times are Unix
// milliseconds; Message is the JSON encoded render.Message.
type TranscriptEntryModel struct {
	Seq       int64
	ID        string
	SessionID string
	Kind      string
	Author    string
	Content   string
	Message   string
	CreatedAt int64
	UpdatedAt int64
}

func toEntryModel(sessionID string, e transcript.Entry, now time.Time) (*TranscriptEntryModel, error) {
	msg, err := json.Marshal(e.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	at := e.At
	if at.IsZero() {
		at = now
	}
	return &TranscriptEntryModel{
		ID:        e.ID,
		SessionID: sessionID,
		Kind:      string(e.Message.Kind),
		Author:    e.Message.Author,
		Content:   e.Message.Content,
		Message:   string(msg),
		CreatedAt: at.UnixMilli(),
		UpdatedAt: now.UnixMilli(),
	}, nil
}

func (m *TranscriptEntryModel) toDomain() (transcript.Entry, error) {
	var msg render.Message
	if err := json.Unmarshal([]byte(m.Message), &msg); err != nil {
		return transcript.Entry{}, fmt.Errorf("failed to decode message for entry %s: %w", m.ID, err)
	}
	return transcript.Entry{
		ID:      m.ID,
		Message: msg,
		At:      time.UnixMilli(m.CreatedAt),
	}, nil
}
