package render

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// JSONLine is one record written by JSONSink.
type JSONLine struct {
	ID      string    `json:"id"`
	Update  bool      `json:"update,omitempty"`
	At      time.Time `json:"at"`
	Message Message   `json:"message"`
}

// JSONSink writes every message as one JSON object per line, for piping
// into other tools.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
	seq int
}

// NewJSONSink creates a sink writing JSON lines to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w), now: time.Now}
}

// Send implements Sink.
func (s *JSONSink) Send(_ context.Context, msg Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := fmt.Sprintf("json-%d", s.seq)
	return id, s.enc.Encode(JSONLine{ID: id, At: s.now(), Message: msg})
}

// Update implements Sink.
func (s *JSONSink) Update(_ context.Context, id string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enc.Encode(JSONLine{ID: id, Update: true, At: s.now(), Message: msg})
}

var _ Sink = (*JSONSink)(nil)
