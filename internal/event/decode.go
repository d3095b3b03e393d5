package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidPayload is returned for bodies that are not a single JSON object.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrMissingField is returned when a required key is absent.
	ErrMissingField = errors.New("missing required field")
)

// Decode parses a status event body. The body must be one JSON object with
// a "content" key; an empty string counts as present. A missing "type"
// becomes "info", and a non-string "type" is kept as its JSON text. Optional
// fields of the wrong shape are dropped rather than rejected.
func Decode(data []byte) (StatusEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return StatusEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return StatusEvent{}, fmt.Errorf("%w: trailing data after JSON object", ErrInvalidPayload)
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return StatusEvent{}, fmt.Errorf("%w: body must be a JSON object", ErrInvalidPayload)
	}
	return FromMap(obj)
}

// FromMap builds a StatusEvent from an already decoded JSON object.
func FromMap(obj map[string]any) (StatusEvent, error) {
	content, ok := obj["content"]
	if !ok || content == nil {
		return StatusEvent{}, fmt.Errorf("%w: content", ErrMissingField)
	}

	typeName := DefaultTypeName
	if raw, present := obj["type"]; present && raw != nil {
		// Non-string types keep their text form and render as unknown.
		s := stringify(raw)
		if strings.TrimSpace(s) != "" {
			typeName = strings.TrimSpace(s)
		}
	}

	ev := StatusEvent{
		Type:       ParseType(typeName),
		TypeName:   typeName,
		Title:      stringField(obj, "title"),
		Content:    stringify(content),
		Icon:       stringField(obj, "icon"),
		Progress:   intField(obj, "progress"),
		DurationMS: intField(obj, "duration"),
		Tasks:      tasksField(obj["tasks"]),
		Name:       stringField(obj, "name"),
		IsFinal:    boolField(obj, "is_final"),
		ID:         stringField(obj, "id"),
		Raw:        obj,
		ReceivedAt: time.Now(),
	}
	if _, present := obj["status"]; present {
		ev.Status = ParseTaskStatus(stringField(obj, "status"))
	}
	if ev.Progress != nil {
		p := clamp(*ev.Progress, 0, 100)
		ev.Progress = &p
	}
	return ev, nil
}

// Encode renders the event as a wire body.
func Encode(ev StatusEvent) ([]byte, error) {
	if ev.TypeName == "" {
		ev.TypeName = ev.Type.String()
		if ev.Type == TypeUnknown {
			ev.TypeName = DefaultTypeName
		}
	}
	return json.Marshal(ev)
}

func stringField(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

// stringify renders scalars as text and anything else as compact JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func intField(obj map[string]any, key string) *int {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil
	}
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return nil
	}
	n := int(math.Round(f))
	return &n
}

func boolField(obj map[string]any, key string) bool {
	switch t := obj[key].(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}

func tasksField(v any) []TaskEntry {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	tasks := make([]TaskEntry, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := stringField(m, "name")
		if name == "" {
			continue
		}
		tasks = append(tasks, TaskEntry{
			Name:   name,
			Status: ParseTaskStatus(stringField(m, "status")),
			Icon:   stringField(m, "icon"),
		})
	}
	return tasks
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
