// Package normalize coerces an arbitrary backend workflow reply into a list
// of records that each carry a displayable output string.
//
// Objects with no output-like key are dumped as compact JSON with sorted
// keys, so [{"foo":1}] yields the output {"foo":1}. A bare object reply
// without an output becomes a fresh record holding only the output; list
// elements keep their other keys.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/zjrosen/statusrelay/internal/log"
)

// ErrInvalidJSON is returned by Parse when the reply is not valid JSON.
// Normalization itself has no failure path.
var ErrInvalidJSON = errors.New("invalid JSON reply")

// FallbackKeys are consulted in order when a record has no usable "output".
var FallbackKeys = []string{"text", "content", "response"}

const (
	// ElementImage marks an image attachment.
	ElementImage = "image"
	// DefaultImageName labels images that arrive as bare URLs.
	DefaultImageName = "Generated Image"
)

// Element is an attachment descriptor carried alongside a reply.
type Element struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
	Name string `json:"name,omitempty"`
}

// Record is one normalized reply entry. Fields holds every key of the source
// object other than "output" and is flattened back into the object when
// marshalled.
type Record struct {
	Output   string
	Elements []Element
	Metadata map[string]any
	Fields   map[string]any
}

// Text returns the displayable output.
func (r Record) Text() string {
	return r.Output
}

// MarshalJSON emits the record as a single flat object.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["output"] = r.Output
	return json.Marshal(out)
}

// Parse decodes a raw reply body and normalizes it. Numbers keep their
// literal form. Only undecodable input returns an error.
func Parse(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}
	return Normalize(v), nil
}

// Normalize never fails. A non-list value is wrapped in a list; the
// result always has at least one record, and every record has an output.
func Normalize(v any) []Record {
	if obj, ok := v.(map[string]any); ok && !hasOutput(obj) {
		rec := normalizeItem(0, obj)
		rec.Fields = nil
		return []Record{rec}
	}

	list, ok := v.([]any)
	if !ok {
		list = []any{v}
	}
	if len(list) == 0 {
		// An empty list still yields something displayable.
		return []Record{{Output: "[]"}}
	}

	records := make([]Record, 0, len(list))
	for i, item := range list {
		records = append(records, normalizeItem(i, item))
	}
	return records
}

func hasOutput(obj map[string]any) bool {
	out, ok := obj["output"]
	return ok && out != nil
}

func normalizeItem(index int, item any) Record {
	obj, ok := item.(map[string]any)
	if !ok {
		log.Debug(log.CatNormalize, "coercing non-object reply item", "index", index)
		return Record{Output: Stringify(item)}
	}

	rec := Record{Fields: make(map[string]any, len(obj))}
	for k, v := range obj {
		if k != "output" {
			rec.Fields[k] = v
		}
	}
	rec.Elements = elementsOf(obj)
	if meta, ok := obj["metadata"].(map[string]any); ok {
		rec.Metadata = meta
	}

	if hasOutput(obj) {
		rec.Output = Stringify(obj["output"])
		return rec
	}

	for _, key := range FallbackKeys {
		if v, ok := obj[key]; ok && v != nil {
			log.Warn(log.CatNormalize, "reply item missing output, using fallback key", "index", index, "key", key)
			rec.Output = Stringify(v)
			return rec
		}
	}

	log.Warn(log.CatNormalize, "reply item has no output-like key, dumping item", "index", index)
	rec.Output = Stringify(obj)
	return rec
}

// Stringify renders strings verbatim and anything else as compact JSON
// (object keys sorted). Values JSON cannot encode fall back to fmt.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func elementsOf(obj map[string]any) []Element {
	var out []Element

	switch images := obj["images"].(type) {
	case string:
		if images != "" {
			out = append(out, Element{Type: ElementImage, URL: images, Name: DefaultImageName})
		}
	case []any:
		for _, img := range images {
			if url, ok := img.(string); ok && url != "" {
				out = append(out, Element{Type: ElementImage, URL: url, Name: DefaultImageName})
			}
		}
	}

	if list, ok := obj["elements"].([]any); ok {
		for _, raw := range list {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			el := Element{}
			el.Type, _ = m["type"].(string)
			el.URL, _ = m["url"].(string)
			el.Name, _ = m["name"].(string)
			if el.Type == "" {
				el.Type = ElementImage
			}
			if el.URL == "" && el.Name == "" {
				continue
			}
			out = append(out, el)
		}
	}
	return out
}
