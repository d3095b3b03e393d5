package backend

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/statusrelay/internal/normalize"
	"github.com/zjrosen/statusrelay/internal/tracing"
)

func newWebhook(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_SendPostsPayload(t *testing.T) {
	var got map[string]any
	srv := newWebhook(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`[{"output":"Hi there"}]`))
	})

	c := New(Config{WebhookURL: srv.URL, Temperature: DefaultTemperature})
	records, err := c.Send(t.Context(), Request{ChatInput: "hello", SessionID: "s-1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Hi there", records[0].Text())

	assert.Equal(t, "hello", got["chatInput"])
	assert.Equal(t, "s-1", got["sessionID"])
	assert.Equal(t, DefaultProvider, got["provider"])
	assert.Equal(t, DefaultModel, got["model"])
	assert.InDelta(t, 0.7, got["temperature"], 1e-9)
	assert.EqualValues(t, 2048, got["max_tokens"])
}

func TestClient_SendKeepsRequestOverrides(t *testing.T) {
	var got Request
	srv := newWebhook(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	})

	c := New(Config{WebhookURL: srv.URL})
	records, err := c.Send(t.Context(), Request{ChatInput: "x", Provider: "anthropic", Model: "claude-3-haiku", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "ok", records[0].Text())
	assert.Equal(t, "anthropic", got.Provider)
	assert.Equal(t, "claude-3-haiku", got.Model)
	assert.Equal(t, 10, got.MaxTokens)
}

func TestClient_SendNormalizesReplies(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{"list", `[{"output":"a"},{"output":"b"}]`, []string{"a", "b"}},
		{"object with output", `{"output":"one"}`, []string{"one"}},
		{"content fallback", `{"content":"from content"}`, []string{"from content"}},
		{"bare string", `"just text"`, []string{"just text"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newWebhook(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.reply))
			})
			records, err := New(Config{WebhookURL: srv.URL}).Send(t.Context(), Request{ChatInput: "q"})
			require.NoError(t, err)
			texts := make([]string, len(records))
			for i, r := range records {
				texts[i] = r.Text()
			}
			assert.Equal(t, tt.want, texts)
		})
	}
}

func TestClient_SendErrors(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		srv := newWebhook(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "workflow not active", http.StatusNotFound)
		})
		_, err := New(Config{WebhookURL: srv.URL}).Send(t.Context(), Request{ChatInput: "q"})
		var serr *StatusError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, http.StatusNotFound, serr.StatusCode)
		assert.Contains(t, serr.Error(), "workflow not active")
	})

	t.Run("invalid json", func(t *testing.T) {
		srv := newWebhook(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>oops</html>`))
		})
		_, err := New(Config{WebhookURL: srv.URL}).Send(t.Context(), Request{ChatInput: "q"})
		require.ErrorIs(t, err, normalize.ErrInvalidJSON)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := newWebhook(t, func(w http.ResponseWriter, _ *http.Request) {
			<-release
		})
		defer close(release)

		_, err := New(Config{WebhookURL: srv.URL, Timeout: 20 * time.Millisecond}).Send(t.Context(), Request{ChatInput: "q"})
		require.Error(t, err)
		var serr *StatusError
		assert.False(t, errors.As(err, &serr))
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := New(Config{WebhookURL: url}).Send(t.Context(), Request{ChatInput: "q"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "communicating with webhook")
	})
}

func TestClient_Ping(t *testing.T) {
	for _, tt := range []struct {
		status int
		want   bool
	}{
		{http.StatusOK, true},
		{http.StatusNoContent, true},
		{http.StatusFound, true},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, false},
	} {
		srv := newWebhook(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodHead, r.Method)
			if tt.status == http.StatusFound {
				w.Header().Set("Location", "/elsewhere")
			}
			w.WriteHeader(tt.status)
		})
		ok, err := New(Config{WebhookURL: srv.URL}).Ping(t.Context())
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "status %d", tt.status)
	}
}

func TestClient_PingUsesHalfTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := newWebhook(t, func(http.ResponseWriter, *http.Request) { <-release })
	defer close(release)

	start := time.Now()
	ok, err := New(Config{WebhookURL: srv.URL, Timeout: 100 * time.Millisecond}).Ping(t.Context())
	require.Error(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestClient_SendRecordsClientSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(t.Context())

	srv := newWebhook(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"output":"a"},{"output":"b"}]`))
	})
	_, err := New(Config{WebhookURL: srv.URL, Model: "gpt-4"}, WithTracer(tp.Tracer("test"))).
		Send(t.Context(), Request{ChatInput: "q", SessionID: "s-9"})
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, tracing.SpanBackendSend, span.Name())
	assert.Equal(t, trace.SpanKindClient, span.SpanKind())

	attrs := map[string]any{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "gpt-4", attrs[tracing.AttrBackendModel])
	assert.Equal(t, "s-9", attrs[tracing.AttrSessionID])
	assert.EqualValues(t, 2, attrs[tracing.AttrReplyRecords])
	assert.EqualValues(t, 200, attrs[tracing.AttrHTTPStatus])
}
