package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })
	return sr, tp.Tracer("test")
}

func attr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_NilTracerPassesThrough(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	h := Middleware(nil, next)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	require.True(t, called)
}

func TestMiddleware_RecordsServerSpan(t *testing.T) {
	sr, tracer := newRecorder(t)

	var sawTraceID string
	h := Middleware(tracer, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawTraceID = TraceID(r)
		w.WriteHeader(http.StatusBadRequest)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/status", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, "ingest POST /status", span.Name())
	require.Equal(t, trace.SpanKindServer, span.SpanKind())
	require.Equal(t, codes.Ok, span.Status().Code, "4xx is a client problem")
	require.Equal(t, span.SpanContext().TraceID().String(), sawTraceID)

	status, ok := attr(span, AttrHTTPStatus)
	require.True(t, ok)
	require.EqualValues(t, http.StatusBadRequest, status.AsInt64())
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	sr, tracer := newRecorder(t)
	h := Middleware(tracer, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/status", nil))

	require.Equal(t, codes.Error, sr.Ended()[0].Status().Code)
}

func TestTraceID_NoSpan(t *testing.T) {
	require.Empty(t, TraceID(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestFinish(t *testing.T) {
	sr, tracer := newRecorder(t)

	_, ok := tracer.Start(t.Context(), "ok")
	Finish(ok, nil)
	_, bad := tracer.Start(t.Context(), "bad")
	Finish(bad, errors.New("boom"))

	spans := sr.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, codes.Ok, spans[0].Status().Code)
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Equal(t, "boom", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1, "error recorded as an event")
}
