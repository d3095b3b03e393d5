package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func readRecords(t *testing.T, path string) []SpanRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []SpanRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec SpanRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), "each line is one JSON span")
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestFileExporter_WritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "traces.jsonl")
	exp, err := NewFileExporter(path)
	require.NoError(t, err)

	start := time.Now()
	stub := tracetest.SpanStub{
		Name:      "ingest POST /status",
		SpanKind:  trace.SpanKindServer,
		StartTime: start,
		EndTime:   start.Add(40 * time.Millisecond),
		Status:    sdktrace.Status{Code: codes.Error, Description: "queue full"},
		Attributes: []attribute.KeyValue{
			attribute.String(AttrEventType, "progress"),
			attribute.Int(AttrQueueSize, 3),
		},
		Events: []sdktrace.Event{{
			Name:       EventQueued,
			Time:       start,
			Attributes: []attribute.KeyValue{attribute.String(AttrEventID, "e-1")},
		}},
	}

	require.NoError(t, exp.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()}))
	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.Shutdown(context.Background()), "second shutdown is a no-op")

	records := readRecords(t, path)
	require.Len(t, records, 1)
	rec := records[0]
	require.Equal(t, "ingest POST /status", rec.Name)
	require.Equal(t, "SERVER", rec.Kind)
	require.Equal(t, "ERROR", rec.Status)
	require.Equal(t, "queue full", rec.StatusMsg)
	require.InDelta(t, 40.0, rec.DurationMs, 0.001)
	require.Equal(t, "progress", rec.Attributes[AttrEventType])
	require.EqualValues(t, 3, rec.Attributes[AttrQueueSize])
	require.Len(t, rec.Events, 1)
	require.Equal(t, "e-1", rec.Events[0].Attributes[AttrEventID])
}

func TestFileExporter_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	for i := 0; i < 2; i++ {
		exp, err := NewFileExporter(path)
		require.NoError(t, err)
		stub := tracetest.SpanStub{Name: "span", StartTime: time.Now(), EndTime: time.Now()}
		require.NoError(t, exp.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()}))
		require.NoError(t, exp.Shutdown(context.Background()))
	}
	require.Len(t, readRecords(t, path), 2)
}

func TestFileExporter_ConcurrentExports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	exp, err := NewFileExporter(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				stub := tracetest.SpanStub{Name: "span", StartTime: time.Now(), EndTime: time.Now()}
				_ = exp.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, exp.Shutdown(context.Background()))
	require.Len(t, readRecords(t, path), 80)
}

func TestFileExporter_ExportAfterShutdown(t *testing.T) {
	exp, err := NewFileExporter(filepath.Join(t.TempDir(), "traces.jsonl"))
	require.NoError(t, err)
	require.NoError(t, exp.ExportSpans(context.Background(), nil), "empty batch is fine")
	require.NoError(t, exp.Shutdown(context.Background()))

	stub := tracetest.SpanStub{Name: "late"}
	require.Error(t, exp.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()}))
}

func TestKindName(t *testing.T) {
	require.Equal(t, "INTERNAL", KindName(trace.SpanKindInternal))
	require.Equal(t, "CLIENT", KindName(trace.SpanKindClient))
	require.Equal(t, "UNSPECIFIED", KindName(trace.SpanKindUnspecified))
}
