package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/statusrelay/internal/config"
	"github.com/zjrosen/statusrelay/internal/event"
	"github.com/zjrosen/statusrelay/internal/infrastructure/sqlite"
	"github.com/zjrosen/statusrelay/internal/ingest"
	"github.com/zjrosen/statusrelay/internal/pubsub"
	"github.com/zjrosen/statusrelay/internal/queue"
	"github.com/zjrosen/statusrelay/internal/relay"
	"github.com/zjrosen/statusrelay/internal/render"
	"github.com/zjrosen/statusrelay/internal/transcript"
)

// syncBuffer is a bytes.Buffer safe for a writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Listener.Host = "127.0.0.1"
	cfg.Listener.Port = 0
	cfg.Listener.StopTimeout = 500 * time.Millisecond
	cfg.Consumer.PollInterval = 5 * time.Millisecond
	cfg.Tracing.Enabled = false
	cfg.UI.NoColor = true
	return cfg
}

func ingestServer(t *testing.T) (*httptest.Server, *queue.EventQueue) {
	t.Helper()
	q := queue.New(10)
	tap := pubsub.NewBroker[event.StatusEvent]()
	stream := ingest.NewStream(tap)
	srv := httptest.NewServer(ingest.NewHandler(ingest.HandlerConfig{Queue: q, Tap: tap, Stream: stream}).Routes())
	t.Cleanup(func() {
		stream.CloseAll()
		srv.Close()
		tap.Close()
	})
	return srv, q
}

func TestListenerURL(t *testing.T) {
	cfg := config.Defaults()
	require.Equal(t, "http://127.0.0.1:5679", listenerURL(cfg, ""))

	cfg.Listener.Host = "example.internal"
	cfg.Listener.Port = 7000
	require.Equal(t, "http://example.internal:7000", listenerURL(cfg, ""))

	cfg.Listener.Host = "::"
	require.Equal(t, "http://127.0.0.1:7000", listenerURL(cfg, ""))

	require.Equal(t, "http://other:1", listenerURL(cfg, "http://other:1"))
}

func TestSend(t *testing.T) {
	srv, q := ingestServer(t)
	var out bytes.Buffer

	pct := 10
	require.NoError(t, send(t.Context(), &out, srv.URL, event.StatusEvent{TypeName: "progress", Content: "starting", Progress: &pct}))
	require.Equal(t, "Status update received (queue size 1)\n", out.String())

	ev, ok := q.PopFront()
	require.True(t, ok)
	require.Equal(t, "starting", ev.Content)
}

func TestHealth(t *testing.T) {
	srv, _ := ingestServer(t)

	t.Run("listener only", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, health(t.Context(), &out, srv.URL, nil))
		require.Contains(t, out.String(), "listener  ✓")
		require.NotContains(t, out.String(), "backend")
	})

	t.Run("backend down", func(t *testing.T) {
		var out bytes.Buffer
		err := health(t.Context(), &out, srv.URL, stubPinger{err: errors.New("connection refused")})
		require.ErrorIs(t, err, errUnhealthy)
		require.Contains(t, out.String(), "backend   ✗ connection refused")
	})

	t.Run("listener unreachable", func(t *testing.T) {
		var out bytes.Buffer
		err := health(t.Context(), &out, "http://127.0.0.1:1", stubPinger{ok: true})
		require.ErrorIs(t, err, errUnhealthy)
		require.Contains(t, out.String(), "listener  ✗")
		require.Contains(t, out.String(), "backend   ✓ reachable")
	})
}

type stubPinger struct {
	ok  bool
	err error
}

func (s stubPinger) Ping(context.Context) (bool, error) { return s.ok, s.err }

func TestTail(t *testing.T) {
	srv, _ := ingestServer(t)
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- tail(ctx, out, srv.URL, false) }()

	// Keep posting until the tail client is connected and prints one.
	require.Eventually(t, func() bool {
		_ = send(t.Context(), &bytes.Buffer{}, srv.URL, event.StatusEvent{TypeName: "success", Title: "Build", Content: "green"})
		return strings.Contains(out.String(), "green")
	}, 2*time.Second, 20*time.Millisecond)
	require.Contains(t, out.String(), "success")
	require.Contains(t, out.String(), "Build")

	cancel()
	require.NoError(t, <-done)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	var out bytes.Buffer

	require.NoError(t, configInit(&out, path, false))
	require.FileExists(t, path)
	require.Error(t, configInit(&out, path, false), "existing files are kept")
	require.NoError(t, configInit(&out, path, true))

	out.Reset()
	require.NoError(t, configShow(&out, config.Defaults()))
	require.Contains(t, out.String(), "listener:")
	require.Contains(t, out.String(), "port: 5679")
}

func TestReadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.WriteDefaultConfig(path))
	require.NoError(t, config.Set(path, "listener.port", "6123"))

	cfg, err := readConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, 6123, cfg.Listener.Port)

	require.NoError(t, os.WriteFile(path, []byte("listener: [unclosed"), 0o600))
	_, err = readConfigFile(path)
	require.Error(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestReloadOnChange_MovesListener(t *testing.T) {
	from, to := freePort(t), freePort(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.WriteDefaultConfig(path))
	require.NoError(t, config.Set(path, "listener.host", "127.0.0.1"))
	require.NoError(t, config.Set(path, "listener.port", strconv.Itoa(from)))

	cfg := testConfig()
	cfg.Listener.Port = from
	r := relay.New(cfg)
	defer func() { _ = r.Close(context.Background()) }()
	port, err := r.StartListener(t.Context())
	require.NoError(t, err)
	require.Equal(t, from, port)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	changes := make(chan struct{}, 1)
	go reloadOnChange(ctx, r, path, changes)

	require.NoError(t, config.Set(path, "listener.port", strconv.Itoa(to)))
	changes <- struct{}{}

	require.Eventually(t, func() bool { return r.Listener().Port() == to }, 2*time.Second, 10*time.Millisecond)
}

func TestServe_PrintsAcceptedEvents(t *testing.T) {
	out := &syncBuffer{}
	ready := make(chan int, 1)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, out, testConfig(), serveOptions{JSON: true, Ready: ready})
	}()

	var port int
	select {
	case port = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not start")
	}

	base := "http://127.0.0.1:" + strconv.Itoa(port)
	require.NoError(t, send(t.Context(), &bytes.Buffer{}, base, event.StatusEvent{TypeName: "warning", Title: "Disk", Content: "90% full"}))

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "90% full") }, 2*time.Second, 10*time.Millisecond)

	var line render.JSONLine
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(out.String(), "\n", 2)[0]), &line))
	require.Equal(t, render.KindStatus, line.Message.Kind)
	require.Equal(t, render.SeverityWarning, line.Message.Severity)

	cancel()
	require.NoError(t, <-done)
}

func TestHistory(t *testing.T) {
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var out bytes.Buffer
	require.NoError(t, listSessions(&out, db.Transcripts()))
	require.Equal(t, "no stored sessions\n", out.String())

	tr := transcript.New("chat-1", transcript.WithStore(db.Transcripts()))
	tr.AppendUser("what's the weather")
	_, err = tr.Send(t.Context(), render.Message{Kind: render.KindStatus, Title: "Weather", Content: "Fetching forecast"})
	require.NoError(t, err)
	tr.Close()

	out.Reset()
	require.NoError(t, listSessions(&out, db.Transcripts()))
	require.Contains(t, out.String(), "SESSION")
	require.Contains(t, out.String(), "chat-1")

	out.Reset()
	require.NoError(t, printTranscript(t.Context(), &out, testConfig(), db.Transcripts(), "chat-1"))
	require.Contains(t, out.String(), "what's the weather")
	require.Contains(t, out.String(), "Fetching forecast")

	require.Error(t, printTranscript(t.Context(), &out, testConfig(), db.Transcripts(), "missing"))
}
