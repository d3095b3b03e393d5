package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/statusrelay/internal/event"
	"github.com/zjrosen/statusrelay/internal/pubsub"
	"github.com/zjrosen/statusrelay/internal/queue"
)

func newStreamServer(t *testing.T) (*httptest.Server, *pubsub.Broker[event.StatusEvent], *Stream, *queue.EventQueue) {
	t.Helper()
	tap := pubsub.NewBroker[event.StatusEvent]()
	stream := NewStream(tap)
	q := queue.New(10)
	srv := httptest.NewServer(NewHandler(HandlerConfig{Queue: q, Tap: tap, Stream: stream}).Routes())
	t.Cleanup(func() {
		stream.CloseAll()
		srv.Close()
		tap.Close()
	})
	return srv, tap, stream, q
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestStream_MirrorsAcceptedEvents(t *testing.T) {
	srv, tap, stream, q := newStreamServer(t)
	conn := dialStream(t, srv)
	require.Eventually(t, func() bool { return tap.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, stream.Clients())

	resp, err := http.Post(srv.URL+"/status", "application/json", strings.NewReader(`{"type":"warning","content":"disk low"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg StreamEvent
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(pubsub.CreatedEvent), msg.Type)
	assert.Equal(t, "disk low", msg.Event.Content)
	assert.NotEmpty(t, msg.Timestamp)

	assert.Equal(t, 1, q.Len(), "streaming never consumes the queue")
}

func TestStream_CloseAllDisconnects(t *testing.T) {
	srv, tap, stream, _ := newStreamServer(t)
	conn := dialStream(t, srv)
	require.Eventually(t, func() bool { return tap.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	stream.CloseAll()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	require.Eventually(t, func() bool { return stream.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStream_RejectsForeignOrigin(t *testing.T) {
	srv, _, _, _ := newStreamServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	for _, origin := range []string{"http://evil.example", "http://localhost.attacker.example"} {
		header := http.Header{"Origin": []string{origin}}
		_, resp, err := websocket.DefaultDialer.Dial(url, header)
		require.Error(t, err, origin)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, origin)
	}
}

func TestLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost", true},
		{"http://localhost:3000", true},
		{"https://127.0.0.1:8443", true},
		{"http://[::1]:5679", true},
		{"http://localhost.attacker.example", false},
		{"http://127.0.0.1.nip.io", false},
		{"https://evil.example", false},
		{"file://localhost", false},
		{"null", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/stream", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, localOrigin(req), tt.origin)
	}
}
