package ingest

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/statusrelay/internal/event"
	"github.com/zjrosen/statusrelay/internal/pubsub"
	"github.com/zjrosen/statusrelay/internal/queue"
)

func newTestServer(t *testing.T) (*httptest.Server, *queue.EventQueue, *Stream) {
	t.Helper()
	q := queue.New(10)
	tap := pubsub.NewBroker[event.StatusEvent]()
	stream := NewStream(tap)
	srv := httptest.NewServer(NewHandler(HandlerConfig{Queue: q, Tap: tap, Stream: stream}).Routes())
	t.Cleanup(func() {
		stream.CloseAll()
		srv.Close()
		tap.Close()
	})
	return srv, q, stream
}

func TestClient_PostAndHealth(t *testing.T) {
	srv, q, _ := newTestServer(t)
	c := NewClient(srv.URL+"/", time.Second)

	pct := 50
	res, err := c.Post(t.Context(), event.StatusEvent{TypeName: "progress", Title: "Sync", Content: "halfway", Progress: &pct})
	require.NoError(t, err)
	require.Equal(t, "success", res.Status)
	require.Equal(t, 1, res.QueueSize)

	ev, ok := q.PopFront()
	require.True(t, ok)
	require.Equal(t, event.TypeProgress, ev.Type)
	require.Equal(t, 50, *ev.Progress)

	h, err := c.Health(t.Context())
	require.NoError(t, err)
	require.Equal(t, "healthy", h.Status)
	require.True(t, h.ServerRunning)
}

func TestClient_PostRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	c := NewClient(srv.URL, time.Second)

	// Fill the queue so the next post is rejected.
	for i := 0; i < 10; i++ {
		_, err := c.Post(t.Context(), event.StatusEvent{Content: "x"})
		require.NoError(t, err)
	}
	_, err := c.Post(t.Context(), event.StatusEvent{Content: "overflow"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 503, apiErr.StatusCode)
	require.Equal(t, CodeQueueFull, apiErr.Response.Code)
	require.Contains(t, apiErr.Error(), "queue_full")
}

func TestClient_Tail(t *testing.T) {
	srv, _, stream := newTestServer(t)
	c := NewClient(srv.URL, time.Second)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	got := make(chan StreamEvent, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Tail(ctx, func(se StreamEvent) { got <- se })
	}()

	require.Eventually(t, func() bool { return stream.Clients() == 1 }, time.Second, 5*time.Millisecond)
	_, err := c.Post(t.Context(), event.StatusEvent{TypeName: "info", Content: "mirrored"})
	require.NoError(t, err)

	select {
	case se := <-got:
		require.Equal(t, "mirrored", se.Event.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no stream event")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Tail did not return after cancel")
	}
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.Health(context.Background())
	require.Error(t, err)
}
