package ingest

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/statusrelay/internal/event"
	"github.com/zjrosen/statusrelay/internal/log"
	"github.com/zjrosen/statusrelay/internal/pubsub"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 30 * time.Second
)

var localHosts = []string{"localhost", "127.0.0.1", "::1"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin accepts requests without an Origin and http(s) origins whose
// host is loopback.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") && slices.Contains(localHosts, u.Hostname()) {
		return true
	}
	log.Warn(log.CatIngest, "rejected stream client from disallowed origin", "origin", origin)
	return false
}

// StreamEvent is one message on GET /stream.
type StreamEvent struct {
	Type       string            `json:"type"`
	Timestamp  string            `json:"timestamp"`
	Event      event.StatusEvent `json:"event"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Stream mirrors accepted events to websocket clients. It only reads from
// the tap; the queue is never touched.
type Stream struct {
	tap pubsub.Subscriber[event.StatusEvent]

	mu      sync.Mutex
	clients map[*websocket.Conn]context.CancelFunc
}

// NewStream creates a stream fed by tap.
func NewStream(tap pubsub.Subscriber[event.StatusEvent]) *Stream {
	return &Stream{
		tap:     tap,
		clients: make(map[*websocket.Conn]context.CancelFunc),
	}
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// CloseAll disconnects every client.
func (s *Stream) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.clients {
		cancel()
	}
}

// ServeHTTP upgrades the request and streams until the client goes away or
// falls behind.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorErr(log.CatIngest, "stream upgrade failed", err)
		return
	}

	// The request context ends when the handler returns, so the client
	// lifetime gets its own.
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.clients[conn] = cancel
	s.mu.Unlock()

	events := s.tap.Subscribe(ctx)
	log.Debug(log.CatIngest, "stream client connected", "remote", r.RemoteAddr)

	go s.readPump(conn, cancel)
	go s.writePump(ctx, conn, events)
}

func (s *Stream) drop(conn *websocket.Conn) {
	s.mu.Lock()
	cancel, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()

	if ok {
		cancel()
		_ = conn.Close()
		log.Debug(log.CatIngest, "stream client disconnected")
	}
}

// readPump discards client frames and notices disconnects.
func (s *Stream) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards tap events. A write that cannot finish within
// streamWriteWait drops the client.
func (s *Stream) writePump(ctx context.Context, conn *websocket.Conn, events <-chan pubsub.Event[event.StatusEvent]) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		s.drop(conn)
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			msg := StreamEvent{
				Type:       string(ev.Type),
				Timestamp:  ev.Timestamp.UTC().Format(time.RFC3339),
				Event:      ev.Payload,
				ReceivedAt: ev.Payload.ReceivedAt,
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn(log.CatIngest, "dropping slow or closed stream client", "error", err)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
