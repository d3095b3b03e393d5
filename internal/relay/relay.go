// Package relay wires the shared queue, the ingest listener and the session
// consumers into one running status relay.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/statusrelay/internal/cachemanager"
	"github.com/zjrosen/statusrelay/internal/config"
	"github.com/zjrosen/statusrelay/internal/event"
	"github.com/zjrosen/statusrelay/internal/ingest"
	"github.com/zjrosen/statusrelay/internal/log"
	"github.com/zjrosen/statusrelay/internal/pubsub"
	"github.com/zjrosen/statusrelay/internal/queue"
	"github.com/zjrosen/statusrelay/internal/render"
	"github.com/zjrosen/statusrelay/internal/session"
)

// ErrClosed is returned by operations on a closed relay.
var ErrClosed = errors.New("relay closed")

// Option configures a Relay.
type Option func(*Relay)

// WithTracer records listener, request and render spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Relay) { r.tracer = t }
}

// Relay owns one event queue and everything that feeds or drains it.
type Relay struct {
	cfg    config.Config
	tracer trace.Tracer

	queue    *queue.EventQueue
	tap      *pubsub.Broker[event.StatusEvent]
	stream   *ingest.Stream
	listener *ingest.Listener
	sessions *session.Manager

	// lifeMu serializes listener starts and restarts with Close, so nothing
	// binds after Close has stopped the listener.
	lifeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// New builds a relay from cfg. Nothing is bound or started until
// StartListener and OpenSession are called.
func New(cfg config.Config, opts ...Option) *Relay {
	r := &Relay{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}

	r.queue = queue.New(cfg.Queue.MaxSize)
	r.tap = pubsub.NewBroker[event.StatusEvent]()
	r.stream = ingest.NewStream(r.tap)

	hcfg := ingest.HandlerConfig{
		Queue:        r.queue,
		Tap:          r.tap,
		Stream:       r.stream,
		MaxBodyBytes: cfg.Listener.MaxBodyBytes,
		CORSOrigins:  cfg.Listener.CORSOrigins,
		Tracer:       r.tracer,
	}
	if cfg.Listener.DedupeTTL > 0 {
		hcfg.Dedupe = cachemanager.NewInMemoryCacheManager[string, time.Time]("dedupe", cfg.Listener.DedupeTTL, cfg.Listener.DedupeTTL)
		hcfg.DedupeTTL = cfg.Listener.DedupeTTL
	}

	r.listener = ingest.NewListener(ingest.ListenerConfig{
		Host:          cfg.Listener.Host,
		Port:          cfg.Listener.Port,
		FallbackPorts: cfg.Listener.FallbackPorts,
		StopTimeout:   cfg.Listener.StopTimeout,
		Handler:       hcfg,
	})

	r.sessions = session.NewManager(r.queue, session.Config{
		PollInterval:    cfg.Consumer.PollInterval,
		ToastDurationMS: int(cfg.UI.ToastDuration.Milliseconds()),
		Tracer:          r.tracer,
	})
	return r
}

// StartListener binds the configured address, or the first free fallback,
// and returns the bound port.
func (r *Relay) StartListener(ctx context.Context) (int, error) {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	if r.isClosed() {
		return 0, ErrClosed
	}
	host, port := r.listenerAddr()
	return r.listener.Start(ctx, host, port)
}

// StopListener stops the listener. Queued events stay queued.
func (r *Relay) StopListener(ctx context.Context) error {
	return r.listener.Stop(ctx)
}

// EnsureListener starts the listener unless it is already running.
func (r *Relay) EnsureListener(ctx context.Context) (int, error) {
	if r.listener.Running() {
		return r.listener.Port(), nil
	}
	log.Warn(log.CatIngest, "status listener not running, starting it", "state", r.listener.State().String())
	return r.StartListener(ctx)
}

// Reconfigure moves the listener to a new address, restarting it when it is
// running.
func (r *Relay) Reconfigure(ctx context.Context, lc config.ListenerConfig) (int, error) {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	if r.isClosed() {
		return 0, ErrClosed
	}
	r.mu.Lock()
	changed := lc.Host != r.cfg.Listener.Host || lc.Port != r.cfg.Listener.Port
	r.cfg.Listener.Host, r.cfg.Listener.Port = lc.Host, lc.Port
	r.mu.Unlock()

	if !changed {
		return r.listener.Port(), nil
	}
	r.listener.Reconfigure(lc.Host, lc.Port)
	if !r.listener.Running() {
		return 0, nil
	}
	log.Info(log.CatConfig, "listener address changed, restarting", "addr", lc.Addr())
	return r.listener.Restart(ctx)
}

// Supervise restarts the listener whenever it is found stopped, checking
// every interval until ctx is done.
func (r *Relay) Supervise(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.isClosed() {
				return
			}
			if _, err := r.EnsureListener(ctx); err != nil {
				log.ErrorErr(log.CatIngest, "failed to restore status listener", err)
			}
		}
	}
}

// OpenSession starts a consumer rendering to sink.
func (r *Relay) OpenSession(ctx context.Context, sink render.Sink) (*session.Session, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	return r.sessions.Open(ctx, sink)
}

// CloseSession stops one session's consumer.
func (r *Relay) CloseSession(id string) error {
	return r.sessions.Close(id)
}

// Health reports listener and queue state.
func (r *Relay) Health() ingest.Health {
	return r.listener.Health()
}

// Listener returns the ingest listener.
func (r *Relay) Listener() *ingest.Listener { return r.listener }

// Queue returns the shared event queue.
func (r *Relay) Queue() *queue.EventQueue { return r.queue }

// Sessions returns the session manager.
func (r *Relay) Sessions() *session.Manager { return r.sessions }

// Tap streams every accepted event.
func (r *Relay) Tap() pubsub.Subscriber[event.StatusEvent] { return r.tap }

// Close stops the listener, then every session. It is safe to call twice.
func (r *Relay) Close(ctx context.Context) error {
	r.lifeMu.Lock()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.lifeMu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	err := r.listener.Stop(ctx)
	r.lifeMu.Unlock()

	r.sessions.CloseAll()
	r.tap.Close()

	log.Info(log.CatSession, "relay closed", "dropped_events", r.queue.Len())
	return err
}

// listenerAddr returns the current primary listener address.
func (r *Relay) listenerAddr() (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Listener.Host, r.cfg.Listener.Port
}

func (r *Relay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
