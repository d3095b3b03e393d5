package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/statusrelay/internal/log"
	"github.com/zjrosen/statusrelay/internal/tracing"
)

// Listener defaults.
const (
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 5679
	DefaultStopTimeout = 2 * time.Second
)

// DefaultFallbackPorts are tried in order when the primary port is taken.
var DefaultFallbackPorts = []int{5680, 5681, 5682, 5683}

var (
	// ErrPortUnavailable is returned when no candidate port could be bound.
	ErrPortUnavailable = errors.New("no listener port available")
	// ErrNotRunning is returned by operations that need a bound listener.
	ErrNotRunning = errors.New("listener not running")
)

// State is the listener lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Host          string
	Port          int
	FallbackPorts []int
	StopTimeout   time.Duration
	// Handler configures the served routes. Its Health field is set by the
	// listener.
	Handler HandlerConfig
}

// Listener supervises the ingest HTTP server. Start, Stop and Restart are
// serialized, so at most one server is bound at a time.
type Listener struct {
	cfg     ListenerConfig
	handler http.Handler
	tracer  trace.Tracer

	// opMu serializes lifecycle transitions.
	opMu sync.Mutex

	// mu guards the fields below. It is never held across blocking calls,
	// so /health stays answerable during shutdown.
	mu        sync.RWMutex
	state     State
	server    *http.Server
	serveDone chan struct{}
	host      string
	port      int
	startedAt time.Time
}

// NewListener creates a stopped listener.
func NewListener(cfg ListenerConfig) *Listener {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.FallbackPorts == nil {
		cfg.FallbackPorts = DefaultFallbackPorts
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	l := &Listener{
		cfg:    cfg,
		tracer: tracing.OrNoop(cfg.Handler.Tracer),
		host:   cfg.Host,
		port:   cfg.Port,
	}
	hcfg := cfg.Handler
	hcfg.Health = l.Health
	l.handler = NewHandler(hcfg).Routes()
	return l
}

// Start binds host:port, falling back through the configured ports, and
// serves in the background. A running listener is stopped first. It returns
// the bound port.
func (l *Listener) Start(ctx context.Context, host string, port int) (bound int, err error) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	ctx, span := l.tracer.Start(ctx, tracing.SpanListenerUp)
	defer func() {
		span.SetAttributes(attribute.Int(tracing.AttrListenerPort, bound))
		tracing.Finish(span, err)
	}()

	if l.State() != StateStopped {
		l.stopLocked(ctx)
	}
	if host == "" {
		host = l.cfg.Host
	}

	l.setState(StateStarting)

	var (
		ln   net.Listener
		errs []error
	)
	for _, p := range candidatePorts(port, l.cfg.FallbackPorts) {
		addr := net.JoinHostPort(host, strconv.Itoa(p))
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			break
		}
		log.Warn(log.CatIngest, "port unavailable, trying next", "addr", addr, "error", err)
		errs = append(errs, fmt.Errorf("port %d: %w", p, err))
	}
	if ln == nil {
		l.setState(StateStopped)
		return 0, fmt.Errorf("%w: %w", ErrPortUnavailable, errors.Join(errs...))
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		bound = tcpAddr.Port
	}

	srv := &http.Server{
		Handler:           l.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})

	l.mu.Lock()
	l.server = srv
	l.serveDone = done
	l.host = host
	l.port = bound
	l.startedAt = time.Now()
	l.state = StateRunning
	l.mu.Unlock()

	go l.serve(srv, ln, done)

	log.Info(log.CatIngest, "Status listener started", "addr", ln.Addr().String(), "fallback", bound != port && port != 0)
	return bound, nil
}

func (l *Listener) serve(srv *http.Server, ln net.Listener, done chan struct{}) {
	defer close(done)

	err := srv.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	log.ErrorErr(log.CatIngest, "status listener stopped unexpectedly", err)

	l.mu.Lock()
	if l.server == srv {
		l.state = StateStopped
		l.server = nil
	}
	l.mu.Unlock()
}

// Stop shuts the server down within the stop timeout, then force-closes.
// Stopping a stopped listener is a no-op.
func (l *Listener) Stop(ctx context.Context) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.stopLocked(ctx)
	return nil
}

func (l *Listener) stopLocked(ctx context.Context) {
	l.mu.Lock()
	srv, done := l.server, l.serveDone
	if srv == nil {
		l.state = StateStopped
		l.mu.Unlock()
		return
	}
	l.state = StateStopping
	l.mu.Unlock()

	if l.cfg.Handler.Stream != nil {
		l.cfg.Handler.Stream.CloseAll()
	}

	sctx, cancel := context.WithTimeout(ctx, l.cfg.StopTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		log.Warn(log.CatIngest, "graceful shutdown timed out, forcing close", "error", err)
		_ = srv.Close()
	}

	select {
	case <-done:
	case <-time.After(l.cfg.StopTimeout):
		log.Warn(log.CatIngest, "serve goroutine did not exit in time")
	}

	l.mu.Lock()
	l.server = nil
	l.serveDone = nil
	l.state = StateStopped
	l.mu.Unlock()

	log.Info(log.CatIngest, "Status listener stopped")
}

// Restart stops and starts again on the last host and requested port.
func (l *Listener) Restart(ctx context.Context) (int, error) {
	l.mu.RLock()
	host, port := l.host, l.cfg.Port
	l.mu.RUnlock()
	return l.Start(ctx, host, port)
}

// Reconfigure records a new primary address for later Restarts.
func (l *Listener) Reconfigure(host string, port int) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if host != "" {
		l.cfg.Host = host
	}
	l.cfg.Port = port
	l.host = l.cfg.Host
}

// State returns the lifecycle state.
func (l *Listener) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Running reports whether the server is bound and serving.
func (l *Listener) Running() bool {
	return l.State() == StateRunning
}

// Port returns the bound port, or 0 when not running.
func (l *Listener) Port() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != StateRunning {
		return 0
	}
	return l.port
}

// Addr returns host:port of the running server.
func (l *Listener) Addr() (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != StateRunning {
		return "", ErrNotRunning
	}
	return net.JoinHostPort(l.host, strconv.Itoa(l.port)), nil
}

// Health reports the live listener state.
func (l *Listener) Health() Health {
	l.mu.RLock()
	defer l.mu.RUnlock()

	h := Health{
		Status:        "healthy",
		ServerRunning: l.state == StateRunning,
		State:         l.state.String(),
	}
	if l.state == StateRunning {
		h.Port = l.port
		h.UptimeSeconds = time.Since(l.startedAt).Seconds()
	}
	if q := l.cfg.Handler.Queue; q != nil {
		h.QueueSize = q.Len()
	}
	return h
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// candidatePorts is port followed by the fallbacks, without duplicates.
// Port 0 asks the OS for any free port and skips the fallbacks.
func candidatePorts(port int, fallbacks []int) []int {
	if port == 0 {
		return []int{0}
	}
	out := []int{port}
	for _, p := range fallbacks {
		dup := false
		for _, seen := range out {
			if seen == p {
				dup = true
				break
			}
		}
		if !dup && p > 0 {
			out = append(out, p)
		}
	}
	return out
}
