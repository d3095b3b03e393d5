// Package ingest accepts status events over HTTP and queues them for the
// session consumers.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/statusrelay/internal/cachemanager"
	"github.com/zjrosen/statusrelay/internal/event"
	"github.com/zjrosen/statusrelay/internal/log"
	"github.com/zjrosen/statusrelay/internal/pubsub"
	"github.com/zjrosen/statusrelay/internal/queue"
	"github.com/zjrosen/statusrelay/internal/tracing"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidPayload = "invalid_payload"
	CodeMissingField   = "missing_field"
	CodeInternalError  = "internal_error"
	CodeQueueFull      = "queue_full"
)

// DefaultMaxBodyBytes caps POST /status bodies.
const DefaultMaxBodyBytes = 1 << 20

// DefaultDedupeTTL is how long an event id is remembered.
const DefaultDedupeTTL = 5 * time.Minute

// EventQueue is the subset of queue.EventQueue the handler needs.
type EventQueue interface {
	Push(ev event.StatusEvent) error
	Len() int
}

// HealthFunc reports listener health.
type HealthFunc func() Health

// Health is the GET /health body.
type Health struct {
	Status        string  `json:"status"`
	ServerRunning bool    `json:"server_running"`
	QueueSize     int     `json:"queue_size"`
	State         string  `json:"state"`
	Port          int     `json:"port"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// StatusResponse is the POST /status success body.
type StatusResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	QueueSize int    `json:"queue_size"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// Queue receives accepted events (required).
	Queue EventQueue
	// Health reports listener state. If nil, health reflects the queue only.
	Health HealthFunc
	// Tap receives a copy of every accepted event (optional).
	Tap pubsub.Publisher[event.StatusEvent]
	// Stream serves GET /stream (optional).
	Stream *Stream
	// Dedupe remembers event ids (optional).
	Dedupe cachemanager.CacheManager[string, time.Time]
	// DedupeTTL defaults to DefaultDedupeTTL.
	DedupeTTL time.Duration
	// MaxBodyBytes defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// CORSOrigins lists allowed origins; empty allows any.
	CORSOrigins []string
	// Tracer opens a server span per request (optional).
	Tracer trace.Tracer
}

// Handler serves the ingest routes.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = DefaultDedupeTTL
	}
	return &Handler{cfg: cfg}
}

// Routes returns the routed handler with CORS and tracing applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /status", h.PostStatus)
	mux.HandleFunc("GET /health", h.Health)
	if h.cfg.Stream != nil {
		mux.HandleFunc("GET /stream", h.cfg.Stream.ServeHTTP)
	}

	return tracing.Middleware(h.cfg.Tracer, CORS(h.cfg.CORSOrigins, mux))
}

// PostStatus handles POST /status.
func (h *Handler) PostStatus(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error(log.CatIngest, "panic while handling status update", "panic", fmt.Sprint(rec))
			h.writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal server error", "")
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusBadRequest, CodeInvalidPayload, "Request body too large", err.Error())
			return
		}
		log.ErrorErr(log.CatIngest, "failed to read request body", err)
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to read request body", err.Error())
		return
	}

	ev, err := event.Decode(body)
	switch {
	case errors.Is(err, event.ErrMissingField):
		h.writeError(w, http.StatusBadRequest, CodeMissingField, "Missing required field: content", "")
		return
	case errors.Is(err, event.ErrInvalidPayload):
		h.writeError(w, http.StatusBadRequest, CodeInvalidPayload, "Invalid JSON payload", err.Error())
		return
	case err != nil:
		log.ErrorErr(log.CatIngest, "unexpected decode failure", err)
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal server error", err.Error())
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String(tracing.AttrEventType, ev.TypeName))

	if ev.ID != "" && h.cfg.Dedupe != nil {
		span.SetAttributes(attribute.String(tracing.AttrEventID, ev.ID))
		if !h.cfg.Dedupe.Add(r.Context(), ev.ID, ev.ReceivedAt, h.cfg.DedupeTTL) {
			log.Info(log.CatIngest, "duplicate status update ignored", "id", ev.ID)
			span.AddEvent(tracing.EventDuplicate)
			h.writeJSON(w, http.StatusOK, StatusResponse{
				Status:    "success",
				Message:   "Duplicate status update ignored",
				QueueSize: h.cfg.Queue.Len(),
				Duplicate: true,
			})
			return
		}
	}

	if err := h.cfg.Queue.Push(ev); err != nil {
		if ev.ID != "" && h.cfg.Dedupe != nil {
			// Let the producer retry with the same id.
			h.cfg.Dedupe.Delete(r.Context(), ev.ID)
		}
		if errors.Is(err, queue.ErrQueueFull) {
			log.Warn(log.CatIngest, "queue full, rejecting status update", "type", ev.TypeName)
			h.writeError(w, http.StatusServiceUnavailable, CodeQueueFull, "Event queue is full", "")
			return
		}
		log.ErrorErr(log.CatIngest, "failed to queue status update", err)
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal server error", err.Error())
		return
	}

	size := h.cfg.Queue.Len()
	span.SetAttributes(attribute.Int(tracing.AttrQueueSize, size))
	span.AddEvent(tracing.EventQueued)
	log.Info(log.CatIngest, "Received status update", "type", ev.TypeName, "title", ev.Title, "queue_size", size)

	if h.cfg.Tap != nil {
		h.cfg.Tap.Publish(pubsub.CreatedEvent, ev)
	}

	h.writeJSON(w, http.StatusOK, StatusResponse{
		Status:    "success",
		Message:   "Status update received",
		QueueSize: size,
	})
}

// Health handles GET /health. Values are computed per request.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	var resp Health
	if h.cfg.Health != nil {
		resp = h.cfg.Health()
	} else {
		resp = Health{ServerRunning: true, State: StateRunning.String()}
	}
	resp.Status = "healthy"
	resp.QueueSize = h.cfg.Queue.Len()
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatIngest, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// compile-time check that the queue satisfies EventQueue.
var _ EventQueue = (*queue.EventQueue)(nil)
