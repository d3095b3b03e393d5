package tracing

// Span attribute keys.
const (
	AttrEventType     = "event.type"
	AttrEventID       = "event.id"
	AttrQueueSize     = "queue.size"
	AttrSessionID     = "session.id"
	AttrRenderKind    = "render.kind"
	AttrFallback      = "render.fallback"
	AttrHTTPMethod    = "http.request.method"
	AttrHTTPRoute     = "http.route"
	AttrHTTPStatus    = "http.response.status_code"
	AttrBackendURL    = "backend.url"
	AttrBackendModel  = "backend.model"
	AttrReplyRecords  = "reply.records"
	AttrErrorMessage  = "error.message"
	AttrListenerPort  = "listener.port"
	AttrListenerState = "listener.state"
)

// Span names.
const (
	SpanIngestPrefix = "ingest "
	SpanDispatch     = "render.dispatch"
	SpanBackendSend  = "backend.send"
	SpanBackendPing  = "backend.ping"
	SpanListenerUp   = "listener.start"
)

// Span event names.
const (
	EventQueued         = "event.queued"
	EventDuplicate      = "event.duplicate"
	EventFallbackSent   = "render.fallback_sent"
	EventTaskListClosed = "tasklist.closed"
)
