package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/statusrelay/internal/event"
	"github.com/zjrosen/statusrelay/internal/log"
	"github.com/zjrosen/statusrelay/internal/tracing"
)

// DefaultTitle is used for status cards without a title.
const DefaultTitle = "Status Update"

// DefaultToastDurationMS applies to toasts without a duration.
const DefaultToastDurationMS = 3000

// ErrRenderFailed matches every *RenderError.
var ErrRenderFailed = errors.New("render failed")

// RenderError reports a handler failure for one event type.
type RenderError struct {
	Type string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Type, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Is reports ErrRenderFailed as a match.
func (e *RenderError) Is(target error) bool { return target == ErrRenderFailed }

// DefaultIcons maps event types to the icon used when an event has none.
var DefaultIcons = map[event.Type]string{
	event.TypeEmail:             "mail",
	event.TypeCalendar:          "calendar",
	event.TypeWebSearch:         "search",
	event.TypeFileSystem:        "folder",
	event.TypeDatabase:          "database",
	event.TypeAPI:               "code",
	event.TypeProgress:          "loader",
	event.TypeSuccess:           "check-circle",
	event.TypeWarning:           "alert-triangle",
	event.TypeError:             "alert-circle",
	event.TypeInfo:              "info",
	event.TypeImportantAlert:    "alert-circle",
	event.TypeNotificationAlert: "bell",
	event.TypeSystemAlert:       "info",
}

var severities = map[event.Type]Severity{
	event.TypeSuccess:           SeveritySuccess,
	event.TypeWarning:           SeverityWarning,
	event.TypeError:             SeverityError,
	event.TypeImportantAlert:    SeverityError,
	event.TypeNotificationAlert: SeverityWarning,
	event.TypeSystemAlert:       SeverityInfo,
}

type handlerFunc func(ctx context.Context, ev event.StatusEvent) error

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTracer records a span per dispatched event.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithToastDuration overrides DefaultToastDurationMS.
func WithToastDuration(ms int) Option {
	return func(d *Dispatcher) {
		if ms > 0 {
			d.toastMS = ms
		}
	}
}

// Dispatcher renders events for one session. It is not safe for concurrent
// use; the session's consumer loop is its only caller.
type Dispatcher struct {
	sink     Sink
	handlers map[event.Type]handlerFunc
	tracer   trace.Tracer
	toastMS  int

	tasks     *TaskListView
	taskMsgID string
}

// NewDispatcher builds the handler table.
func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		toastMS: DefaultToastDurationMS,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.tracer = tracing.OrNoop(d.tracer)

	d.handlers = map[event.Type]handlerFunc{
		event.TypeInfo:              d.renderStatus,
		event.TypeProgress:          d.renderStatus,
		event.TypeSuccess:           d.renderStatus,
		event.TypeWarning:           d.renderStatus,
		event.TypeError:             d.renderStatus,
		event.TypeEmail:             d.renderStatus,
		event.TypeCalendar:          d.renderStatus,
		event.TypeWebSearch:         d.renderStatus,
		event.TypeFileSystem:        d.renderStatus,
		event.TypeDatabase:          d.renderStatus,
		event.TypeAPI:               d.renderStatus,
		event.TypeImportantAlert:    d.renderAlert,
		event.TypeNotificationAlert: d.renderAlert,
		event.TypeSystemAlert:       d.renderAlert,
		event.TypeToast:             d.renderToast,
		event.TypeTaskListCreate:    d.taskListCreate,
		event.TypeTaskListAdd:       d.taskListAdd,
		event.TypeTaskListUpdate:    d.taskListUpdate,
	}
	return d
}

// TaskList returns the current task list view, or nil.
func (d *Dispatcher) TaskList() *TaskListView {
	return d.tasks
}

// Dispatch renders ev. Unknown types render as a generic card. A failing or
// panicking handler is replaced by the fallback text; only a failure to send
// that fallback is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.StatusEvent) (err error) {
	ctx, span := d.tracer.Start(ctx, tracing.SpanDispatch,
		trace.WithAttributes(attribute.String(tracing.AttrEventType, typeName(ev))),
	)
	defer func() { tracing.Finish(span, err) }()

	h, ok := d.handlers[ev.Type]
	if !ok {
		log.Warn(log.CatRender, "unknown event type, rendering generic card", "type", typeName(ev))
		h = d.renderGeneric
	}

	herr := safeCall(ctx, h, ev)
	if herr == nil {
		return nil
	}

	rerr := &RenderError{Type: typeName(ev), Err: herr}
	log.ErrorErr(log.CatRender, "handler failed, sending fallback", rerr, "payload", rawPayload(ev))
	span.SetAttributes(attribute.Bool(tracing.AttrFallback, true))

	if _, ferr := d.sink.Send(ctx, Fallback(ev)); ferr != nil {
		return fmt.Errorf("send fallback: %w", errors.Join(rerr, ferr))
	}
	span.AddEvent(tracing.EventFallbackSent)
	return nil
}

func safeCall(ctx context.Context, h handlerFunc, ev event.StatusEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

// Fallback is the plain-text message used when a handler fails.
func Fallback(ev event.StatusEvent) Message {
	return Message{
		Kind:    KindText,
		Author:  AuthorStatus,
		Content: fmt.Sprintf("**%s**: %s", strings.ToUpper(typeName(ev)), ev.Content),
	}
}

func (d *Dispatcher) renderStatus(ctx context.Context, ev event.StatusEvent) error {
	msg := Message{
		Kind:     KindStatus,
		Author:   AuthorStatus,
		Title:    titleOr(ev.Title, DefaultTitle),
		Content:  ev.Content,
		Icon:     iconFor(ev),
		Progress: ev.Progress,
		Severity: severityFor(ev.Type),
	}
	_, err := d.sink.Send(ctx, msg)
	return err
}

func (d *Dispatcher) renderGeneric(ctx context.Context, ev event.StatusEvent) error {
	msg := Message{
		Kind:     KindStatus,
		Author:   AuthorStatus,
		Title:    titleOr(ev.Title, typeName(ev)),
		Content:  ev.Content,
		Icon:     ev.Icon,
		Progress: ev.Progress,
		Severity: SeverityInfo,
	}
	_, err := d.sink.Send(ctx, msg)
	return err
}

func (d *Dispatcher) renderAlert(ctx context.Context, ev event.StatusEvent) error {
	msg := Message{
		Kind:     KindAlert,
		Author:   AuthorSystem,
		Title:    ev.Title,
		Content:  ev.Content,
		Icon:     iconFor(ev),
		Severity: severityFor(ev.Type),
	}
	_, err := d.sink.Send(ctx, msg)
	return err
}

func (d *Dispatcher) renderToast(ctx context.Context, ev event.StatusEvent) error {
	duration := d.toastMS
	if ev.DurationMS != nil && *ev.DurationMS > 0 {
		duration = *ev.DurationMS
	}
	msg := Message{
		Kind:       KindToast,
		Author:     AuthorStatus,
		Title:      ev.Title,
		Content:    ev.Content,
		Icon:       ev.Icon,
		Severity:   SeverityInfo,
		DurationMS: duration,
	}
	_, err := d.sink.Send(ctx, msg)
	return err
}

func (d *Dispatcher) taskListCreate(ctx context.Context, ev event.StatusEvent) error {
	d.tasks = NewTaskListView(ev.Title, ev.Tasks)
	d.taskMsgID = ""
	return d.publishTasks(ctx, ev.IsFinal)
}

func (d *Dispatcher) taskListAdd(ctx context.Context, ev event.StatusEvent) error {
	d.ensureTasks()
	d.tasks.Add(ev.Task())
	return d.publishTasks(ctx, ev.IsFinal)
}

func (d *Dispatcher) taskListUpdate(ctx context.Context, ev event.StatusEvent) error {
	d.ensureTasks()
	if !d.tasks.Update(ev.Task()) {
		log.Debug(log.CatRender, "task update for unknown name, added", "name", ev.Name)
	}
	return d.publishTasks(ctx, ev.IsFinal)
}

func (d *Dispatcher) ensureTasks() {
	if d.tasks == nil {
		d.tasks = NewTaskListView("", nil)
		d.taskMsgID = ""
	}
}

// publishTasks re-renders the whole view. The first render sends a message;
// later renders update it. A final render closes the view.
func (d *Dispatcher) publishTasks(ctx context.Context, final bool) error {
	msg := d.tasks.Message(final)

	if d.taskMsgID == "" {
		id, err := d.sink.Send(ctx, msg)
		if err != nil {
			return err
		}
		d.taskMsgID = id
	} else if err := d.sink.Update(ctx, d.taskMsgID, msg); err != nil {
		return err
	}

	if final {
		trace.SpanFromContext(ctx).AddEvent(tracing.EventTaskListClosed)
		d.tasks = nil
		d.taskMsgID = ""
	}
	return nil
}

func typeName(ev event.StatusEvent) string {
	if ev.TypeName != "" {
		return ev.TypeName
	}
	if ev.Type == event.TypeUnknown {
		return event.DefaultTypeName
	}
	return ev.Type.String()
}

func titleOr(title, fallback string) string {
	if strings.TrimSpace(title) == "" {
		return fallback
	}
	return title
}

func iconFor(ev event.StatusEvent) string {
	if ev.Icon != "" {
		return ev.Icon
	}
	return DefaultIcons[ev.Type]
}

func severityFor(t event.Type) Severity {
	if s, ok := severities[t]; ok {
		return s
	}
	return SeverityInfo
}

func rawPayload(ev event.StatusEvent) string {
	if ev.Raw == nil {
		return ""
	}
	b, err := json.Marshal(ev.Raw)
	if err != nil {
		return fmt.Sprint(ev.Raw)
	}
	return string(b)
}
