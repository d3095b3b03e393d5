// Package event defines the status event schema shared by the ingest
// listener, the queue, and the renderers.
package event

import (
	"strings"
	"time"
)

// Type is the closed set of status event kinds. Wire strings that do not
// match a known kind parse to TypeUnknown and keep their original name in
// StatusEvent.TypeName.
type Type int

const (
	TypeUnknown Type = iota
	TypeInfo
	TypeProgress
	TypeSuccess
	TypeWarning
	TypeError

	TypeEmail
	TypeCalendar
	TypeWebSearch
	TypeFileSystem
	TypeDatabase
	TypeAPI

	TypeImportantAlert
	TypeNotificationAlert
	TypeSystemAlert

	TypeToast

	TypeTaskListCreate
	TypeTaskListAdd
	TypeTaskListUpdate
)

// DefaultTypeName is applied when a payload omits "type".
const DefaultTypeName = "info"

var typeNames = map[Type]string{
	TypeInfo:              "info",
	TypeProgress:          "progress",
	TypeSuccess:           "success",
	TypeWarning:           "warning",
	TypeError:             "error",
	TypeEmail:             "email",
	TypeCalendar:          "calendar",
	TypeWebSearch:         "web-search",
	TypeFileSystem:        "file-system",
	TypeDatabase:          "database",
	TypeAPI:               "api",
	TypeImportantAlert:    "important-alert",
	TypeNotificationAlert: "notification-alert",
	TypeSystemAlert:       "system-alert",
	TypeToast:             "toast",
	TypeTaskListCreate:    "task-list-create",
	TypeTaskListAdd:       "task-list-add",
	TypeTaskListUpdate:    "task-list-update",
}

var typesByName = func() map[string]Type {
	m := make(map[string]Type, len(typeNames)+2)
	for t, name := range typeNames {
		m[name] = t
	}
	// Full-list creation payloads carry "tasks".
	m["task_list"] = TypeTaskListCreate
	m["task-list"] = TypeTaskListCreate
	return m
}()

// ParseType maps a wire type string to a Type. Matching ignores case and
// surrounding whitespace.
func ParseType(s string) Type {
	if t, ok := typesByName[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return TypeUnknown
}

// String returns the canonical wire name, or "unknown".
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsTaskList reports whether t mutates the session's task list view.
func (t Type) IsTaskList() bool {
	return t == TypeTaskListCreate || t == TypeTaskListAdd || t == TypeTaskListUpdate
}

// IsAlert reports whether t is one of the alert kinds.
func (t Type) IsAlert() bool {
	return t == TypeImportantAlert || t == TypeNotificationAlert || t == TypeSystemAlert
}

// KnownTypes returns every known kind in declaration order.
func KnownTypes() []Type {
	out := make([]Type, 0, len(typeNames))
	for t := TypeInfo; t <= TypeTaskListUpdate; t++ {
		out = append(out, t)
	}
	return out
}

// TaskStatus is the state of one task list entry.
type TaskStatus string

const (
	TaskReady   TaskStatus = "ready"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// ParseTaskStatus maps loose producer vocabulary onto TaskStatus.
// Anything unrecognised, including the empty string, means running.
func ParseTaskStatus(s string) TaskStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "done", "complete", "completed", "success":
		return TaskDone
	case "error", "failed", "failure":
		return TaskFailed
	case "ready", "pending", "queued":
		return TaskReady
	default:
		return TaskRunning
	}
}

// TaskEntry is a single named task. Names are unique within a list.
type TaskEntry struct {
	Name   string     `json:"name"`
	Status TaskStatus `json:"status"`
	Icon   string     `json:"icon,omitempty"`
}

// StatusEvent is one unit of out-of-band progress or alert information.
type StatusEvent struct {
	Type     Type   `json:"-"`
	TypeName string `json:"type"`

	Title      string      `json:"title,omitempty"`
	Content    string      `json:"content"`
	Icon       string      `json:"icon,omitempty"`
	Progress   *int        `json:"progress,omitempty"`
	DurationMS *int        `json:"duration,omitempty"`
	Tasks      []TaskEntry `json:"tasks,omitempty"`

	// Task list add/update target.
	Name    string     `json:"name,omitempty"`
	Status  TaskStatus `json:"status,omitempty"`
	IsFinal bool       `json:"is_final,omitempty"`

	// ID is an optional producer-assigned identifier used for de-duplication.
	ID string `json:"id,omitempty"`

	Raw        map[string]any `json:"-"`
	ReceivedAt time.Time      `json:"-"`
}

// Task returns the add/update target as a TaskEntry.
func (e StatusEvent) Task() TaskEntry {
	return TaskEntry{Name: e.Name, Status: e.Status, Icon: e.Icon}
}
