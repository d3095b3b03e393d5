package render

import (
	"github.com/zjrosen/statusrelay/internal/event"
)

// DefaultTaskListTitle titles a view created implicitly by add or update.
const DefaultTaskListTitle = "Processing Tasks"

// TaskListView is an ordered set of uniquely named tasks. It is not safe for
// concurrent use; a single consumer loop owns it.
type TaskListView struct {
	title  string
	order  []string
	byName map[string]event.TaskEntry
}

// NewTaskListView creates a view seeded with tasks. Later duplicates of a
// name overwrite the earlier entry without changing its position.
func NewTaskListView(title string, tasks []event.TaskEntry) *TaskListView {
	if title == "" {
		title = DefaultTaskListTitle
	}
	v := &TaskListView{
		title:  title,
		byName: make(map[string]event.TaskEntry, len(tasks)),
	}
	for _, t := range tasks {
		v.Add(t)
	}
	return v
}

// Title returns the view title.
func (v *TaskListView) Title() string {
	return v.title
}

// Len returns the number of tasks.
func (v *TaskListView) Len() int {
	return len(v.order)
}

// Get looks up a task by name.
func (v *TaskListView) Get(name string) (event.TaskEntry, bool) {
	t, ok := v.byName[name]
	return t, ok
}

// Add appends a task, or replaces the task of the same name in place.
// Entries without a name are ignored.
func (v *TaskListView) Add(t event.TaskEntry) {
	if t.Name == "" {
		return
	}
	if t.Status == "" {
		t.Status = event.TaskRunning
	}
	if _, exists := v.byName[t.Name]; !exists {
		v.order = append(v.order, t.Name)
	}
	v.byName[t.Name] = t
}

// Update sets the status (when given) and icon (when given) of the named
// task. Unknown names are added. It reports whether the task already existed.
func (v *TaskListView) Update(t event.TaskEntry) bool {
	cur, ok := v.byName[t.Name]
	if !ok {
		v.Add(t)
		return false
	}
	if t.Status != "" {
		cur.Status = t.Status
	}
	if t.Icon != "" {
		cur.Icon = t.Icon
	}
	v.byName[t.Name] = cur
	return true
}

// Snapshot returns the tasks in insertion order.
func (v *TaskListView) Snapshot() []event.TaskEntry {
	out := make([]event.TaskEntry, 0, len(v.order))
	for _, name := range v.order {
		out = append(out, v.byName[name])
	}
	return out
}

// Message renders the whole view.
func (v *TaskListView) Message(closed bool) Message {
	return Message{
		Kind:   KindTaskList,
		Author: AuthorStatus,
		Title:  v.title,
		Tasks:  v.Snapshot(),
		Closed: closed,
	}
}
