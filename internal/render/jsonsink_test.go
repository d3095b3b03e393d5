package render

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/statusrelay/internal/event"
)

func TestJSONSink_WritesOneLinePerMessage(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf)
	d := NewDispatcher(sink)

	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, event.StatusEvent{Type: event.TypeSuccess, TypeName: "success", Content: "done"}))
	require.NoError(t, d.Dispatch(ctx, event.StatusEvent{
		Type: event.TypeTaskListCreate, TypeName: "task-list-create", Title: "Plan",
		Tasks: []event.TaskEntry{{Name: "a", Status: event.TaskReady}},
	}))
	require.NoError(t, d.Dispatch(ctx, event.StatusEvent{
		Type: event.TypeTaskListUpdate, TypeName: "task-list-update", Name: "a", Status: event.TaskDone,
	}))

	var lines []JSONLine
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var l JSONLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	require.Len(t, lines, 3)

	require.Equal(t, KindStatus, lines[0].Message.Kind)
	require.Equal(t, "done", lines[0].Message.Content)
	require.False(t, lines[0].Update)

	require.Equal(t, KindTaskList, lines[1].Message.Kind)
	require.True(t, lines[2].Update)
	require.Equal(t, lines[1].ID, lines[2].ID, "task list updates reuse the first id")
	require.Equal(t, event.TaskDone, lines[2].Message.Tasks[0].Status)
}
