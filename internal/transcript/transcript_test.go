package transcript

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/statusrelay/internal/normalize"
	"github.com/zjrosen/statusrelay/internal/pubsub"
	"github.com/zjrosen/statusrelay/internal/render"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Save(sessionID string, e Entry) error {
	return m.Called(sessionID, e).Error(0)
}

func (m *mockStore) List(sessionID string) ([]Entry, error) {
	args := m.Called(sessionID)
	entries, _ := args.Get(0).([]Entry)
	return entries, args.Error(1)
}

func (m *mockStore) DeleteSession(sessionID string) error {
	return m.Called(sessionID).Error(0)
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return at }
}

func TestTranscript_SendAndUpdate(t *testing.T) {
	tr := New("s-1", WithClock(fixedClock()))
	defer tr.Close()
	ctx := context.Background()

	id, err := tr.Send(ctx, render.Message{Kind: render.KindTaskList, Content: "one"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	_, err = tr.Send(ctx, render.Message{Kind: render.KindStatus, Content: "two"})
	require.NoError(t, err)

	require.NoError(t, tr.Update(ctx, id, render.Message{Kind: render.KindTaskList, Content: "one, revised"}))

	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "one, revised", entries[0].Message.Content, "update replaces in place")
	assert.Equal(t, "two", entries[1].Message.Content)
	assert.Equal(t, fixedClock()(), entries[0].At)

	got, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, "one, revised", got.Message.Content)

	err = tr.Update(ctx, "nope", render.Message{})
	require.ErrorIs(t, err, ErrUnknownEntry)
}

func TestTranscript_PublishesChanges(t *testing.T) {
	tr := New("s-1")
	defer tr.Close()
	ch := tr.Subscribe(t.Context())

	id, _ := tr.Send(context.Background(), render.Message{Content: "a"})
	require.NoError(t, tr.Update(context.Background(), id, render.Message{Content: "b"}))
	require.NoError(t, tr.Clear())

	want := []pubsub.EventType{pubsub.CreatedEvent, pubsub.UpdatedEvent, pubsub.DeletedEvent}
	for _, typ := range want {
		select {
		case ev := <-ch:
			assert.Equal(t, typ, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", typ)
		}
	}
	assert.Equal(t, 0, tr.Len())
}

func TestTranscript_History(t *testing.T) {
	tr := New("s-1")
	defer tr.Close()

	tr.AppendUser("hi")
	_, _ = tr.Send(context.Background(), render.Message{Kind: render.KindStatus, Content: "working"})
	tr.AppendReply([]normalize.Record{{Output: "hello"}})
	tr.AppendUser("bye")
	tr.AppendReply([]normalize.Record{{Output: "see you"}, {Output: "again"}})
	tr.AppendError(errors.New("boom"))

	assert.Equal(t, []Turn{
		{RoleUser, "hi"},
		{RoleAssistant, "hello"},
		{RoleUser, "bye"},
		{RoleAssistant, "see you"},
		{RoleAssistant, "again"},
	}, tr.History(0))

	assert.Equal(t, []Turn{
		{RoleAssistant, "see you"},
		{RoleAssistant, "again"},
	}, tr.History(2))

	last := tr.Entries()[tr.Len()-1]
	assert.Equal(t, render.KindAlert, last.Message.Kind)
	assert.Equal(t, render.SeverityError, last.Message.Severity)
	assert.Contains(t, last.Message.Content, "boom")
}

func TestTranscript_ReplyImages(t *testing.T) {
	tr := New("s-1")
	defer tr.Close()

	entries := tr.AppendReply([]normalize.Record{{
		Output: "Here you go",
		Elements: []normalize.Element{
			{Type: normalize.ElementImage, URL: "https://img.test/a.png", Name: normalize.DefaultImageName},
		},
	}})
	require.Len(t, entries, 1)
	assert.Equal(t, "Here you go\n\n![Generated Image](https://img.test/a.png)", entries[0].Message.Content)
	assert.Equal(t, render.AuthorBot, entries[0].Message.Author)
}

func TestTranscript_PersistsThroughStore(t *testing.T) {
	store := &mockStore{}
	store.On("Save", "s-1", mock.MatchedBy(func(e Entry) bool { return e.Message.Content == "a" })).Return(nil).Once()
	store.On("Save", "s-1", mock.MatchedBy(func(e Entry) bool { return e.Message.Content == "b" })).Return(errors.New("disk full")).Once()
	store.On("DeleteSession", "s-1").Return(nil).Once()

	tr := New("s-1", WithStore(store))
	defer tr.Close()

	id, err := tr.Send(context.Background(), render.Message{Content: "a"})
	require.NoError(t, err)
	require.NoError(t, tr.Update(context.Background(), id, render.Message{Content: "b"}), "store failures do not fail the sink")
	require.Equal(t, "b", tr.Entries()[0].Message.Content)

	require.NoError(t, tr.Clear())
	store.AssertExpectations(t)
}

func TestTranscript_Load(t *testing.T) {
	saved := []Entry{
		{ID: "e1", Message: render.Message{Kind: render.KindText, Author: render.AuthorUser, Content: "q"}},
		{ID: "e2", Message: render.Message{Kind: render.KindReply, Author: render.AuthorBot, Content: "a"}},
	}
	store := &mockStore{}
	store.On("List", "s-1").Return(saved, nil).Once()

	tr := New("s-1", WithStore(store))
	defer tr.Close()
	require.NoError(t, tr.Load())
	assert.Equal(t, 2, tr.Len())
	_, ok := tr.Get("e2")
	assert.True(t, ok)
	assert.Len(t, tr.History(0), 2)

	failing := &mockStore{}
	failing.On("List", "s-2").Return(nil, errors.New("locked")).Once()
	require.Error(t, New("s-2", WithStore(failing)).Load())

	require.NoError(t, New("s-3").Load(), "no store is a no-op")
}
