package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivermint/chatforge/event"
)

func TestStartTaskIsIdempotentAndSharesHistory(t *testing.T) {
	hub := NewHub(nil)

	_, handle1 := hub.StartTask("chat-1", "gen-1")
	hub.SendEvent(handle1, event.ChatCreated("chat-1"))

	sub2, handle2 := hub.StartTask("chat-1", "gen-1")
	assert.Same(t, handle1.task, handle2.task)

	hub.SendEvent(handle2, event.AssistantMessageStarted("msg-1"))

	select {
	case evt := <-sub2:
		assert.Equal(t, event.TagAssistantMessageStarted, evt.Tag)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	history := hub.History(handle2)
	require.Len(t, history, 2)
	assert.Equal(t, event.TagChatCreated, history[0].Tag)
	assert.Equal(t, event.TagAssistantMessageStarted, history[1].Tag)
}

func TestGetTaskReturnsFalseWhenAbsent(t *testing.T) {
	hub := NewHub(nil)
	_, ok := hub.GetTask("nope")
	assert.False(t, ok)
}

func TestSubscribeIsLiveOnlyAndDoesNotIncludePriorHistory(t *testing.T) {
	hub := NewHub(nil)
	_, handle := hub.StartTask("chat-1", "gen-1")
	hub.SendEvent(handle, event.ChatCreated("chat-1"))

	late := hub.Subscribe(handle)
	hub.SendEvent(handle, event.StreamEnd())

	select {
	case evt := <-late:
		assert.Equal(t, event.TagStreamEnd, evt.Tag)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case evt, ok := <-late:
		t.Fatalf("expected no further events, got %v (ok=%v)", evt, ok)
	default:
	}
}

func TestSendEventDropsOnFullSubscriberWithoutBlocking(t *testing.T) {
	hub := NewHub(nil)
	sub, handle := hub.StartTask("chat-1", "gen-1")

	for i := 0; i < subscriberBufferSize+10; i++ {
		hub.SendEvent(handle, event.TextDelta("msg-1", 0, "x"))
	}

	assert.Equal(t, subscriberBufferSize+10, len(hub.History(handle)))
	assert.LessOrEqual(t, len(sub), subscriberBufferSize)
}

func TestEmitIsNoOpWithoutATask(t *testing.T) {
	hub := NewHub(nil)
	hub.Emit("no-such-chat", event.StreamEnd()) // must not panic
}

func TestEmitPublishesToSubscriberOfMatchingTask(t *testing.T) {
	hub := NewHub(nil)
	sub, _ := hub.StartTask("chat-1", "gen-1")

	hub.Emit("chat-1", event.StreamEnd())

	select {
	case evt := <-sub:
		assert.Equal(t, event.TagStreamEnd, evt.Tag)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRemoveTaskClosesSubscribersAndForgetsChat(t *testing.T) {
	hub := NewHub(nil)
	sub, handle := hub.StartTask("chat-1", "gen-1")

	hub.RemoveTask("chat-1")

	_, ok := <-sub
	assert.False(t, ok, "subscriber channel should be closed")

	_, ok = hub.GetTask("chat-1")
	assert.False(t, ok)

	// handle is still safe to read from after removal.
	assert.Empty(t, hub.History(handle))
}

func TestResumeSubscribeReturnsHistoryAndLiveChannelWithNoGap(t *testing.T) {
	hub := NewHub(nil)
	_, handle := hub.StartTask("chat-1", "gen-1")
	hub.SendEvent(handle, event.ChatCreated("chat-1"))
	hub.SendEvent(handle, event.UserMessageSaved("msg-1", nil))

	history, live := hub.ResumeSubscribe(handle)
	require.Len(t, history, 2)
	assert.Equal(t, event.TagChatCreated, history[0].Tag)
	assert.Equal(t, event.TagUserMessageSaved, history[1].Tag)

	hub.SendEvent(handle, event.StreamEnd())
	select {
	case evt := <-live:
		assert.Equal(t, event.TagStreamEnd, evt.Tag)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestReapExpiredRemovesOnlyStaleCompletedTasks(t *testing.T) {
	hub := NewHub(nil)

	_, handleOld := hub.StartTask("chat-old", "gen-1")
	hub.MarkCompleted(handleOld)
	handleOld.task.completedAt = time.Now().Add(-2 * time.Minute)

	_, handleFresh := hub.StartTask("chat-fresh", "gen-2")
	hub.MarkCompleted(handleFresh)

	_, _ = hub.StartTask("chat-running", "gen-3")

	n := hub.ReapExpired(DefaultGraceWindow)
	assert.Equal(t, 1, n)

	_, ok := hub.GetTask("chat-old")
	assert.False(t, ok)
	_, ok = hub.GetTask("chat-fresh")
	assert.True(t, ok)
	_, ok = hub.GetTask("chat-running")
	assert.True(t, ok)
}
