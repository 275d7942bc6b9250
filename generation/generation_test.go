package generation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivermint/chatforge/config"
	"github.com/rivermint/chatforge/event"
	"github.com/rivermint/chatforge/fileresolver"
	"github.com/rivermint/chatforge/internal/apperror"
	"github.com/rivermint/chatforge/promptcompose"
	"github.com/rivermint/chatforge/provider"
	"github.com/rivermint/chatforge/store"
)

// fakeStore implements MessageStore in-memory.
type fakeStore struct {
	mu       sync.Mutex
	messages map[string]*store.Message
	nextID   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: map[string]*store.Message{}}
}

func (f *fakeStore) SubmitMessage(ctx context.Context, submit *store.SubmitMessage) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg := &store.Message{
		ID:                      idFor(f.nextID),
		ChatID:                  submit.ChatID,
		Role:                    submit.Role,
		Content:                 submit.Content,
		PreviousMessageID:       submit.PreviousMessageID,
		GenerationInputMessages: submit.GenerationInputMessages,
		GenerationParameters:    submit.GenerationParameters,
	}
	f.messages[msg.ID] = msg
	return msg, nil
}

func idFor(n int) string {
	return "msg-" + string(rune('a'+n))
}

func (f *fakeStore) UpdateMessageContent(ctx context.Context, id string, content store.ContentParts) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return nil, assert.AnError
	}
	msg.Content = content
	return msg, nil
}

func (f *fakeStore) UpdateGenerationMetadata(ctx context.Context, id string, meta *store.GenerationMetadata) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return nil, assert.AnError
	}
	msg.GenerationMetadata = meta
	return msg, nil
}

func (f *fakeStore) CreateFileUpload(ctx context.Context, create *store.CreateFileUpload) (*store.FileUpload, error) {
	return &store.FileUpload{ID: "file-1", ChatID: create.ChatID, Filename: create.Filename, StoragePath: create.StoragePath}, nil
}

// fakeSink records emitted events per chat.
type fakeSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (f *fakeSink) Emit(chatID string, evt event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func (f *fakeSink) tags() []event.Tag {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Tag, len(f.events))
	for i, e := range f.events {
		out[i] = e.Tag
	}
	return out
}

type fakePolicy struct{ invalidated int }

func (f *fakePolicy) Invalidate(ctx context.Context) { f.invalidated++ }

// fakeAdapter implements provider.Adapter by replaying a scripted sequence
// of turns; each call to Stream pops the next scripted turn.
type fakeAdapter struct {
	mu    sync.Mutex
	turns [][]provider.Event
	calls int
}

func (f *fakeAdapter) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.turns) {
		panic("fakeAdapter: more Stream calls than scripted turns")
	}
	turn := f.turns[f.calls]
	f.calls++
	ch := make(chan provider.Event, len(turn))
	for _, e := range turn {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func (f *fakeAdapter) GenerateImage(ctx context.Context, prompt string) ([]byte, string, error) {
	return []byte("fake-bytes"), "image/png", nil
}

type fakeTools struct {
	output string
	err    error
	mu     sync.Mutex
	called []string
}

func (f *fakeTools) Call(ctx context.Context, qualifiedName string, args json.RawMessage, allowedServerIDs []string) (string, error) {
	f.mu.Lock()
	f.called = append(f.called, qualifiedName)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

func newCatalogWithAdapter(id string, adapter *fakeAdapter, caps config.ModelCapabilities) *ProviderCatalog {
	return &ProviderCatalog{
		adapters: map[string]provider.Adapter{id: adapter},
		configs:  map[string]config.ChatProviderConfig{id: {ModelCapabilities: caps}},
	}
}

func newTestLoop(t *testing.T, adapter *fakeAdapter, tools ToolExecutor, caps config.ModelCapabilities) (*Loop, *fakeStore, *fakeSink, *fakePolicy) {
	t.Helper()
	st := newFakeStore()
	sink := &fakeSink{}
	pol := &fakePolicy{}
	composer := promptcompose.New(noopResolver{}, nil, "")
	loop := New(Deps{
		Store:     st,
		Composer:  composer,
		Providers: newCatalogWithAdapter("provider-1", adapter, caps),
		Tools:     tools,
		Sink:      sink,
		Policy:    pol,
	})
	return loop, st, sink, pol
}

type noopResolver struct{}

func (noopResolver) ResolveTextPointer(ctx context.Context, fileID string, rc *fileresolver.ResolveContext) (store.Text, error) {
	return store.Text{}, nil
}

func (noopResolver) ResolveImagePointer(ctx context.Context, fileID string, rc *fileresolver.ResolveContext) (store.Image, error) {
	return store.Image{}, nil
}

func baseParams(chat *store.Chat) RunParams {
	return RunParams{
		Chat:               chat,
		ChatProviderID:     "provider-1",
		UserMessageID:      "user-msg-1",
		UserMessageContent: store.ContentParts{store.Text{TextValue: "hello"}},
		IsFirstUserTurn:    true,
	}
}

func TestRunSingleTurnCompletesWithText(t *testing.T) {
	adapter := &fakeAdapter{turns: [][]provider.Event{
		{
			{Kind: provider.EventChunk, Chunk: "hi "},
			{Kind: provider.EventChunk, Chunk: "there"},
			{Kind: provider.EventEnd, End: &provider.EndEvent{Usage: store.TokenUsage{TotalTokens: 10}}},
		},
	}}
	loop, st, sink, pol := newTestLoop(t, adapter, &fakeTools{}, config.ModelCapabilities{})

	chat := &store.Chat{ID: "chat-1"}
	err := loop.Run(context.Background(), baseParams(chat))
	require.NoError(t, err)

	assert.Equal(t, 1, pol.invalidated)
	tags := sink.tags()
	assert.Contains(t, tags, event.TagAssistantMessageStarted)
	assert.Contains(t, tags, event.TagTextDelta)
	assert.Contains(t, tags, event.TagAssistantMessageCompleted)
	assert.Equal(t, event.TagStreamEnd, tags[len(tags)-1])

	var found bool
	for _, msg := range st.messages {
		if msg.Role == store.RoleAssistant {
			found = true
			require.Len(t, msg.Content, 1)
			text, ok := msg.Content[0].(store.Text)
			require.True(t, ok)
			assert.Equal(t, "hi there", text.TextValue)
		}
	}
	assert.True(t, found)
}

func TestRunDispatchesToolCallThenCompletes(t *testing.T) {
	adapter := &fakeAdapter{turns: [][]provider.Event{
		{
			{Kind: provider.EventToolCall, ToolCall: provider.ToolCallEvent{ID: "call_1", Name: "srv1/search", Args: json.RawMessage(`{"q":"go"}`)}},
			{Kind: provider.EventEnd, End: &provider.EndEvent{
				CapturedToolCalls: []provider.ToolCallEvent{{ID: "call_1", Name: "srv1/search", Args: json.RawMessage(`{"q":"go"}`)}},
			}},
		},
		{
			{Kind: provider.EventChunk, Chunk: "done"},
			{Kind: provider.EventEnd, End: &provider.EndEvent{}},
		},
	}}
	tools := &fakeTools{output: "42"}
	loop, st, sink, _ := newTestLoop(t, adapter, tools, config.ModelCapabilities{})

	chat := &store.Chat{ID: "chat-1"}
	err := loop.Run(context.Background(), baseParams(chat))
	require.NoError(t, err)

	assert.Equal(t, []string{"srv1/search"}, tools.called)
	tags := sink.tags()
	assert.Contains(t, tags, event.TagToolCallProposed)
	assert.Contains(t, tags, event.TagToolCallUpdate)

	for _, msg := range st.messages {
		if msg.Role == store.RoleAssistant {
			require.Len(t, msg.Content, 2)
			toolUse, ok := msg.Content[0].(store.ToolUse)
			require.True(t, ok)
			assert.Equal(t, store.ToolUseStatusSuccess, toolUse.Status)
			assert.Equal(t, "42", toolUse.Output)
		}
	}
}

func TestRunExceedsMaxIterationsEmitsErrorAndTerminates(t *testing.T) {
	toolCall := provider.ToolCallEvent{ID: "call_1", Name: "srv1/loop", Args: json.RawMessage(`{}`)}
	var turns [][]provider.Event
	for i := 0; i < 20; i++ {
		turns = append(turns, []provider.Event{
			{Kind: provider.EventEnd, End: &provider.EndEvent{CapturedToolCalls: []provider.ToolCallEvent{toolCall}}},
		})
	}
	adapter := &fakeAdapter{turns: turns}
	loop, _, sink, _ := newTestLoop(t, adapter, &fakeTools{output: "ok"}, config.ModelCapabilities{})
	loop.deps.MaxToolIterations = 3

	chat := &store.Chat{ID: "chat-1"}
	err := loop.Run(context.Background(), baseParams(chat))
	require.NoError(t, err)

	tags := sink.tags()
	assert.Contains(t, tags, event.TagError)
	assert.Equal(t, event.TagStreamEnd, tags[len(tags)-1])
}

func TestRunProviderErrorFoldsIntoErrorEventAndStreamEnd(t *testing.T) {
	adapter := &fakeAdapter{turns: [][]provider.Event{
		{
			{Kind: provider.EventError, Err: apperror.ProviderError("upstream exploded", 500, nil)},
		},
	}}
	loop, _, sink, _ := newTestLoop(t, adapter, &fakeTools{}, config.ModelCapabilities{})

	chat := &store.Chat{ID: "chat-1"}
	err := loop.Run(context.Background(), baseParams(chat))
	require.NoError(t, err)

	tags := sink.tags()
	assert.Contains(t, tags, event.TagError)
	assert.Equal(t, event.TagStreamEnd, tags[len(tags)-1])
}

func TestRunImageGenerationShortCircuit(t *testing.T) {
	adapter := &fakeAdapter{}
	loop, st, sink, _ := newTestLoop(t, adapter, &fakeTools{}, config.ModelCapabilities{GenerateImages: true})
	loop.deps.Blobs = fakeBlobWriter{}

	chat := &store.Chat{ID: "chat-1"}
	err := loop.Run(context.Background(), baseParams(chat))
	require.NoError(t, err)

	tags := sink.tags()
	assert.Contains(t, tags, event.TagAssistantMessageCompleted)
	assert.Equal(t, event.TagStreamEnd, tags[len(tags)-1])

	for _, msg := range st.messages {
		if msg.Role == store.RoleAssistant {
			require.Len(t, msg.Content, 1)
			_, ok := msg.Content[0].(store.ImageFilePointer)
			assert.True(t, ok)
		}
	}
}

type fakeBlobWriter struct{}

func (fakeBlobWriter) WriteBytes(ctx context.Context, storageProviderID, filename string, data []byte) (string, error) {
	return "generated/" + filename, nil
}
