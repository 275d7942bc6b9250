package promptcompose

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivermint/chatforge/fileresolver"
	"github.com/rivermint/chatforge/store"
)

type fakeResolver struct{}

func (fakeResolver) ResolveTextPointer(ctx context.Context, fileID string, rc *fileresolver.ResolveContext) (store.Text, error) {
	return store.Text{TextValue: "resolved:" + fileID}, nil
}

func (fakeResolver) ResolveImagePointer(ctx context.Context, fileID string, rc *fileresolver.ResolveContext) (store.Image, error) {
	return store.Image{MIME: "image/png", Base64: "resolved:" + fileID}, nil
}

type fakeCatalog struct {
	tools []ToolSchema
}

func (f fakeCatalog) ListTools(ctx context.Context, mcpServerIDs []string) ([]ToolSchema, error) {
	return f.tools, nil
}

func TestComposeFreshSeedsSystemThenAssistantPrompt(t *testing.T) {
	c := New(fakeResolver{}, nil, "be helpful")
	assistant := &store.Assistant{Prompt: "you are Roboto"}

	result, err := c.Compose(context.Background(), Input{
		Assistant:       assistant,
		UserMessage:     store.ContentParts{store.Text{TextValue: "hi"}},
		IsFirstUserTurn: true,
	})
	require.NoError(t, err)
	require.Len(t, result.Unresolved, 3)
	assert.Equal(t, store.RoleSystem, result.Unresolved[0].Role)
	assert.Equal(t, "be helpful", result.Unresolved[0].Content[0].(store.Text).TextValue)
	assert.Equal(t, store.RoleSystem, result.Unresolved[1].Role)
	assert.Equal(t, "you are Roboto", result.Unresolved[1].Content[0].(store.Text).TextValue)
}

func TestComposeReplaysPreviousUnresolvedWithoutDuplicatingSystemPrompt(t *testing.T) {
	c := New(fakeResolver{}, nil, "be helpful")
	previous := &store.Message{
		GenerationInputMessages: []store.GenerationInputMessage{
			{Role: store.RoleSystem, Content: store.ContentParts{store.Text{TextValue: "be helpful"}}},
			{Role: store.RoleUser, Content: store.ContentParts{store.Text{TextValue: "turn 1"}}},
		},
	}

	result, err := c.Compose(context.Background(), Input{
		Previous:    previous,
		UserMessage: store.ContentParts{store.Text{TextValue: "turn 2"}},
	})
	require.NoError(t, err)
	// Only one system message across the whole sequence.
	systemCount := 0
	for _, m := range result.Unresolved {
		if m.Role == store.RoleSystem {
			systemCount++
		}
	}
	assert.Equal(t, 1, systemCount)
	assert.Len(t, result.Unresolved, 3) // replayed system + replayed turn-1 user + new turn-2 user
}

func TestComposeAppendsAssistantFilesOnlyOnFirstTurn(t *testing.T) {
	c := New(fakeResolver{}, nil, "")
	assistant := &store.Assistant{FileIDs: []string{"af1"}}

	first, err := c.Compose(context.Background(), Input{
		Assistant:       assistant,
		UserMessage:     store.ContentParts{store.Text{TextValue: "hi"}},
		IsFirstUserTurn: true,
	})
	require.NoError(t, err)
	lastMsg := first.Unresolved[len(first.Unresolved)-1]
	require.Len(t, lastMsg.Content, 2)
	assert.Equal(t, "af1", lastMsg.Content[0].(store.TextFilePointer).FileID)

	previous := &store.Message{GenerationInputMessages: []store.GenerationInputMessage{
		{Role: store.RoleUser, Content: store.ContentParts{store.Text{TextValue: "turn 1"}}},
	}}
	later, err := c.Compose(context.Background(), Input{
		Assistant:       assistant,
		Previous:        previous,
		UserMessage:     store.ContentParts{store.Text{TextValue: "turn 2"}},
		IsFirstUserTurn: false,
	})
	require.NoError(t, err)
	lastMsg = later.Unresolved[len(later.Unresolved)-1]
	require.Len(t, lastMsg.Content, 1) // no assistant file pointer this time
}

func TestComposeResolvesPointersWithoutMutatingUnresolved(t *testing.T) {
	c := New(fakeResolver{}, nil, "")

	result, err := c.Compose(context.Background(), Input{
		UserMessage: store.ContentParts{store.TextFilePointer{FileID: "f1"}},
	})
	require.NoError(t, err)

	resolvedText := result.Resolved[len(result.Resolved)-1].Content[0].(store.Text)
	assert.Equal(t, "resolved:f1", resolvedText.TextValue)

	unresolvedPointer := result.Unresolved[len(result.Unresolved)-1].Content[0].(store.TextFilePointer)
	assert.Equal(t, "f1", unresolvedPointer.FileID)
}

func TestAvailableToolsIntersectsAssistantAndFacetAllowlists(t *testing.T) {
	catalog := fakeCatalog{tools: []ToolSchema{
		{ServerID: "srv1", Name: "search"},
		{ServerID: "srv1", Name: "write_file"},
	}}
	c := New(fakeResolver{}, catalog, "")

	facet := &store.Facet{ToolCallAllowlist: []string{"srv1/search"}}
	result, err := c.Compose(context.Background(), Input{
		Assistant:   &store.Assistant{MCPServerIDs: []string{"srv1"}},
		Facet:       facet,
		UserMessage: store.ContentParts{store.Text{TextValue: "hi"}},
	})
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "srv1/search", result.Tools[0].QualifiedName())
}

func TestAvailableToolsWithoutFacetReturnsAllCatalogTools(t *testing.T) {
	catalog := fakeCatalog{tools: []ToolSchema{{ServerID: "srv1", Name: "search"}}}
	c := New(fakeResolver{}, catalog, "")

	result, err := c.Compose(context.Background(), Input{
		UserMessage: store.ContentParts{store.Text{TextValue: "hi"}},
	})
	require.NoError(t, err)
	assert.Len(t, result.Tools, 1)
}
