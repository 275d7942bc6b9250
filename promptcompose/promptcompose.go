// Package promptcompose implements the Prompt Composer: builds an abstract
// message sequence for a turn, then resolves its file pointers against the
// File Resolver to produce the provider-bound payload, while persisting the
// unresolved form for replay on the next turn.
package promptcompose

import (
	"context"

	"github.com/rivermint/chatforge/fileresolver"
	"github.com/rivermint/chatforge/store"
)

// ToolSchema is the provider-facing description of one callable tool,
// namespaced `<server-id>/<tool-name>` per spec §4.6.
type ToolSchema struct {
	ServerID    string
	Name        string
	Description string
	InputSchema map[string]any
}

// QualifiedName is the globally namespaced tool identifier a provider sees.
func (s ToolSchema) QualifiedName() string {
	return s.ServerID + "/" + s.Name
}

// ToolCatalog lists every tool declared by every MCP server an assistant is
// allowed to use. The Tool Executor implements this.
type ToolCatalog interface {
	ListTools(ctx context.Context, mcpServerIDs []string) ([]ToolSchema, error)
}

// Input is everything the Composer needs to build one turn's prompt.
type Input struct {
	Chat             *store.Chat
	Assistant        *store.Assistant // nil if the chat isn't bound to one
	Facet            *store.Facet     // nil if no facet is active
	Previous         *store.Message   // the message this turn continues from, nil for the first turn
	UserMessage      store.ContentParts
	NewFileIDs       []string // newly attached files on this turn, as pointers
	IsFirstUserTurn  bool     // true when Previous is nil (or has no previous-message chain)
	ResolveContext   *fileresolver.ResolveContext
}

// Result is the Composer's two outputs (spec §4.4): the resolved sequence
// sent to the provider, and the unresolved sequence persisted with the
// assistant message so pointers aren't duplicated across turns.
type Result struct {
	Resolved   []store.GenerationInputMessage
	Unresolved []store.GenerationInputMessage
	Tools      []ToolSchema
}
