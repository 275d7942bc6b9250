// Package provider implements the Provider Adapter: a single interface over
// OpenAI-compatible HTTPS chat-completion endpoints (spec §4.5), including
// Azure-style deployment URLs, Gemini via Vertex, and the distinct Volcengine
// Ark request shape.
package provider

import (
	"context"
	"encoding/json"

	"github.com/rivermint/chatforge/internal/apperror"
	"github.com/rivermint/chatforge/promptcompose"
	"github.com/rivermint/chatforge/store"
)

// ToolCallRequest is one tool call an assistant-role Message proposed,
// carried on the wire request so a subsequent turn can show the provider
// what it previously asked for.
type ToolCallRequest struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Message is one outbound chat-completion message. It is richer than
// store.GenerationInputMessage because, mid-generation, the Generation Loop
// must also represent assistant tool-call proposals and their tool-role
// responses (spec §4.7) — wire concepts with no Content-part analogue.
type Message struct {
	Role      store.Role
	Content   store.ContentParts // resolved Text/Image parts only
	ToolCalls []ToolCallRequest  // set on assistant-role messages proposing tool calls
	ToolCallID string            // set on tool-role messages: which call this responds to
}

// Request is one turn's outbound payload to a provider.
type Request struct {
	Messages []Message
	Tools    []promptcompose.ToolSchema
	Params   store.GenerationParameters
}

// EventKind distinguishes the members of the Adapter's event stream.
type EventKind string

const (
	EventStart    EventKind = "start"
	EventChunk    EventKind = "chunk"
	EventToolCall EventKind = "tool_call"
	EventEnd      EventKind = "end"
	EventError    EventKind = "error"
)

// ToolCallEvent is one tool invocation the provider asked for.
type ToolCallEvent struct {
	ID   string
	Name string
	Args json.RawMessage
}

// EndEvent carries everything captured by the time the stream finished.
type EndEvent struct {
	CapturedTexts     []string
	CapturedToolCalls []ToolCallEvent
	Usage             store.TokenUsage
}

// Event is one element of an Adapter's asynchronous response stream
// (spec §4.5: Start, Chunk{text}, ToolCall{id,name,args}, End{...}, or error).
type Event struct {
	Kind EventKind

	Chunk    string
	ToolCall ToolCallEvent
	End      *EndEvent
	Err      *apperror.Error
}

// Adapter is the Provider Adapter's contract. Implementations speak whatever
// wire protocol their backend requires and translate it into the common
// Event stream; callers never see provider-specific types.
type Adapter interface {
	// Stream submits req and returns its event stream. The channel is closed
	// after an End or error event; Stream itself only errors on failure to
	// even begin the request (e.g. building the HTTP request).
	Stream(ctx context.Context, req Request) (<-chan Event, error)

	// GenerateImage is the image-generation short-circuit (spec §4.7): takes
	// a single text prompt and returns the generated image's raw bytes and MIME type.
	GenerateImage(ctx context.Context, prompt string) ([]byte, string, error)
}
