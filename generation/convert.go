package generation

import (
	"github.com/rivermint/chatforge/provider"
	"github.com/rivermint/chatforge/store"
)

// toProviderMessages converts the Prompt Composer's resolved sequence (plain
// Text/Image content, no pointers left) into the richer wire-level Message
// the Provider Adapter accepts.
func toProviderMessages(resolved []store.GenerationInputMessage) []provider.Message {
	out := make([]provider.Message, len(resolved))
	for i, m := range resolved {
		out[i] = provider.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// toToolCallRequests converts the provider's captured tool calls at End into
// the wire shape an assistant-role tool-calls message carries on the next
// request (spec §4.7 step 3).
func toToolCallRequests(calls []provider.ToolCallEvent) []provider.ToolCallRequest {
	out := make([]provider.ToolCallRequest, len(calls))
	for i, c := range calls {
		out[i] = provider.ToolCallRequest{ID: c.ID, Name: c.Name, Args: c.Args}
	}
	return out
}
