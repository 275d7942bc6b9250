package provider

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	arkmodel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"

	"github.com/rivermint/chatforge/config"
	"github.com/rivermint/chatforge/internal/apperror"
	"github.com/rivermint/chatforge/promptcompose"
	"github.com/rivermint/chatforge/store"
)

// volcengineAdapter implements Adapter over the Ark runtime SDK. Volcengine's
// Ark endpoints (Doubao models) expose a materially different request/auth
// shape than the generic OpenAI-compatible surface — a distinct model
// package with its own streamed tool-call accumulation rules — so it gets
// its own adapter rather than being folded into openAIAdapter, grounded on
// the xyzj/llm chat package's doStream/do pair.
type volcengineAdapter struct {
	client  *arkruntime.Client
	model   string
	timeout time.Duration
}

func newVolcengineAdapter(cfg config.ChatProviderConfig, timeout time.Duration) *volcengineAdapter {
	// Ark resolves its endpoint from the api key's account region by default;
	// the teacher's only usage (xyzj/llm chat.New) never overrides it, so
	// base_url is accepted in config for documentation purposes but not
	// threaded through here absent a verified client option for it.
	return &volcengineAdapter{
		client:  arkruntime.NewClientWithApiKey(cfg.APIKey),
		model:   cfg.ModelName,
		timeout: timeout,
	}
}

func toArkMessages(messages []Message) []*arkmodel.ChatCompletionMessage {
	out := make([]*arkmodel.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, toArkMessage(m))
	}
	return out
}

func toArkRole(r store.Role) string {
	switch r {
	case store.RoleSystem:
		return arkmodel.ChatMessageRoleSystem
	case store.RoleAssistant:
		return arkmodel.ChatMessageRoleAssistant
	case store.RoleTool:
		return arkmodel.ChatMessageRoleTool
	default:
		return arkmodel.ChatMessageRoleUser
	}
}

func toArkMessage(m Message) *arkmodel.ChatCompletionMessage {
	var text strings.Builder
	for _, part := range m.Content {
		if t, ok := part.(store.Text); ok {
			text.WriteString(t.TextValue)
		}
	}

	out := &arkmodel.ChatCompletionMessage{
		Role: toArkRole(m.Role),
		Content: &arkmodel.ChatCompletionMessageContent{
			StringValue: volcengine.String(text.String()),
		},
		ToolCallID: m.ToolCallID,
	}

	if len(m.ToolCalls) > 0 {
		out.ToolCalls = make([]*arkmodel.ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = &arkmodel.ToolCall{
				ID:       tc.ID,
				Type:     arkmodel.ToolTypeFunction,
				Function: arkmodel.FunctionCall{Name: tc.Name, Arguments: string(tc.Args)},
			}
		}
	}
	return out
}

func toArkTools(tools []promptcompose.ToolSchema) []*arkmodel.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]*arkmodel.Tool, len(tools))
	for i, t := range tools {
		params, _ := json.Marshal(t.InputSchema)
		out[i] = &arkmodel.Tool{
			Type: arkmodel.ToolTypeFunction,
			Function: &arkmodel.FunctionDefinition{
				Name:        t.QualifiedName(),
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

func (a *volcengineAdapter) buildRequest(req Request) arkmodel.CreateChatCompletionRequest {
	out := arkmodel.CreateChatCompletionRequest{
		Model:    a.model,
		Messages: toArkMessages(req.Messages),
		Tools:    toArkTools(req.Tools),
	}
	if req.Params.Temperature != nil {
		out.Temperature = *req.Params.Temperature
	}
	if req.Params.TopP != nil {
		out.TopP = *req.Params.TopP
	}
	if req.Params.MaxTokens > 0 {
		out.MaxTokens = req.Params.MaxTokens
	}
	return out
}

// arkToolCallAccumulator mirrors the xyzj/llm chat package's doStream
// accumulation rule: a tool-call delta with a non-empty ID starts a new
// call; one with an empty ID continues filling the most recently started
// call's arguments.
type arkToolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

func (a *volcengineAdapter) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		arkReq := a.buildRequest(req)
		streamFlag := true
		arkReq.Stream = &streamFlag

		events <- Event{Kind: EventStart}

		stream, err := a.client.CreateChatCompletionStream(ctx, arkReq)
		if err != nil {
			events <- Event{Kind: EventError, Err: normalizeArkError(err)}
			return
		}
		defer func() { _ = stream.Close() }()

		end, sawText, err := a.drainStream(ctx, stream, events)
		if err != nil {
			events <- Event{Kind: EventError, Err: normalizeArkError(err)}
			return
		}
		if sawText {
			events <- Event{Kind: EventEnd, End: end}
			return
		}

		falseFlag := false
		arkReq.Stream = &falseFlag
		fallbackEnd, err := a.nonStreamingFallback(ctx, arkReq)
		if err != nil {
			events <- Event{Kind: EventError, Err: normalizeArkError(err)}
			return
		}
		events <- Event{Kind: EventEnd, End: fallbackEnd}
	}()

	return events, nil
}

func (a *volcengineAdapter) drainStream(ctx context.Context, stream *arkruntime.ChatCompletionStream, events chan<- Event) (*EndEvent, bool, error) {
	var text strings.Builder
	calls := map[string]*arkToolCallAccumulator{}
	var order []string
	var lastCallID string

	for !stream.IsFinished {
		recv, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, false, err
		}
		if len(recv.Choices) == 0 {
			continue
		}
		delta := recv.Choices[0].Delta

		if delta.Role == arkmodel.ChatMessageRoleAssistant && delta.Content != "" {
			text.WriteString(delta.Content)
			select {
			case events <- Event{Kind: EventChunk, Chunk: delta.Content}:
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}

		for _, tc := range delta.ToolCalls {
			if tc.ID != "" {
				if _, ok := calls[tc.ID]; !ok {
					calls[tc.ID] = &arkToolCallAccumulator{id: tc.ID, name: tc.Function.Name}
					order = append(order, tc.ID)
				}
				lastCallID = tc.ID
				calls[tc.ID].args.WriteString(tc.Function.Arguments)
			} else if lastCallID != "" {
				calls[lastCallID].args.WriteString(tc.Function.Arguments)
			}
		}
	}

	if text.Len() == 0 && len(order) == 0 {
		return nil, false, nil
	}

	captured := make([]ToolCallEvent, 0, len(order))
	for _, id := range order {
		acc := calls[id]
		captured = append(captured, ToolCallEvent{ID: acc.id, Name: acc.name, Args: json.RawMessage(acc.args.String())})
	}
	var texts []string
	if text.Len() > 0 {
		texts = []string{text.String()}
	}
	return &EndEvent{CapturedTexts: texts, CapturedToolCalls: captured}, true, nil
}

func (a *volcengineAdapter) nonStreamingFallback(ctx context.Context, req arkmodel.CreateChatCompletionRequest) (*EndEvent, error) {
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, apperror.InternalError("empty response from provider", nil)
	}

	choice := resp.Choices[0]
	var texts []string
	if choice.Message.Content != nil && choice.Message.Content.StringValue != nil {
		texts = []string{*choice.Message.Content.StringValue}
	}

	var toolCalls []ToolCallEvent
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCallEvent{ID: tc.ID, Name: tc.Function.Name, Args: json.RawMessage(tc.Function.Arguments)})
	}

	usage := store.TokenUsage{}
	if resp.Usage != nil {
		usage = store.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return &EndEvent{CapturedTexts: texts, CapturedToolCalls: toolCalls, Usage: usage}, nil
}

// GenerateImage is not implemented for Ark: no example in the pack exercises
// Ark's image-generation surface, and its request/response shape is not the
// OpenAI-compatible one this codebase otherwise standardises on. Image
// generation mode should be bound to an openai-kind provider.
func (a *volcengineAdapter) GenerateImage(ctx context.Context, prompt string) ([]byte, string, error) {
	return nil, "", apperror.InternalError("image generation is not supported for the volcengine provider kind", nil)
}

func normalizeArkError(err error) *apperror.Error {
	if err == nil {
		return nil
	}
	return apperror.ProviderError(err.Error(), 0, err)
}
