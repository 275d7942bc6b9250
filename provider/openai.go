package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/rivermint/chatforge/config"
	"github.com/rivermint/chatforge/internal/apperror"
	"github.com/rivermint/chatforge/store"
)

// openAIAdapter implements Adapter over go-openai for every provider kind
// that exposes an OpenAI-compatible chat-completions surface: openai, azure,
// vertex, deepseek, siliconflow, zai, dashscope, openrouter, ollama, and any
// unrecognised kind (treated as a generic OpenAI-compatible endpoint, per
// the teacher's default branch in ai/core/llm/service.go).
type openAIAdapter struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func newOpenAIAdapter(cfg config.ChatProviderConfig, timeout time.Duration) (*openAIAdapter, error) {
	httpClient := newHTTPClient(timeout)
	clientConfig, err := buildClientConfig(cfg, httpClient)
	if err != nil {
		return nil, err
	}
	return &openAIAdapter{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.ModelName,
		timeout: timeout,
	}, nil
}

func (a *openAIAdapter) buildRequest(req Request) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: toOpenAIMessages(req.Messages),
		Tools:    toOpenAITools(req.Tools),
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
	if req.Params.ReasoningEffort != "" {
		out.ReasoningEffort = req.Params.ReasoningEffort
	}
	return out
}

func (a *openAIAdapter) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		chatReq := a.buildRequest(req)
		chatReq.Stream = true
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

		events <- Event{Kind: EventStart}

		stream, err := a.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			events <- Event{Kind: EventError, Err: normalizeError(err)}
			return
		}
		defer func() { _ = stream.Close() }()

		end, sawEnd, err := a.drainStream(ctx, stream, events)
		if err != nil {
			events <- Event{Kind: EventError, Err: normalizeError(err)}
			return
		}
		if sawEnd {
			events <- Event{Kind: EventEnd, End: end}
			return
		}

		// The stream closed with no finish reason and no error: re-issue as a
		// non-streaming call to fish out the actual failure (spec §4.5).
		fallbackEnd, err := a.nonStreamingFallback(ctx, chatReq)
		if err != nil {
			events <- Event{Kind: EventError, Err: normalizeError(err)}
			return
		}
		events <- Event{Kind: EventEnd, End: fallbackEnd}
	}()

	return events, nil
}

// toolCallAccumulator assembles one tool call's streamed argument fragments,
// keyed by the provider's per-call index (spec §4.7 tool-call plumbing).
type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

func (a *openAIAdapter) drainStream(ctx context.Context, stream *openai.ChatCompletionStream, events chan<- Event) (*EndEvent, bool, error) {
	var text strings.Builder
	calls := map[int]*toolCallAccumulator{}
	var order []int
	var usage store.TokenUsage

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, false, nil
			}
			return nil, false, err
		}

		if resp.Usage != nil {
			usage = store.TokenUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			select {
			case events <- Event{Kind: EventChunk, Chunk: choice.Delta.Content}:
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := calls[idx]
			if !ok {
				acc = &toolCallAccumulator{}
				calls[idx] = acc
				order = append(order, idx)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			captured := make([]ToolCallEvent, 0, len(order))
			for _, idx := range order {
				acc := calls[idx]
				captured = append(captured, ToolCallEvent{ID: acc.id, Name: acc.name, Args: json.RawMessage(acc.args.String())})
			}
			var texts []string
			if text.Len() > 0 {
				texts = []string{text.String()}
			}
			return &EndEvent{CapturedTexts: texts, CapturedToolCalls: captured, Usage: usage}, true, nil
		}
	}
}

func (a *openAIAdapter) nonStreamingFallback(ctx context.Context, req openai.ChatCompletionRequest) (*EndEvent, error) {
	req.Stream = false
	req.StreamOptions = nil

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty response from provider")
	}

	choice := resp.Choices[0]
	var toolCalls []ToolCallEvent
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCallEvent{ID: tc.ID, Name: tc.Function.Name, Args: json.RawMessage(tc.Function.Arguments)})
	}
	var texts []string
	if choice.Message.Content != "" {
		texts = []string{choice.Message.Content}
	}

	return &EndEvent{
		CapturedTexts:     texts,
		CapturedToolCalls: toolCalls,
		Usage: store.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (a *openAIAdapter) GenerateImage(ctx context.Context, prompt string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateImage(ctx, openai.ImageRequest{
		Model:          a.model,
		Prompt:         prompt,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, "", normalizeError(err)
	}
	if len(resp.Data) == 0 {
		return nil, "", apperror.InternalError("empty image response from provider", nil)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, "", apperror.InternalError("decode image response", err)
	}
	return data, "image/png", nil
}
