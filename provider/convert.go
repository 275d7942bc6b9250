package provider

import (
	"github.com/sashabaranov/go-openai"

	"github.com/rivermint/chatforge/promptcompose"
	"github.com/rivermint/chatforge/store"
)

func toOpenAIRole(r store.Role) string {
	switch r {
	case store.RoleSystem:
		return openai.ChatMessageRoleSystem
	case store.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case store.RoleTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}

// toOpenAIMessages flattens the outbound turn into the wire shape go-openai
// expects, splitting text/image parts into MultiContent when a message
// carries an inline image (spec §4.4 resolved form), and attaching tool-call
// proposals/responses per spec §4.7.
func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, toOpenAIMessage(m))
	}
	return out
}

func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	role := toOpenAIRole(m.Role)

	msg := openai.ChatCompletionMessage{Role: role, ToolCallID: m.ToolCallID}

	hasImage := false
	for _, part := range m.Content {
		if _, ok := part.(store.Image); ok {
			hasImage = true
			break
		}
	}

	if hasImage {
		multi := make([]openai.ChatMessagePart, 0, len(m.Content))
		for _, part := range m.Content {
			switch p := part.(type) {
			case store.Text:
				multi = append(multi, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.TextValue})
			case store.Image:
				multi = append(multi, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: "data:" + p.MIME + ";base64," + p.Base64,
					},
				})
			}
		}
		msg.MultiContent = multi
	} else {
		var text string
		for _, part := range m.Content {
			if t, ok := part.(store.Text); ok {
				text += t.TextValue
			}
		}
		msg.Content = text
	}

	if len(m.ToolCalls) > 0 {
		msg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			msg.ToolCalls[i] = openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Args),
				},
			}
		}
	}

	return msg
}

func toOpenAITools(tools []promptcompose.ToolSchema) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.QualifiedName(),
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		}
	}
	return out
}
