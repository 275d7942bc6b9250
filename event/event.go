// Package event defines the SSE event tags and payload shapes emitted by a
// generation (spec §6) and carried, unmodified, through the Broadcast Hub's
// history buffer and live channel so replayed and live delivery are framed
// identically (spec §4.8).
package event

import (
	"bytes"
	"encoding/json"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/rivermint/chatforge/store"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Tag is the `event:` line of one SSE frame.
type Tag string

const (
	TagChatCreated               Tag = "chat_created"
	TagUserMessageSaved          Tag = "user_message_saved"
	TagAssistantMessageStarted   Tag = "assistant_message_started"
	TagTextDelta                 Tag = "text_delta"
	TagToolCallProposed          Tag = "tool_call_proposed"
	TagToolCallUpdate            Tag = "tool_call_update"
	TagAssistantMessageCompleted Tag = "assistant_message_completed"
	TagError                     Tag = "error"
	TagStreamEnd                 Tag = "stream_end"
)

// Event is one broadcast element: a tag plus its JSON `data` payload.
// Data is one of the *Data structs below, pre-marshalled at construction so a
// history snapshot can be replayed without re-deriving it from domain state.
type Event struct {
	Tag  Tag             `json:"-"`
	Data json.RawMessage `json:"-"`
}

func build(tag Tag, data any) Event {
	raw, err := jsonAPI.Marshal(data)
	if err != nil {
		// Every *Data struct here is a plain value type; a marshal failure
		// would be a programmer error, not a runtime condition to recover from.
		panic("event: marshal " + string(tag) + ": " + err.Error())
	}
	return Event{Tag: tag, Data: raw}
}

// ChatCreatedData is the chat_created payload.
type ChatCreatedData struct {
	ChatID string `json:"chat_id"`
}

func ChatCreated(chatID string) Event {
	return build(TagChatCreated, ChatCreatedData{ChatID: chatID})
}

// UserMessageSavedData is the user_message_saved payload.
type UserMessageSavedData struct {
	MessageID string       `json:"message_id"`
	Message   *MessageView `json:"message"`
}

func UserMessageSaved(messageID string, msg *MessageView) Event {
	return build(TagUserMessageSaved, UserMessageSavedData{MessageID: messageID, Message: msg})
}

// AssistantMessageStartedData is the assistant_message_started payload.
type AssistantMessageStartedData struct {
	MessageID string `json:"message_id"`
}

func AssistantMessageStarted(messageID string) Event {
	return build(TagAssistantMessageStarted, AssistantMessageStartedData{MessageID: messageID})
}

// TextDeltaData is the text_delta payload.
type TextDeltaData struct {
	MessageID    string `json:"message_id"`
	ContentIndex int    `json:"content_index"`
	NewText      string `json:"new_text"`
}

func TextDelta(messageID string, contentIndex int, newText string) Event {
	return build(TagTextDelta, TextDeltaData{MessageID: messageID, ContentIndex: contentIndex, NewText: newText})
}

// ToolCallProposedData is the tool_call_proposed payload.
type ToolCallProposedData struct {
	MessageID    string          `json:"message_id"`
	ContentIndex int             `json:"content_index"`
	ToolCallID   string          `json:"tool_call_id"`
	ToolName     string          `json:"tool_name"`
	Input        json.RawMessage `json:"input"`
}

func ToolCallProposed(messageID string, contentIndex int, toolCallID, toolName string, input json.RawMessage) Event {
	return build(TagToolCallProposed, ToolCallProposedData{
		MessageID: messageID, ContentIndex: contentIndex,
		ToolCallID: toolCallID, ToolName: toolName, Input: input,
	})
}

// ToolCallUpdateData is the tool_call_update payload.
type ToolCallUpdateData struct {
	MessageID       string              `json:"message_id"`
	ContentIndex    int                 `json:"content_index"`
	ToolCallID      string              `json:"tool_call_id"`
	ToolName        string              `json:"tool_name"`
	Input           json.RawMessage     `json:"input"`
	Status          store.ToolUseStatus `json:"status"`
	ProgressMessage string              `json:"progress_message,omitempty"`
	Output          string              `json:"output,omitempty"`
}

func ToolCallUpdate(d ToolCallUpdateData) Event {
	return build(TagToolCallUpdate, d)
}

// AssistantMessageCompletedData is the assistant_message_completed payload.
type AssistantMessageCompletedData struct {
	MessageID string             `json:"message_id"`
	Content   store.ContentParts `json:"content"`
	Message   *MessageView       `json:"message"`
}

func AssistantMessageCompleted(messageID string, content store.ContentParts, msg *MessageView) Event {
	return build(TagAssistantMessageCompleted, AssistantMessageCompletedData{
		MessageID: messageID, Content: content, Message: msg,
	})
}

// ErrorData is the error payload. MessageID is empty when the failure
// occurs before an assistant message row exists.
type ErrorData struct {
	MessageID        string `json:"message_id,omitempty"`
	ErrorKind        string `json:"error_kind"`
	ErrorDescription string `json:"error_description"`
}

func Error(messageID string, kind, description string) Event {
	return build(TagError, ErrorData{MessageID: messageID, ErrorKind: kind, ErrorDescription: description})
}

// StreamEnd is the terminal event of every generation's stream.
func StreamEnd() Event {
	return build(TagStreamEnd, struct{}{})
}

// MessageView is the client-facing projection of a store.Message: resolved
// image URLs, and none of the generation-internal bookkeeping fields
// (GenerationInputMessages, GenerationParameters) a client has no use for.
type MessageView struct {
	ID                string             `json:"id"`
	ChatID            string             `json:"chat_id"`
	Role              store.Role         `json:"role"`
	Content           store.ContentParts `json:"content"`
	PreviousMessageID string             `json:"previous_message_id,omitempty"`
	SiblingMessageID  string             `json:"sibling_message_id,omitempty"`
	IsInActiveThread  bool               `json:"is_in_active_thread"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// NewMessageView projects msg for client consumption, re-signing any image
// pointers via sign (store.RegenerateImageURLs; nil sign leaves URLs as-is,
// used in tests where no storage provider is wired).
func NewMessageView(msg *store.Message, sign store.URLSigner) (*MessageView, error) {
	content := msg.Content
	if sign != nil {
		resigned, err := store.RegenerateImageURLs(msg.Content, sign)
		if err != nil {
			return nil, err
		}
		content = resigned
	}
	return &MessageView{
		ID:                msg.ID,
		ChatID:            msg.ChatID,
		Role:              msg.Role,
		Content:           content,
		PreviousMessageID: msg.PreviousMessageID,
		SiblingMessageID:  msg.SiblingMessageID,
		IsInActiveThread:  msg.IsInActiveThread,
		CreatedAt:         msg.CreatedAt,
		UpdatedAt:         msg.UpdatedAt,
	}, nil
}

// EncodeSSE renders e as one `event: <tag>\ndata: <json>\n\n` frame, the
// shape both the live subscribe path and the history-replay path write
// (spec §4.9), so a client can't distinguish a replayed event from a live one.
func (e Event) EncodeSSE() []byte {
	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(string(e.Tag))
	buf.WriteString("\ndata: ")
	buf.Write(e.Data)
	buf.WriteString("\n\n")
	return buf.Bytes()
}
