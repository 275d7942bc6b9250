package provider

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivermint/chatforge/internal/apperror"
	"github.com/rivermint/chatforge/store"
)

func TestToOpenAIMessageTextOnly(t *testing.T) {
	msg := toOpenAIMessage(Message{
		Role:    store.RoleUser,
		Content: store.ContentParts{store.Text{TextValue: "hello"}},
	})
	assert.Equal(t, openai.ChatMessageRoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Content)
	assert.Nil(t, msg.MultiContent)
}

func TestToOpenAIMessageWithImageUsesMultiContent(t *testing.T) {
	msg := toOpenAIMessage(Message{
		Role: store.RoleUser,
		Content: store.ContentParts{
			store.Text{TextValue: "what is this"},
			store.Image{MIME: "image/png", Base64: "YWJj"},
		},
	})
	require.Len(t, msg.MultiContent, 2)
	assert.Equal(t, openai.ChatMessagePartTypeText, msg.MultiContent[0].Type)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, msg.MultiContent[1].Type)
	assert.Equal(t, "data:image/png;base64,YWJj", msg.MultiContent[1].ImageURL.URL)
}

func TestToOpenAIMessageCarriesToolCallsAndToolCallID(t *testing.T) {
	msg := toOpenAIMessage(Message{
		Role:      store.RoleAssistant,
		ToolCalls: []ToolCallRequest{{ID: "call_1", Name: "srv1/search", Args: []byte(`{"q":"go"}`)}},
	})
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "srv1/search", msg.ToolCalls[0].Function.Name)

	toolMsg := toOpenAIMessage(Message{Role: store.RoleTool, ToolCallID: "call_1", Content: store.ContentParts{store.Text{TextValue: "42"}}})
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Equal(t, openai.ChatMessageRoleTool, toolMsg.Role)
}

func TestNormalizeErrorContentFilter(t *testing.T) {
	err := &openai.APIError{Code: "content_filter", Message: "blocked"}
	normalized := normalizeError(err)
	assert.Equal(t, apperror.KindContentFilter, normalized.Kind)
	assert.Equal(t, "blocked", normalized.Description)
}

func TestNormalizeErrorAPIErrorBecomesProviderError(t *testing.T) {
	err := &openai.APIError{Code: "rate_limit_exceeded", Message: "slow down", HTTPStatusCode: 429}
	normalized := normalizeError(err)
	assert.Equal(t, apperror.KindProviderError, normalized.Kind)
	assert.Equal(t, 429, normalized.Status)
}

func TestNormalizeErrorRequestErrorHasNoStatus(t *testing.T) {
	err := &openai.RequestError{HTTPStatusCode: 0, Err: assert.AnError}
	normalized := normalizeError(err)
	assert.Equal(t, apperror.KindProviderError, normalized.Kind)
	assert.Equal(t, 0, normalized.Status)
}

func TestNormalizeErrorOtherBecomesInternalError(t *testing.T) {
	normalized := normalizeError(assert.AnError)
	assert.Equal(t, apperror.KindInternalError, normalized.Kind)
}

func TestRewriteVertexBaseURLAppendsSuffixOnce(t *testing.T) {
	assert.Equal(t,
		"https://us-central1-aiplatform.googleapis.com/v1beta1/projects/p/locations/us-central1/endpoints/openapi",
		rewriteVertexBaseURL("https://us-central1-aiplatform.googleapis.com/v1beta1/projects/p/locations/us-central1"))

	idempotent := "https://host/endpoints/openapi"
	assert.Equal(t, idempotent, rewriteVertexBaseURL(idempotent+"/"))
}
