package store

import (
	"encoding/json"
	"time"
)

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Chat is a single conversation thread, owned by one subject and optionally
// bound to an assistant persona.
type Chat struct {
	ID             string
	OwnerID        string
	TitleBySummary string
	ArchivedAt     *time.Time
	AssistantID    string
	ChatProviderID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateChat is the input to create a new Chat row.
type CreateChat struct {
	OwnerID        string
	AssistantID    string
	ChatProviderID string
}

// GenerationParameters are the generation options sent with a provider request.
type GenerationParameters struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"top_p,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty"`
	Verbosity       string   `json:"verbosity,omitempty"`
	MaxTokens       int      `json:"max_tokens,omitempty"`
}

// TokenUsage accumulates token counts for one generation.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens,omitempty"`
}

// GenerationMetadata is the shallow-mergeable bag of facts recorded about a generation.
type GenerationMetadata struct {
	TraceID    string      `json:"trace_id,omitempty"`
	ProviderID string      `json:"provider_id,omitempty"`
	ModelName  string      `json:"model_name,omitempty"`
	Usage      *TokenUsage `json:"usage,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrorKind  string      `json:"error_kind,omitempty"`
}

// GenerationInputMessage is one element of the persisted, unresolved sequence
// submitted to the provider for a generation (spec §4.4). It is serialised
// exactly as composed, pointers and all, so a later turn can replay it
// without re-deriving system/assistant prompt state.
type GenerationInputMessage struct {
	Role    Role         `json:"role"`
	Content ContentParts `json:"content"`
}

// Message is one node of a chat's message DAG.
type Message struct {
	ID                       string
	ChatID                   string
	Role                     Role
	Content                  ContentParts
	PreviousMessageID        string
	SiblingMessageID         string
	IsInActiveThread         bool
	InputFileIDs             []string
	GenerationInputMessages  []GenerationInputMessage
	GenerationParameters     *GenerationParameters
	GenerationMetadata       *GenerationMetadata
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// SubmitMessage is the input to submit_message (spec §4.1).
type SubmitMessage struct {
	ChatID                  string
	Role                    Role
	Content                 ContentParts
	PreviousMessageID       string
	SiblingMessageID        string
	GenerationInputMessages []GenerationInputMessage
	InputFileIDs            []string
	GenerationParameters    *GenerationParameters
	GenerationMetadata      *GenerationMetadata
}

// FileUpload is a stored blob's metadata; blob bytes themselves live behind the
// BlobStore external collaborator interface (fileresolver package).
type FileUpload struct {
	ID                 string
	OwnerID            string
	ChatID             string // empty = standalone, attachable to assistants
	Filename           string
	StorageProviderID  string
	StoragePath        string
	CreatedAt          time.Time
}

// CreateFileUpload is the input to register a newly-stored blob.
type CreateFileUpload struct {
	OwnerID           string
	ChatID            string
	Filename          string
	StorageProviderID string
	StoragePath       string
}

// Assistant is a reusable persona: a system prompt plus tool and file attachments.
type Assistant struct {
	ID               string
	OwnerID          string
	Name             string
	Prompt           string
	MCPServerIDs     []string // nil = all MCP servers allowed
	DefaultProviderID string
	FileIDs          []string
	Archived         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreateAssistant is the input to create an Assistant.
type CreateAssistant struct {
	OwnerID           string
	Name              string
	Prompt            string
	MCPServerIDs      []string
	DefaultProviderID string
	FileIDs           []string
}

// UpdateAssistant patches an existing Assistant; nil fields are left unchanged.
type UpdateAssistant struct {
	ID                string
	Name              *string
	Prompt            *string
	MCPServerIDs      *[]string
	DefaultProviderID *string
	FileIDs           *[]string
	Archived          *bool
}

// ShareGrantResourceKind is the kind of resource a ShareGrant applies to.
type ShareGrantResourceKind string

const (
	ShareGrantResourceChat      ShareGrantResourceKind = "chat"
	ShareGrantResourceAssistant ShareGrantResourceKind = "assistant"
)

// ShareGrantSubjectKind is the kind of subject a ShareGrant applies to.
type ShareGrantSubjectKind string

const (
	ShareGrantSubjectUser      ShareGrantSubjectKind = "user"
	ShareGrantSubjectGroup     ShareGrantSubjectKind = "group"
	ShareGrantSubjectOrgGroup  ShareGrantSubjectKind = "org_group"
)

// ShareGrantRole is the access level a grant confers.
type ShareGrantRole string

const (
	ShareGrantRoleViewer ShareGrantRole = "viewer"
	ShareGrantRoleEditor ShareGrantRole = "editor"
	ShareGrantRoleOwner  ShareGrantRole = "owner"
)

// ShareGrant extends access to a resource to a subject; consumed as a flat
// list by the Policy Cache.
type ShareGrant struct {
	ID           string
	ResourceID   string
	ResourceKind ShareGrantResourceKind
	SubjectID    string
	SubjectKind  ShareGrantSubjectKind
	Role         ShareGrantRole
	CreatedAt    time.Time
}

// CreateShareGrant is the input to create a ShareGrant.
type CreateShareGrant struct {
	ResourceID   string
	ResourceKind ShareGrantResourceKind
	SubjectID    string
	SubjectKind  ShareGrantSubjectKind
	Role         ShareGrantRole
}

// FeedbackRating is a thumbs up/down verdict on an assistant message.
type FeedbackRating string

const (
	FeedbackRatingUp   FeedbackRating = "up"
	FeedbackRatingDown FeedbackRating = "down"
)

// MessageFeedback is a subject's rating of one assistant message.
// Grounded on the teacher's router_feedback.go shape (subject id, rating,
// optional free-text comment, timestamp) generalized from its chat-app
// routing domain to ours.
type MessageFeedback struct {
	ID        string
	MessageID string
	SubjectID string
	Rating    FeedbackRating
	Comment   string
	CreatedAt time.Time
}

// CreateMessageFeedback is the input to record feedback on a message.
type CreateMessageFeedback struct {
	MessageID string
	SubjectID string
	Rating    FeedbackRating
	Comment   string
}

// Facet is a user-selectable overlay that narrows tool availability and
// overrides model settings without changing the bound assistant (glossary: Facet).
type Facet struct {
	ID                string
	DisplayName       string
	ToolCallAllowlist []string
	ModelSettings     GenerationParameters
}

// GenerationTrace is the non-telemetry subset of a generation's identity;
// full telemetry sinks are an external collaborator, out of scope. No
// component builds one or sets GenerationMetadata.TraceID.
type GenerationTrace struct {
	TraceID    string
	ProviderID string
	ModelName  string
	StartedAt  time.Time
}

// MarshalMetadata serialises m for storage in a generation_metadata column.
func (m *GenerationMetadata) MarshalMetadata() (json.RawMessage, error) {
	if m == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
