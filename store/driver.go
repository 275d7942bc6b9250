package store

import "context"

// Driver is the persistence backend contract implemented by store/db/postgres
// and store/db/sqlite. Store delegates every operation to a Driver instance;
// the active-thread DAG recomputation (spec §4.1) is the Driver's
// responsibility because it must run inside the same transaction as the
// message insert.
type Driver interface {
	Close() error
	Migrate(ctx context.Context) error

	// Chat
	CreateChat(ctx context.Context, create *CreateChat) (*Chat, error)
	GetChat(ctx context.Context, id string) (*Chat, error)
	UpdateChatTitle(ctx context.Context, id, title string) error
	ArchiveChat(ctx context.Context, id string) error
	ListArchivedChatsOlderThan(ctx context.Context, cutoffSeconds int64) ([]*Chat, error)
	DeleteChat(ctx context.Context, id string) error

	// Message
	SubmitMessage(ctx context.Context, submit *SubmitMessage) (*Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetChatMessages(ctx context.Context, chatID string, limit, offset int) ([]*Message, int, error)
	GetHistoryByPrevious(ctx context.Context, prevID string, maxN int) ([]*Message, error)
	UpdateMessageContent(ctx context.Context, id string, content ContentParts) (*Message, error)
	UpdateGenerationMetadata(ctx context.Context, id string, meta *GenerationMetadata) (*Message, error)
	ListIncompleteAssistantMessages(ctx context.Context) ([]*Message, error)

	// FileUpload
	CreateFileUpload(ctx context.Context, create *CreateFileUpload) (*FileUpload, error)
	GetFileUpload(ctx context.Context, id string) (*FileUpload, error)
	ListFileUploadsByIDs(ctx context.Context, ids []string) ([]*FileUpload, error)

	// Assistant
	CreateAssistant(ctx context.Context, create *CreateAssistant) (*Assistant, error)
	GetAssistant(ctx context.Context, id string) (*Assistant, error)
	UpdateAssistant(ctx context.Context, update *UpdateAssistant) (*Assistant, error)
	ListAssistantsByOwner(ctx context.Context, ownerID string) ([]*Assistant, error)

	// ShareGrant
	CreateShareGrant(ctx context.Context, create *CreateShareGrant) (*ShareGrant, error)
	ListShareGrants(ctx context.Context) ([]*ShareGrant, error)
	DeleteShareGrant(ctx context.Context, id string) error

	// MessageFeedback
	CreateMessageFeedback(ctx context.Context, create *CreateMessageFeedback) (*MessageFeedback, error)
	ListMessageFeedback(ctx context.Context, messageID string) ([]*MessageFeedback, error)

	// PolicyProjection backs the Policy Cache snapshot rebuild: chat/assistant
	// ownership plus the flat ShareGrant list, in one call.
	PolicyProjection(ctx context.Context) (*PolicyProjection, error)
}

// PolicyProjection is the attribute set the Policy Cache snapshot is built from.
type PolicyProjection struct {
	ChatOwners       map[string]string // chat id -> owner id
	AssistantOwners  map[string]string // assistant id -> owner id
	ShareGrants      []*ShareGrant
}
