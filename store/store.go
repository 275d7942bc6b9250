// Package store persists chats, messages, file uploads, assistants, share
// grants and message feedback, and enforces the message-DAG invariants
// (spec §3, §4.1). Grounded on the teacher's store.Store: a thin delegator
// over a Driver interface, implemented by a postgres and a sqlite backend.
package store

import (
	"context"

	"github.com/rivermint/chatforge/internal/profile"
)

// Store provides persistence access to every row kind the chat orchestration
// core manages.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New wraps driver as a Store bound to profile.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{driver: driver, profile: profile}
}

func (s *Store) Driver() Driver { return s.driver }

func (s *Store) Close() error { return s.driver.Close() }

func (s *Store) Migrate(ctx context.Context) error { return s.driver.Migrate(ctx) }

// Chat

func (s *Store) CreateChat(ctx context.Context, create *CreateChat) (*Chat, error) {
	return s.driver.CreateChat(ctx, create)
}

func (s *Store) GetChat(ctx context.Context, id string) (*Chat, error) {
	return s.driver.GetChat(ctx, id)
}

func (s *Store) UpdateChatTitle(ctx context.Context, id, title string) error {
	return s.driver.UpdateChatTitle(ctx, id, title)
}

func (s *Store) ArchiveChat(ctx context.Context, id string) error {
	return s.driver.ArchiveChat(ctx, id)
}

func (s *Store) ListArchivedChatsOlderThan(ctx context.Context, cutoffSeconds int64) ([]*Chat, error) {
	return s.driver.ListArchivedChatsOlderThan(ctx, cutoffSeconds)
}

func (s *Store) DeleteChat(ctx context.Context, id string) error {
	return s.driver.DeleteChat(ctx, id)
}

// Message

func (s *Store) SubmitMessage(ctx context.Context, submit *SubmitMessage) (*Message, error) {
	return s.driver.SubmitMessage(ctx, submit)
}

func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	return s.driver.GetMessage(ctx, id)
}

func (s *Store) GetChatMessages(ctx context.Context, chatID string, limit, offset int) ([]*Message, int, error) {
	return s.driver.GetChatMessages(ctx, chatID, limit, offset)
}

func (s *Store) GetHistoryByPrevious(ctx context.Context, prevID string, maxN int) ([]*Message, error) {
	return s.driver.GetHistoryByPrevious(ctx, prevID, maxN)
}

func (s *Store) UpdateMessageContent(ctx context.Context, id string, content ContentParts) (*Message, error) {
	return s.driver.UpdateMessageContent(ctx, id, content)
}

func (s *Store) UpdateGenerationMetadata(ctx context.Context, id string, meta *GenerationMetadata) (*Message, error) {
	return s.driver.UpdateGenerationMetadata(ctx, id, meta)
}

func (s *Store) ListIncompleteAssistantMessages(ctx context.Context) ([]*Message, error) {
	return s.driver.ListIncompleteAssistantMessages(ctx)
}

// FileUpload

func (s *Store) CreateFileUpload(ctx context.Context, create *CreateFileUpload) (*FileUpload, error) {
	return s.driver.CreateFileUpload(ctx, create)
}

func (s *Store) GetFileUpload(ctx context.Context, id string) (*FileUpload, error) {
	return s.driver.GetFileUpload(ctx, id)
}

func (s *Store) ListFileUploadsByIDs(ctx context.Context, ids []string) ([]*FileUpload, error) {
	return s.driver.ListFileUploadsByIDs(ctx, ids)
}

// Assistant

func (s *Store) CreateAssistant(ctx context.Context, create *CreateAssistant) (*Assistant, error) {
	return s.driver.CreateAssistant(ctx, create)
}

func (s *Store) GetAssistant(ctx context.Context, id string) (*Assistant, error) {
	return s.driver.GetAssistant(ctx, id)
}

func (s *Store) UpdateAssistant(ctx context.Context, update *UpdateAssistant) (*Assistant, error) {
	return s.driver.UpdateAssistant(ctx, update)
}

func (s *Store) ListAssistantsByOwner(ctx context.Context, ownerID string) ([]*Assistant, error) {
	return s.driver.ListAssistantsByOwner(ctx, ownerID)
}

// ShareGrant

func (s *Store) CreateShareGrant(ctx context.Context, create *CreateShareGrant) (*ShareGrant, error) {
	return s.driver.CreateShareGrant(ctx, create)
}

func (s *Store) ListShareGrants(ctx context.Context) ([]*ShareGrant, error) {
	return s.driver.ListShareGrants(ctx)
}

func (s *Store) DeleteShareGrant(ctx context.Context, id string) error {
	return s.driver.DeleteShareGrant(ctx, id)
}

// MessageFeedback

func (s *Store) CreateMessageFeedback(ctx context.Context, create *CreateMessageFeedback) (*MessageFeedback, error) {
	return s.driver.CreateMessageFeedback(ctx, create)
}

func (s *Store) ListMessageFeedback(ctx context.Context, messageID string) ([]*MessageFeedback, error) {
	return s.driver.ListMessageFeedback(ctx, messageID)
}

// PolicyProjection

func (s *Store) PolicyProjection(ctx context.Context) (*PolicyProjection, error) {
	return s.driver.PolicyProjection(ctx)
}
