package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rivermint/chatforge/event"
	"github.com/rivermint/chatforge/fileresolver"
	"github.com/rivermint/chatforge/generation"
	"github.com/rivermint/chatforge/internal/apperror"
	"github.com/rivermint/chatforge/internal/idgen"
	"github.com/rivermint/chatforge/policy"
	"github.com/rivermint/chatforge/store"
)

// submitRequest is the /messages/submitstream body (spec §6).
type submitRequest struct {
	PreviousMessageID string   `json:"previous_message_id"`
	ExistingChatID    string   `json:"existing_chat_id"`
	UserMessage       string   `json:"user_message"`
	InputFileIDs      []string `json:"input_files_ids"`
	ChatProviderID    string   `json:"chat_provider_id"`
	AssistantID       string   `json:"assistant_id"`
}

// SubmitStream handles POST /messages/submitstream.
func (s *Server) SubmitStream(c echo.Context) error {
	subject, ok := SubjectFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing subject")
	}
	if !s.Limiter.Allow(subject.ID) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_message is required")
	}

	ctx := c.Request().Context()
	snapshot, err := s.snapshot(ctx)
	if err != nil {
		return writeAppError(err)
	}

	chat, created, err := s.resolveChat(ctx, snapshot, subject, req.ExistingChatID, req.AssistantID, req.ChatProviderID)
	if err != nil {
		return writeAppError(err)
	}

	var previous *store.Message
	if req.PreviousMessageID != "" {
		previous, err = s.Store.GetMessage(ctx, req.PreviousMessageID)
		if err != nil || previous == nil {
			return writeAppError(apperror.NotFound("previous_message_id not found"))
		}
		if previous.Role != store.RoleAssistant {
			return writeAppError(apperror.Invariant("previous_message_id must reference an assistant message"))
		}
		if previous.ChatID != chat.ID {
			return writeAppError(apperror.Invariant("previous_message_id references a message in a different chat"))
		}
	}

	assistant, err := s.loadAssistant(ctx, chat.AssistantID)
	if err != nil {
		return writeAppError(err)
	}

	chatProviderID, err := s.resolveChatProviderID(req.ChatProviderID, assistant, subject.GroupIDs)
	if err != nil {
		return writeAppError(err)
	}

	userMsg, err := s.Store.SubmitMessage(ctx, &store.SubmitMessage{
		ChatID:            chat.ID,
		Role:              store.RoleUser,
		Content:           store.ContentParts{store.Text{TextValue: req.UserMessage}},
		PreviousMessageID: req.PreviousMessageID,
		InputFileIDs:      req.InputFileIDs,
	})
	if err != nil {
		return writeAppError(apperror.AsError(err))
	}

	live, handle := s.Hub.StartTask(chat.ID, idgen.NewShortID())
	if created {
		s.Policy.Invalidate(ctx)
		s.Hub.SendEvent(handle, event.ChatCreated(chat.ID))
	}
	view, err := event.NewMessageView(userMsg, nil)
	if err != nil {
		return writeAppError(apperror.InternalError("failed to project saved message", err))
	}
	s.Hub.SendEvent(handle, event.UserMessageSaved(userMsg.ID, view))

	if s.Summary != nil {
		s.Summary.MaybeSpawn(ctx, chat.ID, created || previous == nil, req.UserMessage)
	}

	s.spawnGeneration(chat, assistant, nil, chatProviderID, userMsg.ID, previous, userMsg.Content, req.InputFileIDs, previous == nil, subject.ID)

	w := newSSEWriter(c)
	return pumpEvents(c, w, nil, live)
}

// regenerateRequest is the /messages/regeneratestream body (spec §6).
type regenerateRequest struct {
	CurrentMessageID string `json:"current_message_id"`
	ChatProviderID   string `json:"chat_provider_id"`
}

// RegenerateStream handles POST /messages/regeneratestream.
func (s *Server) RegenerateStream(c echo.Context) error {
	subject, ok := SubjectFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing subject")
	}
	if !s.Limiter.Allow(subject.ID) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	var req regenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()

	current, err := s.Store.GetMessage(ctx, req.CurrentMessageID)
	if err != nil || current == nil {
		return writeAppError(apperror.NotFound("current_message_id not found"))
	}
	if current.Role != store.RoleAssistant {
		return writeAppError(apperror.Invariant("current_message_id must reference an assistant message"))
	}
	if current.PreviousMessageID == "" {
		return writeAppError(apperror.Invariant("current_message_id has no previous user message"))
	}
	userMsg, err := s.Store.GetMessage(ctx, current.PreviousMessageID)
	if err != nil || userMsg == nil || userMsg.Role != store.RoleUser {
		return writeAppError(apperror.Invariant("current_message_id has no previous user message"))
	}

	chat, err := s.Store.GetChat(ctx, current.ChatID)
	if err != nil || chat == nil {
		return writeAppError(apperror.NotFound("chat not found"))
	}

	snapshot, err := s.snapshot(ctx)
	if err != nil {
		return writeAppError(err)
	}
	if err := s.authorizeWrite(snapshot, subject, chat.ID); err != nil {
		return writeAppError(err)
	}

	assistant, err := s.loadAssistant(ctx, chat.AssistantID)
	if err != nil {
		return writeAppError(err)
	}

	chatProviderID, err := s.resolveChatProviderID(req.ChatProviderID, assistant, subject.GroupIDs)
	if err != nil {
		return writeAppError(err)
	}

	previousForCompose, err := s.loadComposePredecessor(ctx, userMsg.PreviousMessageID)
	if err != nil {
		return writeAppError(err)
	}

	live, _ := s.Hub.StartTask(chat.ID, idgen.NewShortID())

	s.spawnGeneration(chat, assistant, nil, chatProviderID, userMsg.ID, previousForCompose, userMsg.Content, userMsg.InputFileIDs, previousForCompose == nil, subject.ID)

	w := newSSEWriter(c)
	return pumpEvents(c, w, nil, live)
}

// editRequest is the /messages/editstream body (spec §6).
type editRequest struct {
	MessageID            string   `json:"message_id"`
	ReplaceUserMessage   string   `json:"replace_user_message"`
	ReplaceInputFilesIDs []string `json:"replace_input_files_ids"`
	ChatProviderID       string   `json:"chat_provider_id"`
}

// EditStream handles POST /messages/editstream.
func (s *Server) EditStream(c echo.Context) error {
	subject, ok := SubjectFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing subject")
	}
	if !s.Limiter.Allow(subject.ID) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	var req editRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.ReplaceUserMessage) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "replace_user_message is required")
	}

	ctx := c.Request().Context()

	old, err := s.Store.GetMessage(ctx, req.MessageID)
	if err != nil || old == nil {
		return writeAppError(apperror.NotFound("message_id not found"))
	}
	if old.Role != store.RoleUser {
		return writeAppError(apperror.Invariant("message_id must reference a user message"))
	}

	chat, err := s.Store.GetChat(ctx, old.ChatID)
	if err != nil || chat == nil {
		return writeAppError(apperror.NotFound("chat not found"))
	}

	snapshot, err := s.snapshot(ctx)
	if err != nil {
		return writeAppError(err)
	}
	if err := s.authorizeWrite(snapshot, subject, chat.ID); err != nil {
		return writeAppError(err)
	}

	assistant, err := s.loadAssistant(ctx, chat.AssistantID)
	if err != nil {
		return writeAppError(err)
	}

	chatProviderID, err := s.resolveChatProviderID(req.ChatProviderID, assistant, subject.GroupIDs)
	if err != nil {
		return writeAppError(err)
	}

	newContent := store.ContentParts{store.Text{TextValue: req.ReplaceUserMessage}}
	newMsg, err := s.Store.SubmitMessage(ctx, &store.SubmitMessage{
		ChatID:            chat.ID,
		Role:              store.RoleUser,
		Content:           newContent,
		PreviousMessageID: old.PreviousMessageID,
		SiblingMessageID:  old.ID,
		InputFileIDs:      req.ReplaceInputFilesIDs,
	})
	if err != nil {
		return writeAppError(apperror.AsError(err))
	}

	previousForCompose, err := s.loadComposePredecessor(ctx, old.PreviousMessageID)
	if err != nil {
		return writeAppError(err)
	}

	live, handle := s.Hub.StartTask(chat.ID, idgen.NewShortID())
	view, err := event.NewMessageView(newMsg, nil)
	if err != nil {
		return writeAppError(apperror.InternalError("failed to project saved message", err))
	}
	s.Hub.SendEvent(handle, event.UserMessageSaved(newMsg.ID, view))

	s.spawnGeneration(chat, assistant, nil, chatProviderID, newMsg.ID, previousForCompose, newMsg.Content, req.ReplaceInputFilesIDs, previousForCompose == nil, subject.ID)

	w := newSSEWriter(c)
	return pumpEvents(c, w, nil, live)
}

// resumeRequest is the /messages/resumestream body (spec §6).
type resumeRequest struct {
	ChatID string `json:"chat_id"`
}

// ResumeStream handles POST /messages/resumestream: full history replay
// followed by live delivery of a generation already in flight.
func (s *Server) ResumeStream(c echo.Context) error {
	subject, ok := SubjectFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing subject")
	}

	var req resumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	chat, err := s.Store.GetChat(ctx, req.ChatID)
	if err != nil || chat == nil {
		return writeAppError(apperror.NotFound("chat not found"))
	}

	snapshot, err := s.snapshot(ctx)
	if err != nil {
		return writeAppError(err)
	}
	decision, err := snapshot.Authorize(subject, policy.Resource{Kind: policy.ResourceChat, ID: chat.ID}, policy.ActionRead)
	if err != nil {
		return writeAppError(apperror.InternalError("authorization failed", err))
	}
	if decision != policy.DecisionAllow {
		return writeAppError(apperror.NotAuthorized("read access denied for chat"))
	}

	handle, ok := s.Hub.GetTask(req.ChatID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no generation in flight or recently completed for this chat")
	}
	history, live := s.Hub.ResumeSubscribe(handle)

	w := newSSEWriter(c)
	return pumpEvents(c, w, history, live)
}

// snapshot rebuilds the Policy Cache if stale and returns a per-request
// clone, so a concurrent global Invalidate can't race this request's
// authorization decisions (spec §4.2 concurrency note).
func (s *Server) snapshot(ctx context.Context) (*policy.Cache, error) {
	if err := s.Policy.RebuildIfNeeded(ctx, s.Store); err != nil {
		return nil, apperror.InternalError("failed to rebuild policy snapshot", err)
	}
	return s.Policy.Clone(), nil
}

func (s *Server) authorizeWrite(snapshot *policy.Cache, subject policy.Subject, chatID string) error {
	decision, err := snapshot.Authorize(subject, policy.Resource{Kind: policy.ResourceChat, ID: chatID}, policy.ActionWrite)
	if err != nil {
		return apperror.InternalError("authorization failed", err)
	}
	if decision != policy.DecisionAllow {
		return apperror.NotAuthorized("write access denied for chat")
	}
	return nil
}

// resolveChat returns the chat a submit targets: an existing one (write
// access required) or a freshly created one (read access to the bound
// assistant, if any, required first). The bool return reports whether a
// new chat was created, so the caller knows to emit chat_created.
func (s *Server) resolveChat(ctx context.Context, snapshot *policy.Cache, subject policy.Subject, existingChatID, assistantID, chatProviderID string) (*store.Chat, bool, error) {
	if existingChatID != "" {
		chat, err := s.Store.GetChat(ctx, existingChatID)
		if err != nil || chat == nil {
			return nil, false, apperror.NotFound("existing_chat_id not found")
		}
		if err := s.authorizeWrite(snapshot, subject, chat.ID); err != nil {
			return nil, false, err
		}
		return chat, false, nil
	}

	if assistantID != "" {
		decision, err := snapshot.Authorize(subject, policy.Resource{Kind: policy.ResourceAssistant, ID: assistantID}, policy.ActionRead)
		if err != nil {
			return nil, false, apperror.InternalError("authorization failed", err)
		}
		if decision != policy.DecisionAllow {
			return nil, false, apperror.NotAuthorized("read access denied for assistant")
		}
	}

	chat, err := s.Store.CreateChat(ctx, &store.CreateChat{
		OwnerID:        subject.ID,
		AssistantID:    assistantID,
		ChatProviderID: chatProviderID,
	})
	if err != nil {
		return nil, false, apperror.InternalError("failed to create chat", err)
	}
	return chat, true, nil
}

func (s *Server) loadAssistant(ctx context.Context, assistantID string) (*store.Assistant, error) {
	if assistantID == "" {
		return nil, nil
	}
	assistant, err := s.Store.GetAssistant(ctx, assistantID)
	if err != nil {
		return nil, apperror.NotFound("assistant not found")
	}
	return assistant, nil
}

// loadComposePredecessor fetches the assistant message a regenerate/edit
// should replay generation_input_messages from, or nil if prevID is empty
// (the edited/regenerated message was the first turn of its chat).
func (s *Server) loadComposePredecessor(ctx context.Context, prevID string) (*store.Message, error) {
	if prevID == "" {
		return nil, nil
	}
	msg, err := s.Store.GetMessage(ctx, prevID)
	if err != nil {
		return nil, apperror.InternalError("failed to load compose predecessor", err)
	}
	return msg, nil
}

// spawnGeneration runs the Generation Loop as a sibling task decoupled from
// the originating request (spec §5: "each generation is a spawned sibling
// task whose lifetime is decoupled from the request that started it").
// context.WithoutCancel preserves request-scoped values (e.g. trace ids
// logging middleware may have attached) while dropping the cancellation
// that would otherwise abort the generation the instant this handler's
// client disconnects.
func (s *Server) spawnGeneration(chat *store.Chat, assistant *store.Assistant, facet *store.Facet, chatProviderID, userMessageID string, previousForCompose *store.Message, userMessageContent store.ContentParts, newFileIDs []string, isFirstUserTurn bool, subjectID string) {
	detached := context.WithoutCancel(context.Background())
	params := generation.RunParams{
		Chat:               chat,
		Assistant:          assistant,
		Facet:              facet,
		ChatProviderID:     chatProviderID,
		UserMessageID:      userMessageID,
		PreviousForCompose: previousForCompose,
		UserMessageContent: userMessageContent,
		NewFileIDs:         newFileIDs,
		IsFirstUserTurn:    isFirstUserTurn,
		ResolveContext:     &fileresolver.ResolveContext{},
		SubjectID:          subjectID,
	}
	go func() {
		if err := s.Gen.Run(detached, params); err != nil {
			s.Log.Error("generation rejected before stream opened", "chat_id", chat.ID, "error", err)
			s.Hub.Emit(chat.ID, event.Error(userMessageID, string(apperror.AsError(err).Kind), err.Error()))
			s.Hub.Emit(chat.ID, event.StreamEnd())
		}
		if handle, ok := s.Hub.GetTask(chat.ID); ok {
			s.Hub.MarkCompleted(handle)
		}
	}()
}

// writeAppError converts the closed apperror.Kind taxonomy's pre-stream
// members into the matching HTTP status (spec §7); any other kind reaching
// here would be a programmer error, so it falls back to 500.
func writeAppError(err error) error {
	appErr := apperror.AsError(err)
	status := appErr.HTTPStatus()
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return echo.NewHTTPError(status, appErr.Description)
}
