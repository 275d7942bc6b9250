package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/rivermint/chatforge/event"
	"github.com/rivermint/chatforge/internal/apperror"
	"github.com/rivermint/chatforge/provider"
	"github.com/rivermint/chatforge/store"
)

// runImageGeneration is the image-generation short-circuit (spec §4.7): the
// chosen provider declares model_capabilities.generate_images=true, so
// instead of the streaming chat loop the Loop takes the last user text as
// prompt, makes a single image call, and stores the result as a new
// FileUpload referenced by an ImageFilePointer.
func (l *Loop) runImageGeneration(ctx context.Context, params RunParams, adapter provider.Adapter) error {
	prompt := lastUserText(params.UserMessageContent)
	if prompt == "" {
		return apperror.Invariant("image generation requires non-empty user text")
	}

	assistantMsg, err := l.deps.Store.SubmitMessage(ctx, &store.SubmitMessage{
		ChatID:            params.Chat.ID,
		Role:              store.RoleAssistant,
		Content:           store.ContentParts{},
		PreviousMessageID: params.UserMessageID,
	})
	if err != nil {
		return apperror.InternalError("failed to create assistant message", err)
	}

	l.emit(params.Chat.ID, event.AssistantMessageStarted(assistantMsg.ID))

	data, mime, err := adapter.GenerateImage(ctx, prompt)
	if err != nil {
		genErr := apperror.AsError(err)
		l.finish(ctx, params, assistantMsg.ID, store.ContentParts{}, store.TokenUsage{}, genErr)
		return nil
	}

	if l.deps.Blobs == nil {
		genErr := apperror.InternalError("no blob writer configured for image generation", nil)
		l.finish(ctx, params, assistantMsg.ID, store.ContentParts{}, store.TokenUsage{}, genErr)
		return nil
	}

	filename := fmt.Sprintf("generated-%d.%s", time.Now().UnixNano(), extensionForMIME(mime))
	storagePath, err := l.deps.Blobs.WriteBytes(ctx, l.deps.ImageStorageProviderID, filename, data)
	if err != nil {
		genErr := apperror.InternalError("failed to store generated image", err)
		l.finish(ctx, params, assistantMsg.ID, store.ContentParts{}, store.TokenUsage{}, genErr)
		return nil
	}

	upload, err := l.deps.Store.CreateFileUpload(ctx, &store.CreateFileUpload{
		ChatID:            params.Chat.ID,
		Filename:          filename,
		StorageProviderID: l.deps.ImageStorageProviderID,
		StoragePath:       storagePath,
	})
	if err != nil {
		genErr := apperror.InternalError("failed to register generated image", err)
		l.finish(ctx, params, assistantMsg.ID, store.ContentParts{}, store.TokenUsage{}, genErr)
		return nil
	}

	content := store.ContentParts{store.ImageFilePointer{FileID: upload.ID}}
	l.finish(ctx, params, assistantMsg.ID, content, store.TokenUsage{}, nil)
	return nil
}

func lastUserText(parts store.ContentParts) string {
	var last string
	for _, p := range parts {
		if t, ok := p.(store.Text); ok {
			last = t.TextValue
		}
	}
	return last
}

func extensionForMIME(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}
