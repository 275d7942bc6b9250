package generation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rivermint/chatforge/config"
	"github.com/rivermint/chatforge/provider"
	"github.com/rivermint/chatforge/store"
)

const summaryTimeout = 30 * time.Second

// ChatTitler is the narrow subset of *store.Store SummaryTask writes through.
type ChatTitler interface {
	UpdateChatTitle(ctx context.Context, id, title string) error
}

// SummaryTask generates a chat's title_by_summary as a fire-and-forget
// sibling task (spec §4.7): spawned when the chat is newly created or the
// first user turn has no previous_message_id. Failures are logged, never
// surfaced to the client — this mirrors the teacher's detached-goroutine
// summarization call in ai_service_chat.go, generalized from its in-process
// conversation summarizer to a call through the Provider Adapter.
type SummaryTask struct {
	store     ChatTitler
	providers *ProviderCatalog
	cfg       config.SummaryConfig
	log       *slog.Logger
}

// NewSummaryTask builds a SummaryTask. cfg.ProviderID selects which
// configured chat provider generates the summary; an empty ProviderID
// disables summarization entirely.
func NewSummaryTask(st ChatTitler, providers *ProviderCatalog, cfg config.SummaryConfig, logger *slog.Logger) *SummaryTask {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryTask{store: st, providers: providers, cfg: cfg, log: logger}
}

// MaybeSpawn starts summarization in its own goroutine if this chat qualifies
// (newly created, or the first user turn). The caller's request context is
// detached via context.WithoutCancel so the summary survives the originating
// HTTP request completing.
func (t *SummaryTask) MaybeSpawn(ctx context.Context, chatID string, isNewChatOrFirstTurn bool, userText string) {
	if t.cfg.ProviderID == "" || !isNewChatOrFirstTurn || strings.TrimSpace(userText) == "" {
		return
	}

	bgCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.log.Error("summary task panic", "chat_id", chatID, "panic", r)
			}
		}()

		summarizeCtx, cancel := context.WithTimeout(bgCtx, summaryTimeout)
		defer cancel()

		if err := t.run(summarizeCtx, chatID, userText); err != nil {
			t.log.Warn("failed to summarize chat", "chat_id", chatID, "error", err)
		}
	}()
}

func (t *SummaryTask) run(ctx context.Context, chatID, userText string) error {
	adapter, _, err := t.providers.Resolve(t.cfg.ProviderID)
	if err != nil {
		return err
	}

	maxTokens := t.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 32
	}

	req := provider.Request{
		Messages: []provider.Message{
			{
				Role:    store.RoleSystem,
				Content: store.ContentParts{store.Text{TextValue: "Write a short, plain-text title (max 8 words) summarizing this conversation's opening message. Respond with the title only."}},
			},
			{
				Role:    store.RoleUser,
				Content: store.ContentParts{store.Text{TextValue: userText}},
			},
		},
		Params: store.GenerationParameters{MaxTokens: maxTokens},
	}

	events, err := adapter.Stream(ctx, req)
	if err != nil {
		return err
	}

	var title strings.Builder
	for ev := range events {
		switch ev.Kind {
		case provider.EventChunk:
			title.WriteString(ev.Chunk)
		case provider.EventError:
			return ev.Err
		}
	}

	final := strings.TrimSpace(title.String())
	if final == "" {
		return nil
	}
	return t.store.UpdateChatTitle(ctx, chatID, final)
}
