// Package generation implements the Generation Loop (spec §4.7): the
// per-turn procedure that submits a composed prompt to a Provider Adapter,
// dispatches any tool calls it asks for, and repeats until the model stops
// calling tools or a termination condition fires. State is an explicit
// genState enum driving a for loop, matching the teacher's straight-line,
// heavily-logged ai_service_chat.go style rather than an actor/FSM library.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rivermint/chatforge/config"
	"github.com/rivermint/chatforge/event"
	"github.com/rivermint/chatforge/fileresolver"
	"github.com/rivermint/chatforge/internal/apperror"
	"github.com/rivermint/chatforge/promptcompose"
	"github.com/rivermint/chatforge/provider"
	"github.com/rivermint/chatforge/store"
)

const defaultMaxToolIterations = 15

// genState names the Generation Loop's position for logging; the loop body
// itself is a plain for loop rather than a table of state handlers, since
// the transitions are linear (spec §4.7 diagram has no branching re-entry
// besides the tool-call cycle).
type genState string

const (
	stateIdle         genState = "idle"
	stateStreaming    genState = "streaming"
	stateToolDispatch genState = "tool_dispatch"
	stateCompleted    genState = "completed"
	stateFailed       genState = "failed"
)

// ToolExecutor is the narrow contract the Loop needs from the Tool Executor.
type ToolExecutor interface {
	Call(ctx context.Context, qualifiedName string, args json.RawMessage, allowedServerIDs []string) (string, error)
}

// EventSink is the narrow contract the Loop needs from the Broadcast Hub.
type EventSink interface {
	Emit(chatID string, evt event.Event)
}

// PolicyInvalidator is the narrow contract the Loop needs from the Policy Cache.
type PolicyInvalidator interface {
	Invalidate(ctx context.Context)
}

// BudgetTracker is the narrow contract the Loop needs from the Budget
// tracker. A nil BudgetTracker (checked at call sites) disables budget
// enforcement entirely, matching budget.enabled=false being a no-op.
type BudgetTracker interface {
	Reserve(ctx context.Context, subjectID, chatProviderID string) error
	RecordSpend(ctx context.Context, subjectID, chatProviderID string, usage store.TokenUsage) error
}

// BlobWriter persists newly generated bytes (image-generation mode is the
// only Loop path that produces new file bytes rather than reading existing
// ones, so this sits alongside fileresolver.BlobStore rather than in it).
type BlobWriter interface {
	WriteBytes(ctx context.Context, storageProviderID string, filename string, data []byte) (storagePath string, err error)
}

// MessageStore is the narrow subset of *store.Store the Loop writes through.
// *store.Store satisfies this by delegating to its Driver, the same pattern
// policy.ProjectionSource and fileresolver.FileLookup use.
type MessageStore interface {
	SubmitMessage(ctx context.Context, submit *store.SubmitMessage) (*store.Message, error)
	UpdateMessageContent(ctx context.Context, id string, content store.ContentParts) (*store.Message, error)
	UpdateGenerationMetadata(ctx context.Context, id string, meta *store.GenerationMetadata) (*store.Message, error)
	CreateFileUpload(ctx context.Context, create *store.CreateFileUpload) (*store.FileUpload, error)
}

// Deps are the Loop's collaborators.
type Deps struct {
	Store     MessageStore
	Composer  *promptcompose.Composer
	Providers *ProviderCatalog
	Tools     ToolExecutor
	Sink      EventSink
	Policy    PolicyInvalidator
	Budget    BudgetTracker // nil = no budget enforcement
	Blobs     BlobWriter    // nil = image-generation mode errors instead of persisting

	URLSigner              store.URLSigner // nil = MessageView carries unsigned pointers, test-only
	ImageStorageProviderID string
	MaxToolIterations      int // 0 = defaultMaxToolIterations
	Logger                 *slog.Logger
}

// Loop is the Generation Loop.
type Loop struct {
	deps Deps
	log  *slog.Logger
}

// New builds a Loop over deps.
func New(deps Deps) *Loop {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{deps: deps, log: logger}
}

func (l *Loop) maxIterations() int {
	if l.deps.MaxToolIterations > 0 {
		return l.deps.MaxToolIterations
	}
	return defaultMaxToolIterations
}

// RunParams is everything one generation needs. The caller (a request
// handler) is responsible for DAG wiring: UserMessageID is the already
// persisted user-role message the new assistant message's PreviousMessageID
// points to; PreviousForCompose is the prior assistant message whose
// GenerationInputMessages the Composer replays (nil on a fresh thread).
type RunParams struct {
	Chat               *store.Chat
	Assistant          *store.Assistant
	Facet              *store.Facet
	ChatProviderID     string
	UserMessageID      string
	PreviousForCompose *store.Message
	UserMessageContent store.ContentParts
	NewFileIDs         []string
	IsFirstUserTurn    bool
	ResolveContext     *fileresolver.ResolveContext
	SubjectID          string
}

// Run executes one full generation: compose, stream, dispatch tools, persist,
// broadcast. It returns an error only for failures that must reject the
// request before any stream opens (budget, compose, provider resolution);
// once the assistant message row exists, every failure is folded into the
// event stream and Run returns nil (spec §7: "this guarantees every stream
// terminates deterministically").
func (l *Loop) Run(ctx context.Context, params RunParams) error {
	adapter, cfg, err := l.deps.Providers.Resolve(params.ChatProviderID)
	if err != nil {
		return apperror.Invariant(err.Error())
	}

	if l.deps.Budget != nil {
		if err := l.deps.Budget.Reserve(ctx, params.SubjectID, params.ChatProviderID); err != nil {
			return apperror.AsError(err)
		}
	}

	if cfg.ModelCapabilities.GenerateImages {
		return l.runImageGeneration(ctx, params, adapter)
	}

	composed, err := l.deps.Composer.Compose(ctx, promptcompose.Input{
		Chat:            params.Chat,
		Assistant:       params.Assistant,
		Facet:           params.Facet,
		Previous:        params.PreviousForCompose,
		UserMessage:     params.UserMessageContent,
		NewFileIDs:      params.NewFileIDs,
		IsFirstUserTurn: params.IsFirstUserTurn,
		ResolveContext:  params.ResolveContext,
	})
	if err != nil {
		return apperror.InternalError("failed to compose prompt", err)
	}

	genParams := modelSettingsToParams(cfg.ModelSettings)
	if params.Facet != nil {
		genParams = overrideParams(genParams, params.Facet.ModelSettings)
	}

	assistantMsg, err := l.deps.Store.SubmitMessage(ctx, &store.SubmitMessage{
		ChatID:                  params.Chat.ID,
		Role:                    store.RoleAssistant,
		Content:                 store.ContentParts{},
		PreviousMessageID:       params.UserMessageID,
		GenerationInputMessages: composed.Unresolved,
		GenerationParameters:    &genParams,
	})
	if err != nil {
		return apperror.InternalError("failed to create assistant message", err)
	}

	l.emit(params.Chat.ID, event.AssistantMessageStarted(assistantMsg.ID))

	allowedServerIDs := []string(nil)
	if params.Assistant != nil {
		allowedServerIDs = params.Assistant.MCPServerIDs
	}

	content, usage, genErr := l.runTurns(ctx, params.Chat.ID, assistantMsg.ID, adapter,
		toProviderMessages(composed.Resolved), composed.Tools, allowedServerIDs, genParams)

	l.finish(ctx, params, assistantMsg.ID, content, usage, genErr)
	return nil
}

// runTurns is the state machine's core: Idle (implicit, this call) →
// Streaming → (tool calls captured? → ToolDispatch → Streaming → …) →
// Completed | Failed.
func (l *Loop) runTurns(
	ctx context.Context,
	chatID, assistantMessageID string,
	adapter provider.Adapter,
	messages []provider.Message,
	tools []promptcompose.ToolSchema,
	allowedServerIDs []string,
	params store.GenerationParameters,
) (store.ContentParts, store.TokenUsage, *apperror.Error) {
	maxIter := l.maxIterations()

	var content store.ContentParts
	var usage store.TokenUsage
	var unfinished []provider.ToolCallEvent
	state := stateIdle

	for turn := 1; ; turn++ {
		if turn > maxIter {
			state = stateFailed
			genErr := apperror.InternalError(fmt.Sprintf("exceeded max tool-call iterations (%d)", maxIter), nil)
			l.log.Warn("generation state", "state", state, "message_id", assistantMessageID, "turn", turn)
			l.emitError(chatID, assistantMessageID, genErr)
			return content, usage, genErr
		}

		if len(unfinished) == 0 && turn > 1 {
			l.log.Warn("generation turn began with no unfinished tool calls",
				"message_id", assistantMessageID, "turn", turn)
		}

		if len(unfinished) > 0 {
			state = stateToolDispatch
			l.log.Debug("generation state", "state", state, "message_id", assistantMessageID, "turn", turn)
			var toolMessages []provider.Message
			content, toolMessages = l.dispatchToolCalls(ctx, chatID, assistantMessageID, content, unfinished, allowedServerIDs)
			messages = append(messages, toolMessages...)
			unfinished = nil
		}

		state = stateStreaming
		l.log.Debug("generation state", "state", state, "message_id", assistantMessageID, "turn", turn)
		events, err := adapter.Stream(ctx, provider.Request{Messages: messages, Tools: tools, Params: params})
		if err != nil {
			state = stateFailed
			genErr := apperror.AsError(err)
			l.emitError(chatID, assistantMessageID, genErr)
			return content, usage, genErr
		}

		var builder strings.Builder
		textIdx := -1
		var end *provider.EndEvent
		var streamErr *apperror.Error

		for ev := range events {
			switch ev.Kind {
			case provider.EventChunk:
				if textIdx < 0 {
					content = append(content, store.Text{})
					textIdx = len(content) - 1
				}
				builder.WriteString(ev.Chunk)
				l.emit(chatID, event.TextDelta(assistantMessageID, textIdx, ev.Chunk))
			case provider.EventEnd:
				end = ev.End
			case provider.EventError:
				if isSkippableDecodeError(ev.Err) {
					continue
				}
				streamErr = ev.Err
			}
		}

		if streamErr != nil {
			state = stateFailed
			l.emitError(chatID, assistantMessageID, streamErr)
			return content, usage, streamErr
		}
		if end == nil {
			state = stateFailed
			genErr := apperror.InternalError("provider stream ended without a terminal event", nil)
			l.emitError(chatID, assistantMessageID, genErr)
			return content, usage, genErr
		}

		switch {
		case textIdx >= 0:
			content[textIdx] = store.Text{TextValue: builder.String()}
		case len(end.CapturedTexts) > 0:
			content = append(content, store.Text{TextValue: strings.Join(end.CapturedTexts, "")})
		}

		usage.PromptTokens += end.Usage.PromptTokens
		usage.CompletionTokens += end.Usage.CompletionTokens
		usage.TotalTokens += end.Usage.TotalTokens
		usage.ReasoningTokens += end.Usage.ReasoningTokens

		if len(end.CapturedToolCalls) == 0 {
			state = stateCompleted
			return content, usage, nil
		}

		messages = append(messages, provider.Message{
			Role:      store.RoleAssistant,
			ToolCalls: toToolCallRequests(end.CapturedToolCalls),
		})
		unfinished = end.CapturedToolCalls
	}
}

// dispatchToolCalls runs every unfinished tool call concurrently
// (golang.org/x/sync/errgroup), preserving each call's own tool_call_id for
// correct event correlation (spec §4.6/§4.7), and appends a ToolUse content
// part plus a tool-role response message per call.
func (l *Loop) dispatchToolCalls(
	ctx context.Context,
	chatID, assistantMessageID string,
	content store.ContentParts,
	calls []provider.ToolCallEvent,
	allowedServerIDs []string,
) (store.ContentParts, []provider.Message) {
	baseIdx := len(content)
	for _, c := range calls {
		content = append(content, store.ToolUse{
			CallID: c.ID, Name: c.Name, Input: c.Args, Status: store.ToolUseStatusInProgress,
		})
		l.emit(chatID, event.ToolCallProposed(assistantMessageID, len(content)-1, c.ID, c.Name, c.Args))
	}

	type callResult struct {
		output string
		err    error
	}
	results := make([]callResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			out, err := l.deps.Tools.Call(gctx, c.Name, c.Args, allowedServerIDs)
			results[i] = callResult{output: out, err: err}
			return nil // tool failures surface per-call, never abort the group
		})
	}
	_ = g.Wait()

	toolMessages := make([]provider.Message, len(calls))
	for i, c := range calls {
		r := results[i]
		status := store.ToolUseStatusSuccess
		output := r.output
		if r.err != nil {
			status = store.ToolUseStatusError
			output = apperror.AsError(r.err).Description
		}

		idx := baseIdx + i
		content[idx] = store.ToolUse{CallID: c.ID, Name: c.Name, Input: c.Args, Status: status, Output: output}
		l.emit(chatID, event.ToolCallUpdate(event.ToolCallUpdateData{
			MessageID: assistantMessageID, ContentIndex: idx,
			ToolCallID: c.ID, ToolName: c.Name, Input: c.Args,
			Status: status, Output: output,
		}))

		toolMessages[i] = provider.Message{
			Role:       store.RoleTool,
			Content:    store.ContentParts{store.Text{TextValue: output}},
			ToolCallID: c.ID,
		}
	}

	return content, toolMessages
}

// finish writes the terminal state back to the store, emits
// assistant_message_completed + stream_end, and invalidates the Policy
// Cache — the one terminal path every generation takes regardless of success
// or failure (spec §4.7, §7).
func (l *Loop) finish(ctx context.Context, params RunParams, assistantMessageID string, content store.ContentParts, usage store.TokenUsage, genErr *apperror.Error) {
	updated, err := l.deps.Store.UpdateMessageContent(ctx, assistantMessageID, content)
	if err != nil {
		l.log.Error("failed to persist final assistant content", "message_id", assistantMessageID, "error", err)
	}

	meta := &store.GenerationMetadata{
		ProviderID: params.ChatProviderID,
		Usage:      &usage,
	}
	if genErr != nil {
		meta.Error = genErr.Description
		meta.ErrorKind = string(genErr.Kind)
	}
	if _, err := l.deps.Store.UpdateGenerationMetadata(ctx, assistantMessageID, meta); err != nil {
		l.log.Error("failed to persist generation metadata", "message_id", assistantMessageID, "error", err)
	}

	if updated == nil {
		updated = &store.Message{ID: assistantMessageID, ChatID: params.Chat.ID, Role: store.RoleAssistant, Content: content}
	}
	view, err := event.NewMessageView(updated, l.deps.URLSigner)
	if err != nil {
		l.log.Error("failed to project assistant message", "message_id", assistantMessageID, "error", err)
		view = &event.MessageView{ID: assistantMessageID, ChatID: params.Chat.ID, Role: store.RoleAssistant, Content: content}
	}

	l.emit(params.Chat.ID, event.AssistantMessageCompleted(assistantMessageID, content, view))
	l.emit(params.Chat.ID, event.StreamEnd())

	l.deps.Policy.Invalidate(ctx)

	if l.deps.Budget != nil && genErr == nil {
		if err := l.deps.Budget.RecordSpend(ctx, params.SubjectID, params.ChatProviderID, usage); err != nil {
			l.log.Warn("failed to record budget spend", "subject_id", params.SubjectID, "error", err)
		}
	}
}

func (l *Loop) emit(chatID string, evt event.Event) {
	if l.deps.Sink == nil {
		return
	}
	l.deps.Sink.Emit(chatID, evt)
}

func (l *Loop) emitError(chatID, assistantMessageID string, genErr *apperror.Error) {
	l.emit(chatID, event.Error(assistantMessageID, string(genErr.Kind), genErr.Description))
}

// isSkippableDecodeError implements spec §4.7's tie-break: malformed partial
// JSON tool-argument fragments are skipped, not terminal.
func isSkippableDecodeError(err *apperror.Error) bool {
	if err == nil {
		return false
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func modelSettingsToParams(s config.ModelSettings) store.GenerationParameters {
	return store.GenerationParameters{
		Temperature:     s.Temperature,
		TopP:            s.TopP,
		ReasoningEffort: s.ReasoningEffort,
		Verbosity:       s.Verbosity,
		MaxTokens:       s.MaxTokens,
	}
}

func overrideParams(base store.GenerationParameters, facetSettings config.ModelSettings) store.GenerationParameters {
	if facetSettings.Temperature != nil {
		base.Temperature = facetSettings.Temperature
	}
	if facetSettings.TopP != nil {
		base.TopP = facetSettings.TopP
	}
	if facetSettings.ReasoningEffort != "" {
		base.ReasoningEffort = facetSettings.ReasoningEffort
	}
	if facetSettings.Verbosity != "" {
		base.Verbosity = facetSettings.Verbosity
	}
	if facetSettings.MaxTokens != 0 {
		base.MaxTokens = facetSettings.MaxTokens
	}
	return base
}
