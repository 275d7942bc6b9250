package promptcompose

import (
	"context"

	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/fileresolver"
	"github.com/rivermint/chatforge/store"
)

// Composer builds the abstract message sequence for a turn and resolves its
// file pointers via the File Resolver (spec §4.4).
type Composer struct {
	resolver     PointerResolver
	toolCatalog  ToolCatalog
	systemPrompt string
}

// PointerResolver is the subset of *fileresolver.Resolver the Composer uses,
// narrowed so tests can fake pointer resolution without a real BlobStore/
// TextExtractor behind it.
type PointerResolver interface {
	ResolveTextPointer(ctx context.Context, fileID string, rc *fileresolver.ResolveContext) (store.Text, error)
	ResolveImagePointer(ctx context.Context, fileID string, rc *fileresolver.ResolveContext) (store.Image, error)
}

// New builds a Composer. systemPrompt is the instance-wide system prompt
// configured out-of-band (spec §6); pass "" if none is configured.
func New(resolver PointerResolver, toolCatalog ToolCatalog, systemPrompt string) *Composer {
	return &Composer{resolver: resolver, toolCatalog: toolCatalog, systemPrompt: systemPrompt}
}

// Compose runs the full pipeline: build the abstract sequence, resolve its
// pointers, and compute tool availability.
func (c *Composer) Compose(ctx context.Context, in Input) (*Result, error) {
	abstract := c.buildAbstractSequence(in)

	resolved, err := c.resolveSequence(ctx, abstract, in.ResolveContext)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve prompt sequence")
	}

	tools, err := c.availableTools(ctx, in.Assistant, in.Facet)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute tool availability")
	}

	return &Result{Resolved: resolved, Unresolved: abstract, Tools: tools}, nil
}

// buildAbstractSequence implements spec §4.4 stage 1.
func (c *Composer) buildAbstractSequence(in Input) []store.GenerationInputMessage {
	var seq []store.GenerationInputMessage

	if in.Previous != nil && len(in.Previous.GenerationInputMessages) > 0 {
		// (a) Replay exactly what the previous turn used — prevents drift and
		// satisfies "system prompts MUST NOT be duplicated" by construction:
		// nothing below this branch adds another system message.
		seq = append(seq, in.Previous.GenerationInputMessages...)
	} else {
		// (b) Seed fresh: instance system prompt, then assistant prompt.
		if c.systemPrompt != "" {
			seq = append(seq, store.GenerationInputMessage{
				Role:    store.RoleSystem,
				Content: store.ContentParts{store.Text{TextValue: c.systemPrompt}},
			})
		}
		if in.Assistant != nil && in.Assistant.Prompt != "" {
			seq = append(seq, store.GenerationInputMessage{
				Role:    store.RoleSystem,
				Content: store.ContentParts{store.Text{TextValue: in.Assistant.Prompt}},
			})
		}
	}

	userContent := store.ContentParts{}
	// (c) Assistant's attached files, first user turn only.
	if in.IsFirstUserTurn && in.Assistant != nil {
		for _, fid := range in.Assistant.FileIDs {
			userContent = append(userContent, store.TextFilePointer{FileID: fid})
		}
	}
	// (d) The user message being generated against.
	userContent = append(userContent, in.UserMessage...)
	// (e) Newly attached files on this turn.
	for _, fid := range in.NewFileIDs {
		userContent = append(userContent, store.TextFilePointer{FileID: fid})
	}

	seq = append(seq, store.GenerationInputMessage{Role: store.RoleUser, Content: userContent})
	return seq
}

// resolveSequence implements spec §4.4 stage 2: walk the abstract sequence
// and replace each file pointer with its resolved text/image content. The
// abstract sequence itself is left untouched — it becomes Result.Unresolved
// as-is.
func (c *Composer) resolveSequence(ctx context.Context, abstract []store.GenerationInputMessage, rc *fileresolver.ResolveContext) ([]store.GenerationInputMessage, error) {
	resolved := make([]store.GenerationInputMessage, len(abstract))
	for i, msg := range abstract {
		parts := make(store.ContentParts, len(msg.Content))
		for j, part := range msg.Content {
			resolvedPart, err := c.resolvePart(ctx, part, rc)
			if err != nil {
				return nil, err
			}
			parts[j] = resolvedPart
		}
		resolved[i] = store.GenerationInputMessage{Role: msg.Role, Content: parts}
	}
	return resolved, nil
}

func (c *Composer) resolvePart(ctx context.Context, part store.ContentPart, rc *fileresolver.ResolveContext) (store.ContentPart, error) {
	switch p := part.(type) {
	case store.TextFilePointer:
		return c.resolver.ResolveTextPointer(ctx, p.FileID, rc)
	case store.ImageFilePointer:
		return c.resolver.ResolveImagePointer(ctx, p.FileID, rc)
	default:
		return part, nil
	}
}

// availableTools computes the union of MCP-server tools filtered by the
// assistant's allowlist and the active facet's allowlist (spec §4.4).
func (c *Composer) availableTools(ctx context.Context, assistant *store.Assistant, facet *store.Facet) ([]ToolSchema, error) {
	if c.toolCatalog == nil {
		return nil, nil
	}

	var serverIDs []string
	if assistant != nil {
		serverIDs = assistant.MCPServerIDs // nil = all servers allowed
	}

	tools, err := c.toolCatalog.ListTools(ctx, serverIDs)
	if err != nil {
		return nil, err
	}

	if facet == nil || len(facet.ToolCallAllowlist) == 0 {
		return tools, nil
	}
	allowed := make(map[string]bool, len(facet.ToolCallAllowlist))
	for _, name := range facet.ToolCallAllowlist {
		allowed[name] = true
	}
	filtered := tools[:0]
	for _, t := range tools {
		if allowed[t.QualifiedName()] {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}
