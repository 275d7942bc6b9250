// Package toolexec implements the Tool Executor (spec §4.6): routes a tool
// call to the MCP server that declared it, enforcing the assistant's
// MCP-server allowlist as a defence-in-depth check, and implements
// promptcompose.ToolCatalog so the Prompt Composer can enumerate available
// tools at compose time.
package toolexec

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/internal/apperror"
	"github.com/rivermint/chatforge/promptcompose"
	"github.com/rivermint/chatforge/toolexec/mcpadapter"
)

// MCPServer is the narrow per-server contract the Executor needs, so tests
// can fake a server without dialling a real MCP transport.
type MCPServer interface {
	ListTools(ctx context.Context) ([]mcpadapter.ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Executor routes tool calls across every configured MCP server.
type Executor struct {
	mu      sync.RWMutex
	servers map[string]MCPServer
}

// New builds an Executor over an already-dialled set of MCP servers, keyed
// by server id (mcp_servers.<id> from config).
func New(servers map[string]MCPServer) *Executor {
	return &Executor{servers: servers}
}

// ListTools implements promptcompose.ToolCatalog: the union of every tool
// declared by every server in mcpServerIDs (nil = every configured server),
// namespaced `<server-id>/<tool-name>` (spec §4.6).
func (e *Executor) ListTools(ctx context.Context, mcpServerIDs []string) ([]promptcompose.ToolSchema, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := mcpServerIDs
	if ids == nil {
		ids = make([]string, 0, len(e.servers))
		for id := range e.servers {
			ids = append(ids, id)
		}
	}

	var out []promptcompose.ToolSchema
	for _, id := range ids {
		server, ok := e.servers[id]
		if !ok {
			continue
		}
		tools, err := server.ListTools(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "list tools for mcp server %q", id)
		}
		for _, t := range tools {
			out = append(out, promptcompose.ToolSchema{
				ServerID:    id,
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	return out, nil
}

// Call routes one tool call by its globally namespaced name
// (`<server-id>/<tool-name>`), re-checking allowedServerIDs as a
// defence-in-depth measure even though the Prompt Composer already filtered
// the tool list the provider was shown (spec §4.6). A nil allowedServerIDs
// means every configured server is allowed, matching the assistant's
// `mcp_server_ids = nil` convention.
func (e *Executor) Call(ctx context.Context, qualifiedName string, args json.RawMessage, allowedServerIDs []string) (string, error) {
	serverID, toolName, err := splitQualifiedName(qualifiedName)
	if err != nil {
		return "", apperror.ToolExecFailed(err.Error(), err)
	}

	if !serverAllowed(serverID, allowedServerIDs) {
		return "", apperror.ToolExecFailed(
			"tool "+qualifiedName+" not in assistant's mcp server allowlist", nil)
	}

	e.mu.RLock()
	server, ok := e.servers[serverID]
	e.mu.RUnlock()
	if !ok {
		return "", apperror.ToolExecFailed("unknown mcp server "+serverID, nil)
	}

	var decoded map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return "", apperror.ToolExecFailed("malformed tool arguments for "+qualifiedName, err)
		}
	}

	output, err := server.CallTool(ctx, toolName, decoded)
	if err != nil {
		return "", apperror.ToolExecFailed("tool "+qualifiedName+" failed", err)
	}
	return output, nil
}

func splitQualifiedName(qualifiedName string) (serverID, toolName string, err error) {
	idx := strings.IndexByte(qualifiedName, '/')
	if idx < 0 {
		return "", "", errors.Errorf("malformed tool name %q: expected <server-id>/<tool-name>", qualifiedName)
	}
	return qualifiedName[:idx], qualifiedName[idx+1:], nil
}

func serverAllowed(serverID string, allowedServerIDs []string) bool {
	if allowedServerIDs == nil {
		return true
	}
	for _, id := range allowedServerIDs {
		if id == serverID {
			return true
		}
	}
	return false
}
