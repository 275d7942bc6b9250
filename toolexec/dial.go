package toolexec

import (
	"context"

	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/config"
	"github.com/rivermint/chatforge/toolexec/mcpadapter"
)

// DialAll connects to every configured MCP server up front, returning a map
// suitable for New. A server that fails to dial is a startup error: the
// Executor has no concept of a degraded/offline server, matching the
// teacher's eager-connect style in mcpcli.go's AddTools.
func DialAll(ctx context.Context, servers map[string]config.MCPServerConfig) (map[string]MCPServer, error) {
	out := make(map[string]MCPServer, len(servers))
	for id, cfg := range servers {
		client, err := mcpadapter.Dial(ctx, id, cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "dial mcp server %q", id)
		}
		out[id] = client
	}
	return out, nil
}
