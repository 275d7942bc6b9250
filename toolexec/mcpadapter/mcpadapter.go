// Package mcpadapter wraps mark3labs/mcp-go client transports behind the
// narrow interface the Tool Executor needs: discover a server's tools, call
// one by name. Grounded on xyzj-llm/mcp/mcpcli.go's McpClient, generalized
// from its single-transport (SSE) hardcoding to the two transports
// mcp_servers.<id>.transport_type selects between (spec §6).
package mcpadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/config"
)

// ToolInfo is one tool an MCP server declared, before namespacing.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Client is a connection to one MCP server.
type Client struct {
	mcpClient *client.Client
}

// Dial connects to and initializes an MCP server per cfg.TransportType,
// mirroring mcpcli.go's loadTools connection+initialize sequence.
func Dial(ctx context.Context, serverID string, cfg config.MCPServerConfig) (*Client, error) {
	var mcpClient *client.Client
	var err error

	switch cfg.TransportType {
	case config.MCPTransportSSE:
		mcpClient, err = client.NewSSEMCPClient(cfg.URL)
	case config.MCPTransportStreamableHTTP:
		mcpClient, err = client.NewStreamableHttpClient(cfg.URL)
	default:
		return nil, errors.Errorf("mcp server %q: unsupported transport_type %q", serverID, cfg.TransportType)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "mcp server %q: connect", serverID)
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "chatforge", Version: "1.0.0"}

	if _, err := mcpClient.Initialize(initCtx, initReq); err != nil {
		return nil, errors.Wrapf(err, "mcp server %q: initialize", serverID)
	}

	return &Client{mcpClient: mcpClient}, nil
}

// ListTools discovers every tool the server declares.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := c.mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	out := make([]ToolInfo, len(result.Tools))
	for i, t := range result.Tools {
		out[i] = ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: map[string]any{
				"type":       "object",
				"properties": t.InputSchema.Properties,
			},
		}
	}
	return out, nil
}

// CallTool invokes one tool by name and flattens its result to a string, as
// mcpcli.go's Call does via fmt.Sprint(result.Content).
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.mcpClient.CallTool(ctx, req)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(result.Content), nil
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}
