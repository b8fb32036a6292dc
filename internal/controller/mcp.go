package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/mcpclient"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// mcpServerConfig는 mcp_servers.config에서 읽는 연결 설정입니다.
type mcpServerConfig struct {
	Headers map[string]string `json:"headers,omitempty"`
}

// ConnectMCPServer는 서버에 연결해 도구와 리소스 목록으로 행을 통째로 덮어씁니다.
// 연결 실패 시 error 상태와 빈 목록을 기록합니다.
func (c *Controller) ConnectMCPServer(ctx context.Context, userID string, req MCPServerRequest) (*storage.MCPServer, error) {
	const op = "mcp-server-connect"
	if req.ServerID == "" {
		return nil, invalid(op, "server_id is required")
	}
	server, err := storage.GetOwned[storage.MCPServer](ctx, c.repo, userID, req.ServerID)
	if err != nil {
		return nil, wrap(op, err)
	}
	cfg, err := storage.DecodeJSON[mcpServerConfig](server.Config)
	if err != nil {
		return nil, invalid(op, "config: %v", err)
	}

	ctx, cancel := c.withUpstreamTimeout(ctx)
	defer cancel()

	discovery, derr := c.mcp.Discover(ctx, server.Endpoint, cfg.Headers)
	if derr != nil {
		c.logger.Warn("MCP connect failed",
			zap.String("server_id", server.ID),
			zap.String("endpoint", server.Endpoint),
			zap.Error(derr),
		)
		if _, err := c.repo.SetMCPConnection(context.WithoutCancel(ctx), userID, server.ID, storage.MCPConnection{
			Status:    storage.MCPStatusError,
			LastError: derr.Error(),
		}); err != nil {
			return nil, wrap(op, err)
		}
		return nil, &FunctionError{Op: op, Err: fmt.Errorf("%w: %v", ErrUpstream, derr)}
	}

	now := time.Now().UTC()
	updated, err := c.repo.SetMCPConnection(ctx, userID, server.ID, storage.MCPConnection{
		Status:      storage.MCPStatusConnected,
		Tools:       discovery.Tools,
		Resources:   discovery.Resources,
		ConnectedAt: &now,
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	return updated, nil
}

// DisconnectMCPServer는 상태를 disconnected로 바꾸고 목록을 비웁니다.
func (c *Controller) DisconnectMCPServer(ctx context.Context, userID string, req MCPServerRequest) (*storage.MCPServer, error) {
	const op = "mcp-server-disconnect"
	if req.ServerID == "" {
		return nil, invalid(op, "server_id is required")
	}
	updated, err := c.repo.SetMCPConnection(ctx, userID, req.ServerID, storage.MCPConnection{
		Status: storage.MCPStatusDisconnected,
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	return updated, nil
}

// ExecuteMCPTool은 인자를 도구 입력 스키마로 검증한 뒤 tools/call을 보냅니다.
func (c *Controller) ExecuteMCPTool(ctx context.Context, userID string, req MCPToolRequest) (*MCPToolResult, error) {
	const op = "mcp-tool-execute"
	if req.ServerID == "" || req.Tool == "" {
		return nil, invalid(op, "server_id and tool are required")
	}
	server, err := storage.GetOwned[storage.MCPServer](ctx, c.repo, userID, req.ServerID)
	if err != nil {
		return nil, wrap(op, err)
	}
	if server.Status != storage.MCPStatusConnected {
		return nil, invalid(op, "server is %s", server.Status)
	}

	tools, err := server.ToolList()
	if err != nil {
		return nil, wrap(op, err)
	}
	var tool *storage.MCPTool
	for i := range tools {
		if tools[i].Name == req.Tool {
			tool = &tools[i]
			break
		}
	}
	if tool == nil {
		return nil, notFound(op, "tool "+req.Tool)
	}

	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if err := validateArguments(tool.InputSchema, args); err != nil {
		return nil, invalid(op, "%v", err)
	}

	cfg, err := storage.DecodeJSON[mcpServerConfig](server.Config)
	if err != nil {
		return nil, invalid(op, "config: %v", err)
	}

	ctx, cancel := c.withUpstreamTimeout(ctx)
	defer cancel()

	result, err := c.mcp.CallTool(ctx, server.Endpoint, cfg.Headers, tool.Name, args)
	if err != nil {
		if errors.Is(err, mcpclient.ErrToolFailed) {
			return result, &FunctionError{Op: op, Err: fmt.Errorf("%w: %s", ErrUpstream, result.Text)}
		}
		return nil, &FunctionError{Op: op, Err: fmt.Errorf("%w: %v", ErrUpstream, err)}
	}
	return result, nil
}

// validateArguments는 스키마가 있을 때만 검증합니다.
func validateArguments(schema json.RawMessage, args map[string]any) error {
	if len(schema) == 0 || string(schema) == "null" || string(schema) == "{}" {
		return nil
	}
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("arguments do not match tool schema: %s", strings.Join(msgs, "; "))
}
