package resource

import (
	"context"
	"encoding/json"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
)

// MCPHook은 사용자의 MCP 서버 목록을 동기화합니다.
type MCPHook struct {
	cfg     config
	backend Backend
	group   group

	Servers *Collection[storage.MCPServer]
}

// NewMCPServer는 서버 등록 입력입니다.
type NewMCPServer struct {
	Name     string          `json:"name"`
	Endpoint string          `json:"endpoint"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// OpenMCP는 MCPHook을 시작합니다.
func OpenMCP(ctx context.Context, backend Backend, opts ...Option) (*MCPHook, error) {
	h := &MCPHook{cfg: newConfig(opts), backend: backend}
	var err error
	if h.Servers, err = openInto(ctx, &h.group, backend, storage.TableMCPServers, Options[storage.MCPServer]{}, h.cfg.logger.Named("mcp")); err != nil {
		return nil, err
	}
	return h, nil
}

// Wait는 초기 조회를 기다립니다.
func (h *MCPHook) Wait(ctx context.Context) error {
	return h.Servers.Wait(ctx)
}

// Close는 구독을 닫습니다.
func (h *MCPHook) Close() error {
	return h.group.closeAll()
}

// Connected는 connected 상태의 서버입니다.
func (h *MCPHook) Connected() []storage.MCPServer {
	var out []storage.MCPServer
	for _, s := range h.Servers.Items() {
		if s.Status == storage.MCPStatusConnected {
			out = append(out, s)
		}
	}
	return out
}

// AddServer는 서버를 disconnected 상태로 등록합니다.
func (h *MCPHook) AddServer(ctx context.Context, in NewMCPServer) (*storage.MCPServer, error) {
	var out storage.MCPServer
	err := h.backend.Insert(ctx, storage.TableMCPServers, in, &out)
	if err := notify(h.cfg.notifier, "add-mcp-server", "MCP server added", err); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateServer는 이름, 엔드포인트, 설정을 변경합니다.
func (h *MCPHook) UpdateServer(ctx context.Context, id string, values map[string]any) (*storage.MCPServer, error) {
	var out storage.MCPServer
	err := h.backend.Update(ctx, storage.TableMCPServers, id, values, &out)
	if err := notify(h.cfg.notifier, "update-mcp-server", "MCP server updated", err); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveServer는 서버를 삭제합니다.
func (h *MCPHook) RemoveServer(ctx context.Context, id string) error {
	err := h.backend.Delete(ctx, storage.TableMCPServers, id)
	return notify(h.cfg.notifier, "remove-mcp-server", "MCP server removed", err)
}

// Connect는 서버에 연결해 도구와 리소스 목록을 갱신합니다.
func (h *MCPHook) Connect(ctx context.Context, id string) (*storage.MCPServer, error) {
	return h.connection(ctx, controller.FnMCPServerConnect, id, "MCP server connected")
}

// Disconnect는 서버 연결을 끊습니다.
func (h *MCPHook) Disconnect(ctx context.Context, id string) (*storage.MCPServer, error) {
	return h.connection(ctx, controller.FnMCPServerDisconnect, id, "MCP server disconnected")
}

func (h *MCPHook) connection(ctx context.Context, fn, id, message string) (*storage.MCPServer, error) {
	var out storage.MCPServer
	err := h.backend.Invoke(ctx, fn, controller.MCPServerRequest{ServerID: id}, &out)
	if err := notify(h.cfg.notifier, fn, message, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteTool은 연결된 서버의 도구를 실행합니다.
func (h *MCPHook) ExecuteTool(ctx context.Context, serverID, tool string, args map[string]any) (*controller.MCPToolResult, error) {
	var out controller.MCPToolResult
	err := h.backend.Invoke(ctx, controller.FnMCPToolExecute, controller.MCPToolRequest{
		ServerID:  serverID,
		Tool:      tool,
		Arguments: args,
	}, &out)
	if err := notify(h.cfg.notifier, controller.FnMCPToolExecute, "Tool executed", err); err != nil {
		return nil, err
	}
	return &out, nil
}
