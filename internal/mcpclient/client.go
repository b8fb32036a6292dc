// Package mcpclient는 원격 MCP 서버와 streamable HTTP로 통신합니다.
//
// 호출마다 세션을 새로 열고 initialize 후 요청을 보내고 닫습니다.
package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
)

const (
	clientName    = "echosync"
	clientVersion = "1.0.0"
)

// ErrToolFailed는 도구가 isError 결과를 돌려줬을 때 반환됩니다.
var ErrToolFailed = errors.New("mcpclient: tool reported an error")

// Discovery는 initialize와 목록 조회 결과입니다.
type Discovery struct {
	ServerName      string
	ServerVersion   string
	ProtocolVersion string
	Tools           []storage.MCPTool
	Resources       []storage.MCPResource
}

// ToolResult는 tools/call 결과입니다.
type ToolResult struct {
	Text    string          `json:"text"`
	IsError bool            `json:"is_error"`
	Content json.RawMessage `json:"content"`
}

// Client는 MCP 서버 호출을 담당합니다.
type Client struct {
	timeout time.Duration
	logger  *zap.Logger
}

// Option은 Client 옵션입니다.
type Option func(*Client)

// WithTimeout은 세션 하나의 HTTP 타임아웃을 설정합니다.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger는 로거를 설정합니다.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New는 Client를 생성합니다.
func New(opts ...Option) *Client {
	c := &Client{timeout: 30 * time.Second, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover는 서버에 연결해 도구와 리소스 목록을 가져옵니다.
// 서버가 광고하지 않은 기능은 빈 목록입니다.
func (c *Client) Discover(ctx context.Context, endpoint string, headers map[string]string) (*Discovery, error) {
	session, init, err := c.open(ctx, endpoint, headers)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	out := &Discovery{
		ServerName:      init.ServerInfo.Name,
		ServerVersion:   init.ServerInfo.Version,
		ProtocolVersion: init.ProtocolVersion,
		Tools:           []storage.MCPTool{},
		Resources:       []storage.MCPResource{},
	}

	if init.Capabilities.Tools != nil {
		tools, err := session.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return nil, fmt.Errorf("mcpclient: tools/list: %w", err)
		}
		for _, tool := range tools.Tools {
			schema, err := toolSchema(tool)
			if err != nil {
				return nil, err
			}
			out.Tools = append(out.Tools, storage.MCPTool{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: schema,
			})
		}
	}

	if init.Capabilities.Resources != nil {
		resources, err := session.ListResources(ctx, mcp.ListResourcesRequest{})
		if err != nil {
			return nil, fmt.Errorf("mcpclient: resources/list: %w", err)
		}
		for _, res := range resources.Resources {
			out.Resources = append(out.Resources, storage.MCPResource{
				URI:         res.URI,
				Name:        res.Name,
				Description: res.Description,
				MimeType:    res.MIMEType,
			})
		}
	}

	c.logger.Info("MCP server discovered",
		zap.String("endpoint", endpoint),
		zap.String("server", out.ServerName),
		zap.Int("tools", len(out.Tools)),
		zap.Int("resources", len(out.Resources)),
	)
	return out, nil
}

// CallTool은 name 도구를 args로 실행합니다.
// 도구가 오류를 보고하면 결과와 함께 ErrToolFailed를 반환합니다.
func (c *Client) CallTool(ctx context.Context, endpoint string, headers map[string]string, name string, args map[string]any) (*ToolResult, error) {
	session, _, err := c.open(ctx, endpoint, headers)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := session.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: tools/call %s: %w", name, err)
	}

	content, err := json.Marshal(res.Content)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: encode content: %w", err)
	}

	var texts []string
	for _, item := range res.Content {
		if tc, ok := mcp.AsTextContent(item); ok {
			texts = append(texts, tc.Text)
		}
	}

	out := &ToolResult{
		Text:    strings.Join(texts, "\n"),
		IsError: res.IsError,
		Content: content,
	}
	if res.IsError {
		return out, fmt.Errorf("%w: %s", ErrToolFailed, out.Text)
	}
	return out, nil
}

func (c *Client) open(ctx context.Context, endpoint string, headers map[string]string) (*client.Client, *mcp.InitializeResult, error) {
	if endpoint == "" {
		return nil, nil, fmt.Errorf("mcpclient: empty endpoint")
	}

	opts := []transport.StreamableHTTPCOption{transport.WithHTTPTimeout(c.timeout)}
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}

	session, err := client.NewStreamableHttpClient(endpoint, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("mcpclient: create client: %w", err)
	}
	if err := session.Start(ctx); err != nil {
		_ = session.Close()
		return nil, nil, fmt.Errorf("mcpclient: start: %w", err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}

	init, err := session.Initialize(ctx, req)
	if err != nil {
		_ = session.Close()
		return nil, nil, fmt.Errorf("mcpclient: initialize: %w", err)
	}
	return session, init, nil
}

func toolSchema(tool mcp.Tool) (json.RawMessage, error) {
	if len(tool.RawInputSchema) > 0 {
		return tool.RawInputSchema, nil
	}
	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: encode schema for %s: %w", tool.Name, err)
	}
	return raw, nil
}
