package mcpclient_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/mcpclient"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T) string {
	t.Helper()
	s := server.NewMCPServer("weather", "0.1.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)
	s.AddTool(
		mcp.NewTool("forecast",
			mcp.WithDescription("Weather forecast for a city"),
			mcp.WithString("city", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			city, err := req.RequireString("city")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText("sunny in " + city), nil
		},
	)
	s.AddResource(
		mcp.NewResource("docs://readme", "readme",
			mcp.WithResourceDescription("Server readme"),
			mcp.WithMIMEType("text/plain"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{mcp.TextResourceContents{URI: "docs://readme", Text: "hi"}}, nil
		},
	)

	srv := server.NewTestStreamableHTTPServer(s)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestDiscover(t *testing.T) {
	endpoint := newTestServer(t)
	c := mcpclient.New(mcpclient.WithTimeout(5*time.Second), mcpclient.WithLogger(zaptest.NewLogger(t)))

	got, err := c.Discover(context.Background(), endpoint, nil)
	require.NoError(t, err)
	assert.Equal(t, "weather", got.ServerName)

	require.Len(t, got.Tools, 1)
	assert.Equal(t, "forecast", got.Tools[0].Name)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(got.Tools[0].InputSchema, &schema))
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema["required"], "city")

	require.Len(t, got.Resources, 1)
	assert.Equal(t, "docs://readme", got.Resources[0].URI)
	assert.Equal(t, "text/plain", got.Resources[0].MimeType)
}

func TestCallTool(t *testing.T) {
	endpoint := newTestServer(t)
	c := mcpclient.New()

	res, err := c.CallTool(context.Background(), endpoint, nil, "forecast", map[string]any{"city": "Seoul"})
	require.NoError(t, err)
	assert.Equal(t, "sunny in Seoul", res.Text)
	assert.False(t, res.IsError)

	res, err = c.CallTool(context.Background(), endpoint, nil, "forecast", map[string]any{})
	require.ErrorIs(t, err, mcpclient.ErrToolFailed)
	assert.True(t, res.IsError)
}

func TestDiscoverUnreachable(t *testing.T) {
	c := mcpclient.New(mcpclient.WithTimeout(time.Second))
	_, err := c.Discover(context.Background(), "http://127.0.0.1:1/mcp", nil)
	require.Error(t, err)

	_, err = c.Discover(context.Background(), "", nil)
	require.Error(t, err)
}
