package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/api"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/blob"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/realtime"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/testutil"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/testutil/mocks"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	srv    *httptest.Server
	auth   *api.Authenticator
	broker *realtime.MemoryBroker
	repo   *storage.Repository
	llm    *mocks.MockProvider
}

func newHarness(t *testing.T, opts ...api.Option) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	broker := realtime.NewMemoryBroker(logger)
	t.Cleanup(func() { _ = broker.Close() })
	repo := testutil.NewTestRepository(t, storage.WithPublisher(broker))

	store, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	llm := mocks.NewMockProvider()
	ctrl, err := controller.NewController(logger, repo, llm, controller.WithBlobStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Stop(context.Background()) })

	auth, err := api.NewAuthenticator("test-secret", "echosync-test")
	require.NoError(t, err)

	server, err := api.NewServer("127.0.0.1:0", ctrl, broker, auth, append([]api.Option{api.WithLogger(logger)}, opts...)...)
	require.NoError(t, err)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, auth: auth, broker: broker, repo: repo, llm: llm}
}

func (h *harness) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := h.auth.IssueToken(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

type reply struct {
	Status int
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

func (h *harness) call(t *testing.T, method, path, token string, body any) reply {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := reply{Status: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return out
}

func TestAuthenticatorRoundTrip(t *testing.T) {
	auth, err := api.NewAuthenticator("secret", "echosync")
	require.NoError(t, err)

	tok, err := auth.IssueToken("user-1", time.Minute)
	require.NoError(t, err)
	uid, err := auth.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)

	other, err := api.NewAuthenticator("other-secret", "echosync")
	require.NoError(t, err)
	_, err = other.Verify(tok)
	require.ErrorIs(t, err, api.ErrInvalidToken)

	expired, err := auth.IssueToken("user-1", -time.Minute)
	require.NoError(t, err)
	_, err = auth.Verify(expired)
	require.ErrorIs(t, err, api.ErrInvalidToken)

	_, err = auth.Verify("")
	require.ErrorIs(t, err, api.ErrMissingToken)
}

func TestRequestsRequireToken(t *testing.T) {
	h := newHarness(t)

	r := h.call(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, r.Status)

	r = h.call(t, http.MethodGet, "/rest/v1/agents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, r.Status)
	assert.NotEmpty(t, r.Error)

	r = h.call(t, http.MethodPost, "/functions/v1/chat-with-agent", "garbage", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, r.Status)
	assert.Zero(t, h.llm.GetCallCount())
}

func TestFunctionEnvelopeAndStatusMapping(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t, "user-1")

	agent := storage.Agent{Name: "Tutor", Role: storage.RoleStudent, Provider: storage.ProviderOpenAI, Active: true}
	require.NoError(t, h.repo.CreateAgent(context.Background(), &agent))

	r := h.call(t, http.MethodPost, "/functions/v1/activate-agent", tok, map[string]string{"agent_id": agent.ID})
	require.Equal(t, http.StatusOK, r.Status, r.Error)

	r = h.call(t, http.MethodPost, "/functions/v1/activate-agent", tok, map[string]string{"agent_id": agent.ID})
	assert.Equal(t, http.StatusConflict, r.Status)

	h.llm.SetResponse("hi", "hello there")
	r = h.call(t, http.MethodPost, "/functions/v1/chat-with-agent", tok, map[string]string{"agent_id": agent.ID, "message": "hi"})
	require.Equal(t, http.StatusOK, r.Status, r.Error)
	var chat controller.ChatResult
	require.NoError(t, json.Unmarshal(r.Data, &chat))
	assert.Equal(t, "hello there", chat.Response)
	assert.NotEmpty(t, chat.InteractionID)

	r = h.call(t, http.MethodPost, "/functions/v1/chat-with-agent", tok, map[string]string{"agent_id": agent.ID, "message": " "})
	assert.Equal(t, http.StatusBadRequest, r.Status)

	r = h.call(t, http.MethodPost, "/functions/v1/no-such-function", tok, map[string]string{})
	assert.Equal(t, http.StatusNotFound, r.Status)

	h.llm.SetErrorMessage("again", "model overloaded")
	r = h.call(t, http.MethodPost, "/functions/v1/chat-with-agent", tok, map[string]string{"agent_id": agent.ID, "message": "again"})
	assert.Equal(t, http.StatusBadGateway, r.Status)
	assert.NotEmpty(t, r.Error)
}

func TestRateLimitPerUser(t *testing.T) {
	h := newHarness(t, api.WithRateLimit(0.001, 2))
	alice := h.token(t, "alice")
	bob := h.token(t, "bob")

	for i := 0; i < 2; i++ {
		r := h.call(t, http.MethodGet, "/rest/v1/agents", alice, nil)
		require.Equal(t, http.StatusOK, r.Status)
	}
	r := h.call(t, http.MethodGet, "/rest/v1/agents", alice, nil)
	assert.Equal(t, http.StatusTooManyRequests, r.Status)

	r = h.call(t, http.MethodGet, "/rest/v1/agents", bob, nil)
	assert.Equal(t, http.StatusOK, r.Status)
}

func TestTableCRUDIsScopedToCaller(t *testing.T) {
	h := newHarness(t)
	alice := h.token(t, "alice")
	bob := h.token(t, "bob")

	r := h.call(t, http.MethodPost, "/rest/v1/mcp_servers", alice, map[string]any{
		"name":     "calc",
		"endpoint": "http://127.0.0.1:9/mcp",
	})
	require.Equal(t, http.StatusCreated, r.Status, r.Error)
	var server storage.MCPServer
	require.NoError(t, json.Unmarshal(r.Data, &server))
	assert.Equal(t, storage.MCPStatusDisconnected, server.Status)
	assert.Equal(t, "alice", server.UserID)

	r = h.call(t, http.MethodGet, "/rest/v1/mcp_servers", bob, nil)
	require.Equal(t, http.StatusOK, r.Status)
	assert.JSONEq(t, `[]`, string(r.Data))

	r = h.call(t, http.MethodPatch, "/rest/v1/mcp_servers/"+server.ID, bob, map[string]any{"name": "stolen"})
	assert.Equal(t, http.StatusNotFound, r.Status)

	r = h.call(t, http.MethodPatch, "/rest/v1/mcp_servers/"+server.ID, alice, map[string]any{"name": "calculator"})
	require.Equal(t, http.StatusOK, r.Status, r.Error)
	require.NoError(t, json.Unmarshal(r.Data, &server))
	assert.Equal(t, "calculator", server.Name)

	r = h.call(t, http.MethodDelete, "/rest/v1/mcp_servers/"+server.ID, alice, nil)
	require.Equal(t, http.StatusOK, r.Status)

	r = h.call(t, http.MethodGet, "/rest/v1/mcp_servers", alice, nil)
	assert.JSONEq(t, `[]`, string(r.Data))
}

func TestTableRejectsServerManagedColumns(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t, "alice")

	r := h.call(t, http.MethodPost, "/rest/v1/mcp_servers", tok, map[string]any{
		"name":     "calc",
		"endpoint": "http://127.0.0.1:9/mcp",
		"status":   "connected",
	})
	assert.Equal(t, http.StatusBadRequest, r.Status)
	assert.Contains(t, r.Error, "status")

	r = h.call(t, http.MethodPost, "/rest/v1/agent_interactions", tok, map[string]any{"input": "x"})
	assert.Equal(t, http.StatusMethodNotAllowed, r.Status)

	r = h.call(t, http.MethodGet, "/rest/v1/secrets", tok, nil)
	assert.Equal(t, http.StatusNotFound, r.Status)
}

func TestProfileUpdateOnlyOwnRow(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t, "alice")

	r := h.call(t, http.MethodGet, "/rest/v1/profiles", tok, nil)
	require.Equal(t, http.StatusOK, r.Status)
	var profiles []storage.Profile
	require.NoError(t, json.Unmarshal(r.Data, &profiles))
	require.Len(t, profiles, 1)
	assert.Equal(t, "alice", profiles[0].ID)

	r = h.call(t, http.MethodPatch, "/rest/v1/profiles/alice", tok, map[string]any{"display_name": "  Alice  "})
	require.Equal(t, http.StatusOK, r.Status, r.Error)
	var profile storage.Profile
	require.NoError(t, json.Unmarshal(r.Data, &profile))
	assert.Equal(t, "Alice", profile.DisplayName)

	r = h.call(t, http.MethodPatch, "/rest/v1/profiles/alice", tok, map[string]any{"role": "founder"})
	assert.Equal(t, http.StatusBadRequest, r.Status)

	r = h.call(t, http.MethodPatch, "/rest/v1/profiles/bob", tok, map[string]any{"display_name": "Bob"})
	assert.Equal(t, http.StatusNotFound, r.Status)
}

func TestUploadWithProcessing(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t, "alice")

	var buf bytes.Buffer
	buf.WriteString("--boundary\r\n")
	buf.WriteString("Content-Disposition: form-data; name=\"file\"; filename=\"notes.txt\"\r\n")
	buf.WriteString("Content-Type: text/plain\r\n\r\n")
	buf.WriteString("quarterly revenue grew\r\n")
	buf.WriteString("--boundary\r\n")
	buf.WriteString("Content-Disposition: form-data; name=\"process\"\r\n\r\ntrue\r\n")
	buf.WriteString("--boundary--\r\n")

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/storage/v1/documents", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=boundary")

	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Data storage.Document `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "notes.txt", out.Data.Name)
	assert.Equal(t, storage.DocumentStatusProcessed, out.Data.Status)
	assert.Contains(t, out.Data.Content, "quarterly revenue grew")
}

func dialFeed(t *testing.T, h *harness, table, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/realtime/v1?table=" + table + "&access_token=" + token
	conn, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })

	require.Eventually(t, func() bool {
		return h.broker.SubscriberCount(table) > 0
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

func TestFeedDeliversOnlyCallersRows(t *testing.T) {
	h := newHarness(t)
	alice := h.token(t, "alice")

	conn := dialFeed(t, h, storage.TableMCPServers, alice)
	ctx := context.Background()

	bobRow := storage.MCPServer{Name: "bob-server", Endpoint: "http://b"}
	require.NoError(t, h.repo.CreateMCPServer(ctx, "bob", &bobRow))
	aliceRow := storage.MCPServer{Name: "alice-server", Endpoint: "http://a"}
	require.NoError(t, h.repo.CreateMCPServer(ctx, "alice", &aliceRow))

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var evt realtime.ChangeEvent
	require.NoError(t, wsjson.Read(readCtx, conn, &evt))

	assert.Equal(t, realtime.EventInsert, evt.Type)
	assert.Equal(t, aliceRow.ID, evt.RowID)
	var got storage.MCPServer
	require.NoError(t, evt.Decode(&got))
	assert.Equal(t, "alice-server", got.Name)
}

func TestFeedSubscribedBeforeDialReturns(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/realtime/v1?table=" + storage.TableMCPServers + "&access_token=" + h.token(t, "alice")
	conn, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// Dial이 돌아온 직후 커밋된 변경도 전달되어야 합니다
	assert.Equal(t, 1, h.broker.SubscriberCount(storage.TableMCPServers))
	row := storage.MCPServer{Name: "right-after-dial", Endpoint: "http://a"}
	require.NoError(t, h.repo.CreateMCPServer(ctx, "alice", &row))

	var evt realtime.ChangeEvent
	require.NoError(t, wsjson.Read(ctx, conn, &evt))
	assert.Equal(t, row.ID, evt.RowID)
}

func TestFeedRejectsUnknownTableAndMissingToken(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	base := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/realtime/v1"

	_, resp, err := websocket.Dial(ctx, base+"?table=agents", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.Dial(ctx, base+"?table=nope&access_token="+h.token(t, "alice"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
