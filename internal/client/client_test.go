package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/api"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/blob"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/client"
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

// dropper는 열린 변경 알림 연결을 서버 쪽에서 끊을 수 있게 합니다.
type dropper struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func newDropper() *dropper {
	d := &dropper{}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

func (d *dropper) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/realtime/") {
			next.ServeHTTP(w, r)
			return
		}
		d.mu.Lock()
		killed := d.ctx
		d.mu.Unlock()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			select {
			case <-killed.Done():
				cancel()
			case <-ctx.Done():
			}
		}()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (d *dropper) drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancel()
	d.ctx, d.cancel = context.WithCancel(context.Background())
}

type env struct {
	url    string
	auth   *api.Authenticator
	repo   *storage.Repository
	broker *realtime.MemoryBroker
	llm    *mocks.MockProvider
	drop   *dropper
}

func newEnv(t *testing.T) *env {
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

	auth, err := api.NewAuthenticator("client-secret", "")
	require.NoError(t, err)
	server, err := api.NewServer("127.0.0.1:0", ctrl, broker, auth, api.WithLogger(logger))
	require.NoError(t, err)

	d := newDropper()
	srv := httptest.NewServer(d.wrap(server.Handler()))
	t.Cleanup(srv.Close)
	return &env{url: srv.URL, auth: auth, repo: repo, broker: broker, llm: llm, drop: d}
}

func (e *env) client(t *testing.T, userID string) *client.Client {
	t.Helper()
	tok, err := e.auth.IssueToken(userID, time.Hour)
	require.NoError(t, err)
	c, err := client.New(e.url, tok,
		client.WithLogger(zaptest.NewLogger(t)),
		client.WithReconnect(client.ReconnectConfig{
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     50 * time.Millisecond,
			MaxElapsedTime:  5 * time.Second,
		}),
	)
	require.NoError(t, err)
	return c
}

func next(t *testing.T, feed realtime.Feed) realtime.ChangeEvent {
	t.Helper()
	select {
	case evt, ok := <-feed.Events():
		require.True(t, ok, "feed closed")
		return evt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change event")
		return realtime.ChangeEvent{}
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := client.New("ftp://example.com", "")
	require.Error(t, err)
	_, err = client.New("://", "")
	require.Error(t, err)
}

func TestErrorsMapToControllerKinds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	anon, err := client.New(e.url, "")
	require.NoError(t, err)
	health, err := anon.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	err = anon.List(ctx, storage.TableAgents, nil, nil)
	require.ErrorIs(t, err, controller.ErrUnauthenticated)

	c := e.client(t, "alice")
	err = c.Invoke(ctx, controller.FnChatWithAgent, controller.ChatRequest{AgentID: "x", Message: ""}, nil)
	require.ErrorIs(t, err, controller.ErrInvalidInput)

	err = c.Invoke(ctx, controller.FnChatWithAgent, controller.ChatRequest{AgentID: "missing", Message: "hi"}, nil)
	require.ErrorIs(t, err, controller.ErrNotFound)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Message)
}

func TestInvokeAndTables(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.client(t, "alice")

	for i := 0; i < 2; i++ {
		agent := storage.Agent{Name: "Coach", Role: storage.RoleFounder, Provider: storage.ProviderGemini, Active: true}
		require.NoError(t, e.repo.CreateAgent(ctx, &agent))
	}

	var selected controller.SelectRoleResult
	require.NoError(t, c.Invoke(ctx, controller.FnSelectInitialRole, controller.SelectRoleRequest{Role: storage.RoleFounder}, &selected))
	assert.Equal(t, storage.RoleFounder, selected.Profile.Role)
	assert.Len(t, selected.Activated, 2)

	var active []storage.UserAgent
	require.NoError(t, c.List(ctx, storage.TableUserAgents, nil, &active))
	assert.Len(t, active, 2)

	var agents []storage.Agent
	require.NoError(t, c.List(ctx, storage.TableAgents, url.Values{"role": {storage.RoleTrader}}, &agents))
	assert.Empty(t, agents)

	var wf storage.Workflow
	require.NoError(t, c.Insert(ctx, storage.TableWorkflows, map[string]any{
		"name":  "digest",
		"steps": []map[string]string{{"type": "agent_chat", "agent_id": "none"}},
	}, &wf))
	assert.Equal(t, storage.WorkflowStatusIdle, wf.Status)

	require.NoError(t, c.Update(ctx, storage.TableWorkflows, wf.ID, map[string]any{"description": "daily"}, &wf))
	assert.Equal(t, "daily", wf.Description)

	require.NoError(t, c.Delete(ctx, storage.TableWorkflows, wf.ID))
	err := c.Delete(ctx, storage.TableWorkflows, wf.ID)
	require.ErrorIs(t, err, controller.ErrNotFound)
}

func TestUpload(t *testing.T) {
	e := newEnv(t)
	c := e.client(t, "alice")

	doc, err := c.Upload(context.Background(), "plan.md", "text/markdown", []byte("# Plan\nship it"), true)
	require.NoError(t, err)
	assert.Equal(t, "plan.md", doc.Name)
	assert.Equal(t, storage.DocumentStatusProcessed, doc.Status)
	assert.Contains(t, doc.Content, "ship it")
}

func TestSubscribeReceivesScopedEvents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.client(t, "alice")

	feed, err := c.Subscribe(ctx, storage.TableMCPServers)
	require.NoError(t, err)
	defer feed.Close()
	require.Eventually(t, func() bool {
		return e.broker.SubscriberCount(storage.TableMCPServers) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.repo.CreateMCPServer(ctx, "bob", &storage.MCPServer{Name: "b", Endpoint: "http://b"}))
	mine := storage.MCPServer{Name: "a", Endpoint: "http://a"}
	require.NoError(t, e.repo.CreateMCPServer(ctx, "alice", &mine))

	evt := next(t, feed)
	assert.Equal(t, realtime.EventInsert, evt.Type)
	assert.Equal(t, mine.ID, evt.RowID)

	require.NoError(t, feed.Close())
	_, ok := <-feed.Events()
	assert.False(t, ok)
}

func TestSubscribeUnknownTable(t *testing.T) {
	e := newEnv(t)
	c := e.client(t, "alice")

	_, err := c.Subscribe(context.Background(), "nope")
	require.ErrorIs(t, err, controller.ErrNotFound)
}

func TestSubscribeResyncsAfterReconnect(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.client(t, "alice")

	feed, err := c.Subscribe(ctx, storage.TableMCPServers)
	require.NoError(t, err)
	defer feed.Close()
	require.Eventually(t, func() bool {
		return e.broker.SubscriberCount(storage.TableMCPServers) == 1
	}, 2*time.Second, 10*time.Millisecond)

	e.drop.drop()

	evt := next(t, feed)
	assert.Equal(t, realtime.EventResync, evt.Type)
	assert.Equal(t, storage.TableMCPServers, evt.Table)

	require.Eventually(t, func() bool {
		return e.broker.SubscriberCount(storage.TableMCPServers) == 1
	}, 2*time.Second, 10*time.Millisecond)

	row := storage.MCPServer{Name: "after", Endpoint: "http://a"}
	require.NoError(t, e.repo.CreateMCPServer(ctx, "alice", &row))
	evt = next(t, feed)
	assert.Equal(t, realtime.EventInsert, evt.Type)
	assert.Equal(t, row.ID, evt.RowID)
}
