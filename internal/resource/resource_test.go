package resource_test

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/api"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/blob"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/realtime"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/resource"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/testutil"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/testutil/mocks"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type world struct {
	repo   *storage.Repository
	broker *realtime.MemoryBroker
	ctrl   *controller.Controller
	llm    *mocks.MockProvider
}

func newWorld(t *testing.T) *world {
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

	return &world{repo: repo, broker: broker, ctrl: ctrl, llm: llm}
}

func (w *world) session(t *testing.T, userID string) *api.Local {
	t.Helper()
	local, err := api.NewLocal(w.ctrl, w.broker, userID)
	require.NoError(t, err)
	return local
}

// countingBackend는 원격 호출 수를 셉니다.
type countingBackend struct {
	resource.Backend
	invokes atomic.Int64
}

func (b *countingBackend) Invoke(ctx context.Context, name string, in, out any) error {
	b.invokes.Add(1)
	return b.Backend.Invoke(ctx, name, in, out)
}

// gatedBackend는 release가 닫힐 때까지 목록 조회를 붙잡습니다.
type gatedBackend struct {
	resource.Backend
	listing chan struct{}
	release chan struct{}
}

func (b *gatedBackend) List(ctx context.Context, table string, query url.Values, out any) error {
	close(b.listing)
	<-b.release
	return b.Backend.List(ctx, table, query, out)
}

type failingBackend struct {
	resource.Backend
}

func (failingBackend) List(context.Context, string, url.Values, any) error {
	return errors.New("connection refused")
}

// recorder는 Notifier 호출을 기록합니다.
type recorder struct {
	successes atomic.Int64
	failures  atomic.Int64
}

func (r *recorder) Success(string, string) { r.successes.Add(1) }
func (r *recorder) Failure(string, error)  { r.failures.Add(1) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond)
}

func countID[T resource.Row](c *resource.Collection[T], id string) int {
	n := 0
	for _, row := range c.Items() {
		if row.GetID() == id {
			n++
		}
	}
	return n
}

func TestCollectionInitialLoadIsOrdered(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, w.repo.CreateMCPServer(ctx, "alice", &storage.MCPServer{Name: name, Endpoint: "http://" + name}))
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, w.repo.CreateMCPServer(ctx, "bob", &storage.MCPServer{Name: "other", Endpoint: "http://o"}))

	c, err := resource.Open(ctx, resource.Backend(w.session(t, "alice")), storage.TableMCPServers, resource.Options[storage.MCPServer]{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Wait(ctx))
	assert.False(t, c.Loading())
	assert.NoError(t, c.Err())

	items := c.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "third", items[0].Name)
	assert.Equal(t, "first", items[2].Name)
}

func TestCollectionLoadingUntilListResolves(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	gated := &gatedBackend{
		Backend: w.session(t, "alice"),
		listing: make(chan struct{}),
		release: make(chan struct{}),
	}

	c, err := resource.Open(ctx, resource.Backend(gated), storage.TableMCPServers, resource.Options[storage.MCPServer]{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()

	<-gated.listing
	assert.True(t, c.Loading())

	// 목록 조회 중의 쓰기는 조회 결과와 변경 알림 양쪽에 나타납니다.
	row := storage.MCPServer{Name: "racy", Endpoint: "http://r"}
	require.NoError(t, w.repo.CreateMCPServer(ctx, "alice", &row))
	close(gated.release)

	require.NoError(t, c.Wait(ctx))
	assert.False(t, c.Loading())

	marker := storage.MCPServer{Name: "marker", Endpoint: "http://m"}
	require.NoError(t, w.repo.CreateMCPServer(ctx, "alice", &marker))
	waitFor(t, func() bool { return countID(c, marker.ID) == 1 })

	assert.Equal(t, 1, countID(c, row.ID))
	assert.Equal(t, 2, c.Len())
}

func TestCollectionFailedLoadIsDistinguishable(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	c, err := resource.Open(ctx, resource.Backend(failingBackend{Backend: w.session(t, "alice")}), storage.TableMCPServers, resource.Options[storage.MCPServer]{}, nil)
	require.NoError(t, err)
	defer c.Close()

	require.Error(t, c.Wait(ctx))
	assert.False(t, c.Loading())
	assert.Error(t, c.Err())
	assert.Zero(t, c.Len())
}

func TestCollectionAppliesUpdatesDeletesAndResync(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	c, err := resource.Open(ctx, resource.Backend(w.session(t, "alice")), storage.TableMCPServers, resource.Options[storage.MCPServer]{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Wait(ctx))

	row := storage.MCPServer{Name: "calc", Endpoint: "http://c"}
	require.NoError(t, w.repo.CreateMCPServer(ctx, "alice", &row))
	waitFor(t, func() bool { return c.Len() == 1 })

	_, err = storage.UpdateOwned[storage.MCPServer](ctx, w.repo, "alice", row.ID, map[string]any{"name": "calculator"})
	require.NoError(t, err)
	waitFor(t, func() bool {
		got, ok := c.Get(row.ID)
		return ok && got.Name == "calculator"
	})

	require.NoError(t, storage.DeleteOwned[storage.MCPServer](ctx, w.repo, "alice", row.ID))
	waitFor(t, func() bool { return c.Len() == 0 })

	// 변경 알림 없이 들어간 행은 RESYNC 이후에만 보입니다.
	silent := storage.MCPServer{Name: "silent", Endpoint: "http://s", Status: storage.MCPStatusDisconnected}
	silent.UserID = "alice"
	require.NoError(t, w.repo.DB().Create(&silent).Error)

	resync := realtime.ChangeEvent{Table: storage.TableMCPServers, Type: realtime.EventResync, UserID: "alice"}
	require.NoError(t, w.broker.Publish(ctx, resync))
	waitFor(t, func() bool { return countID(c, silent.ID) == 1 })
}

func TestCollectionCloseReleasesFeed(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	hook, err := resource.OpenRAG(ctx, w.session(t, "alice"))
	require.NoError(t, err)
	require.NoError(t, hook.Wait(ctx))
	assert.Equal(t, 1, w.broker.SubscriberCount(storage.TableVectorIndexes))

	require.NoError(t, hook.Close())
	require.NoError(t, hook.Close())
	assert.Zero(t, w.broker.SubscriberCount(storage.TableVectorIndexes))
	assert.Zero(t, w.broker.SubscriberCount(storage.TableDocuments))
}

func TestAgentsHookActivationFlow(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 6; i++ {
		agent := storage.Agent{Name: "Analyst", Role: storage.RoleTrader, Provider: storage.ProviderOpenAI, Active: true}
		require.NoError(t, w.repo.CreateAgent(ctx, &agent))
		ids = append(ids, agent.ID)
	}
	other := storage.Agent{Name: "Tutor", Role: storage.RoleStudent, Provider: storage.ProviderOpenAI, Active: true}
	require.NoError(t, w.repo.CreateAgent(ctx, &other))

	notes := &recorder{}
	hook, err := resource.OpenAgents(ctx, w.session(t, "alice"), resource.WithNotifier(notes), resource.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer hook.Close()
	require.NoError(t, hook.Wait(ctx))
	assert.Empty(t, hook.Role())
	assert.Len(t, hook.Agents.Items(), 7)

	for _, id := range ids[:5] {
		_, err := hook.Activate(ctx, id)
		require.NoError(t, err)
	}
	_, err = hook.Activate(ctx, ids[5])
	require.ErrorIs(t, err, controller.ErrConflict)
	_, err = hook.Activate(ctx, ids[0])
	require.ErrorIs(t, err, controller.ErrConflict)

	waitFor(t, func() bool { return hook.Active.Len() == 5 })
	count, err := w.repo.CountUserAgents(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)

	require.NoError(t, hook.Deactivate(ctx, ids[0]))
	waitFor(t, func() bool { return hook.Active.Len() == 4 })
	_, stillThere := hook.Active.Get(ids[0])
	assert.False(t, stillThere)

	assert.EqualValues(t, 6, notes.successes.Load())
	assert.EqualValues(t, 2, notes.failures.Load())
}

func TestAgentsHookSelectRoleAndChat(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	agent := storage.Agent{Name: "Mentor", Role: storage.RoleFounder, Provider: storage.ProviderAnthropic, Active: true}
	require.NoError(t, w.repo.CreateAgent(ctx, &agent))
	w.llm.SetResponse("How do I raise a seed round?", "Start with a clear narrative.")

	backend := &countingBackend{Backend: w.session(t, "alice")}
	hook, err := resource.OpenAgents(ctx, backend)
	require.NoError(t, err)
	defer hook.Close()
	require.NoError(t, hook.Wait(ctx))

	res, err := hook.SelectRole(ctx, storage.RoleFounder)
	require.NoError(t, err)
	assert.Equal(t, []string{agent.ID}, res.Activated)
	waitFor(t, func() bool { return hook.Role() == storage.RoleFounder && len(hook.ActiveAgents()) == 1 })
	assert.Len(t, hook.Available(), 1)

	invokes := backend.invokes.Load()
	for _, msg := range []string{"", "  \n"} {
		_, err := hook.SendMessage(ctx, agent.ID, msg, "")
		require.ErrorIs(t, err, controller.ErrInvalidInput)
	}
	assert.Equal(t, invokes, backend.invokes.Load())
	assert.Zero(t, w.llm.GetCallCount())

	reply, err := hook.SendMessage(ctx, agent.ID, "How do I raise a seed round?", "")
	require.NoError(t, err)
	assert.Equal(t, "Start with a clear narrative.", reply.Response)
	waitFor(t, func() bool { return countID(hook.Interactions, reply.InteractionID) == 1 })
	assert.Len(t, hook.History(agent.ID), 1)

	profile, err := hook.SetDisplayName(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", profile.DisplayName)
}

func TestA2AHookStatusNeverRegresses(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	sender := storage.Agent{Name: "Sender", Role: storage.RoleTrader, Provider: storage.ProviderOpenAI, Active: true}
	receiver := storage.Agent{Name: "Receiver", Role: storage.RoleTrader, Provider: storage.ProviderOpenAI, Active: true}
	require.NoError(t, w.repo.CreateAgent(ctx, &sender))
	require.NoError(t, w.repo.CreateAgent(ctx, &receiver))

	hook, err := resource.OpenA2A(ctx, w.session(t, "alice"))
	require.NoError(t, err)
	defer hook.Close()
	require.NoError(t, hook.Wait(ctx))

	res, err := hook.Send(ctx, controller.A2ARequest{
		SenderAgentID:   sender.ID,
		ReceiverAgentID: receiver.ID,
		Content:         "status update please",
	})
	require.NoError(t, err)
	id := res.Message.ID
	waitFor(t, func() bool {
		got, ok := hook.Messages.Get(id)
		return ok && got.Status == storage.A2AStatusCompleted
	})
	assert.Equal(t, 1, countID(hook.Messages, id))

	stale := *res.Message
	stale.Status = storage.A2AStatusSent
	stale.UpdatedAt = time.Now().Add(time.Hour)
	evt, err := realtime.NewChangeEvent(storage.TableA2AMessages, realtime.EventUpdate, "alice", id, stale)
	require.NoError(t, err)
	require.NoError(t, w.broker.Publish(ctx, evt))

	marker := storage.A2AMessage{SenderAgentID: sender.ID, ReceiverAgentID: receiver.ID, Content: "marker", MessageType: "direct"}
	require.NoError(t, w.repo.CreateA2AMessage(ctx, "alice", &marker))
	waitFor(t, func() bool { return countID(hook.Messages, marker.ID) == 1 })

	got, ok := hook.Messages.Get(id)
	require.True(t, ok)
	assert.Equal(t, storage.A2AStatusCompleted, got.Status)
}

func TestMCPHookMutatorsReconcileThroughFeed(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	hook, err := resource.OpenMCP(ctx, w.session(t, "alice"))
	require.NoError(t, err)
	defer hook.Close()
	require.NoError(t, hook.Wait(ctx))

	server, err := hook.AddServer(ctx, resource.NewMCPServer{Name: "calc", Endpoint: "http://127.0.0.1:9/mcp"})
	require.NoError(t, err)
	waitFor(t, func() bool { return countID(hook.Servers, server.ID) == 1 })
	assert.Empty(t, hook.Connected())

	_, err = hook.UpdateServer(ctx, server.ID, map[string]any{"status": "connected"})
	require.ErrorIs(t, err, controller.ErrInvalidInput)

	require.NoError(t, hook.RemoveServer(ctx, server.ID))
	waitFor(t, func() bool { return hook.Servers.Len() == 0 })
}

func TestRAGHookIndexBecomesReady(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	hook, err := resource.OpenRAG(ctx, w.session(t, "alice"))
	require.NoError(t, err)
	defer hook.Close()
	require.NoError(t, hook.Wait(ctx))

	doc, err := hook.Upload(ctx, "solar.txt", "text/plain", []byte("Solar panels convert sunlight into electricity."), true)
	require.NoError(t, err)
	waitFor(t, func() bool {
		got, ok := hook.Documents.Get(doc.ID)
		return ok && got.Status == storage.DocumentStatusProcessed
	})

	index, err := hook.CreateIndex(ctx, controller.CreateIndexRequest{Name: "energy", DocumentIDs: []string{doc.ID}})
	require.NoError(t, err)
	waitFor(t, func() bool { return len(hook.ReadyIndexes()) == 1 })
	assert.Equal(t, index.ID, hook.ReadyIndexes()[0].ID)

	q, err := hook.Query(ctx, index.ID, "sunlight electricity", 3)
	require.NoError(t, err)
	waitFor(t, func() bool { return countID(hook.Queries, q.ID) == 1 })
	assert.Len(t, hook.History(index.ID), 1)
}

func TestOpenFailsForUnknownTable(t *testing.T) {
	w := newWorld(t)
	_, err := resource.Open(context.Background(), resource.Backend(w.session(t, "alice")), "nope", resource.Options[storage.Agent]{}, nil)
	require.ErrorIs(t, err, controller.ErrNotFound)
}
