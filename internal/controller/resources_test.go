package controller_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/blob"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/integration"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/testutil"
)

const guide = `Solar panels convert sunlight into electricity using photovoltaic cells.

Wind turbines turn kinetic energy from moving air into power.

Batteries store surplus energy for cloudy days.`

func uploadAndIndex(t *testing.T, f *fixture, userID string) *storage.VectorIndex {
	t.Helper()
	ctx := context.Background()

	doc, err := f.ctrl.UploadDocument(ctx, userID, controller.UploadRequest{Name: "energy.md", Data: []byte(guide)})
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentStatusUploaded, doc.Status)
	assert.NotEmpty(t, doc.StorageURL)

	index, err := f.ctrl.CreateIndex(ctx, userID, controller.CreateIndexRequest{Name: "energy", DocumentIDs: []string{doc.ID}})
	require.NoError(t, err)
	assert.Equal(t, storage.IndexStatusBuilding, index.Status)

	f.ctrl.Wait()
	built, err := storage.GetOwned[storage.VectorIndex](ctx, f.repo, userID, index.ID)
	require.NoError(t, err)
	require.Equal(t, storage.IndexStatusReady, built.Status, built.LastError)
	return built
}

func TestRAGIndexAndQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	index := uploadAndIndex(t, f, "user-1")
	assert.Equal(t, 1, index.DocumentCount)
	assert.Positive(t, index.VectorCount)

	row, err := f.ctrl.Query(ctx, "user-1", controller.RAGQueryRequest{IndexID: index.ID, Query: "how do wind turbines work", TopK: 2})
	require.NoError(t, err)
	results, err := row.ResultList()
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Content, "Wind turbines")
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Contains(t, results[0].Source, "energy.md#")

	queries, err := f.repo.ListRAGQueries(ctx, "user-1", index.ID)
	require.NoError(t, err)
	assert.Len(t, queries, 1)

	_, err = f.ctrl.Query(ctx, "user-2", controller.RAGQueryRequest{IndexID: index.ID, Query: "wind"})
	require.ErrorIs(t, err, controller.ErrNotFound)

	_, err = f.ctrl.Query(ctx, "user-1", controller.RAGQueryRequest{IndexID: index.ID, Query: "  "})
	require.ErrorIs(t, err, controller.ErrInvalidInput)
}

func TestRAGQueryRequiresReadyIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	index := &storage.VectorIndex{Name: "pending"}
	require.NoError(t, f.repo.CreateVectorIndex(ctx, "user-1", index))

	_, err := f.ctrl.Query(ctx, "user-1", controller.RAGQueryRequest{IndexID: index.ID, Query: "anything"})
	require.ErrorIs(t, err, controller.ErrInvalidInput)
}

func TestCreateIndexRejectsForeignDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.ctrl.UploadDocument(ctx, "user-2", controller.UploadRequest{Name: "notes.txt", Data: []byte("private")})
	require.NoError(t, err)

	_, err = f.ctrl.CreateIndex(ctx, "user-1", controller.CreateIndexRequest{Name: "stolen", DocumentIDs: []string{doc.ID}})
	require.ErrorIs(t, err, controller.ErrNotFound)
}

func TestProcessDocumentUnsupportedType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.ctrl.UploadDocument(ctx, "user-1", controller.UploadRequest{
		Name:        "photo.png",
		ContentType: "image/png",
		Data:        []byte{0x89, 'P', 'N', 'G'},
	})
	require.NoError(t, err)

	_, err = f.ctrl.ProcessDocument(ctx, "user-1", controller.ProcessDocumentRequest{DocumentID: doc.ID})
	require.ErrorIs(t, err, controller.ErrInvalidInput)

	stored, err := storage.GetOwned[storage.Document](ctx, f.repo, "user-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentStatusError, stored.Status)
}

func TestIngestURL(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Tidal Power</title><script>var x = 1;</script></head>
<body><h1>Tidal power</h1><p>Tidal generators harvest energy from ocean tides.</p></body></html>`))
	}))
	defer page.Close()

	f := newFixture(t, controller.WithHTTPClient(page.Client()))
	ctx := context.Background()
	index := uploadAndIndex(t, f, "user-1")

	doc, err := f.ctrl.IngestURL(ctx, "user-1", controller.IngestURLRequest{IndexID: index.ID, URL: page.URL + "/tidal"})
	require.NoError(t, err)
	assert.Equal(t, "Tidal Power", doc.Name)
	assert.NotContains(t, doc.Content, "var x")

	f.ctrl.Wait()
	row, err := f.ctrl.Query(ctx, "user-1", controller.RAGQueryRequest{IndexID: index.ID, Query: "ocean tides"})
	require.NoError(t, err)
	results, err := row.ResultList()
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Content, "ocean tides")

	_, err = f.ctrl.IngestURL(ctx, "user-1", controller.IngestURLRequest{IndexID: index.ID, URL: "ftp://example.com/x"})
	require.ErrorIs(t, err, controller.ErrInvalidInput)
}

func newMCPServer(t *testing.T) string {
	t.Helper()
	s := server.NewMCPServer("calc", "0.1.0", server.WithToolCapabilities(false))
	s.AddTool(
		mcp.NewTool("add",
			mcp.WithDescription("Add two numbers"),
			mcp.WithNumber("a", mcp.Required()),
			mcp.WithNumber("b", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			a, err := req.RequireFloat("a")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			b, err := req.RequireFloat("b")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(strconv.FormatFloat(a+b, 'f', -1, 64)), nil
		},
	)
	srv := server.NewTestStreamableHTTPServer(s)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestMCPConnectAndExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := &storage.MCPServer{Name: "calc", Endpoint: newMCPServer(t)}
	require.NoError(t, f.repo.CreateMCPServer(ctx, "user-1", srv))

	_, err := f.ctrl.ExecuteMCPTool(ctx, "user-1", controller.MCPToolRequest{ServerID: srv.ID, Tool: "add"})
	require.ErrorIs(t, err, controller.ErrInvalidInput, "disconnected server")

	connected, err := f.ctrl.ConnectMCPServer(ctx, "user-1", controller.MCPServerRequest{ServerID: srv.ID})
	require.NoError(t, err)
	assert.Equal(t, storage.MCPStatusConnected, connected.Status)
	assert.NotNil(t, connected.LastConnectedAt)
	tools, err := connected.ToolList()
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "add", tools[0].Name)

	res, err := f.ctrl.ExecuteMCPTool(ctx, "user-1", controller.MCPToolRequest{
		ServerID:  srv.ID,
		Tool:      "add",
		Arguments: map[string]any{"a": 2, "b": 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "5", res.Text)

	_, err = f.ctrl.ExecuteMCPTool(ctx, "user-1", controller.MCPToolRequest{
		ServerID:  srv.ID,
		Tool:      "add",
		Arguments: map[string]any{"a": "two"},
	})
	require.ErrorIs(t, err, controller.ErrInvalidInput)

	_, err = f.ctrl.ExecuteMCPTool(ctx, "user-1", controller.MCPToolRequest{ServerID: srv.ID, Tool: "multiply"})
	require.ErrorIs(t, err, controller.ErrNotFound)

	disconnected, err := f.ctrl.DisconnectMCPServer(ctx, "user-1", controller.MCPServerRequest{ServerID: srv.ID})
	require.NoError(t, err)
	assert.Equal(t, storage.MCPStatusDisconnected, disconnected.Status)
	tools, err = disconnected.ToolList()
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestMCPConnectFailureRecordsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := &storage.MCPServer{Name: "gone", Endpoint: "http://127.0.0.1:1/mcp"}
	require.NoError(t, f.repo.CreateMCPServer(ctx, "user-1", srv))

	_, err := f.ctrl.ConnectMCPServer(ctx, "user-1", controller.MCPServerRequest{ServerID: srv.ID})
	require.ErrorIs(t, err, controller.ErrUpstream)

	stored, err := storage.GetOwned[storage.MCPServer](ctx, f.repo, "user-1", srv.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.MCPStatusError, stored.Status)
	assert.NotEmpty(t, stored.LastError)
}

type recordingExecutor struct {
	mu     sync.Mutex
	params []*discordgo.WebhookParams
}

func (r *recordingExecutor) WebhookExecute(_, _ string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = append(r.params, data)
	return nil, nil
}

func TestExecuteWorkflow(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	exec := &recordingExecutor{}
	notifier, err := integration.NewNotifier(repo, integration.WithExecutor(exec))
	require.NoError(t, err)
	f := newFixtureWithRepo(t, repo, controller.WithNotifier(notifier))
	ctx := context.Background()

	require.NoError(t, storage.InsertOwned(ctx, repo, "user-1", &storage.ExternalIntegration{
		Kind:       storage.IntegrationKindDiscord,
		Name:       "ops",
		WebhookURL: "https://discord.com/api/webhooks/42/secret",
		Enabled:    true,
	}))
	agent := f.seedAgents(t, storage.RoleStudent, 1)[0]
	_, err = f.ctrl.ActivateAgent(ctx, "user-1", controller.ActivateRequest{AgentID: agent.ID})
	require.NoError(t, err)
	f.llm.SetResponse("summarize solar", "solar is good")

	wf := &storage.Workflow{
		Name:   "daily",
		Status: storage.WorkflowStatusIdle,
		Steps: storage.MustJSON([]controller.WorkflowStepSpec{
			{Type: controller.StepAgentChat, AgentID: agent.ID, Message: "summarize {{input}}"},
		}),
	}
	require.NoError(t, storage.InsertOwned(ctx, repo, "user-1", wf))

	res, err := f.ctrl.ExecuteWorkflow(ctx, "user-1", controller.ExecuteWorkflowRequest{WorkflowID: wf.ID, Input: "solar"})
	require.NoError(t, err)
	assert.Equal(t, storage.WorkflowStatusCompleted, res.Status)
	assert.Equal(t, "solar is good", res.Output)
	f.ctrl.Wait()

	stored, err := storage.GetOwned[storage.Workflow](ctx, repo, "user-1", wf.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.WorkflowStatusCompleted, stored.Status)
	assert.NotNil(t, stored.LastRunAt)
	assert.Contains(t, string(stored.LastResult), "solar is good")

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Len(t, exec.params, 1)
	assert.Equal(t, "solar is good", exec.params[0].Embeds[0].Description)
}

func TestExecuteWorkflowFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wf := &storage.Workflow{
		Name:   "broken",
		Status: storage.WorkflowStatusIdle,
		Steps: storage.MustJSON([]controller.WorkflowStepSpec{
			{Type: controller.StepAgentChat, AgentID: "missing-agent", Message: "hi"},
		}),
	}
	require.NoError(t, storage.InsertOwned(ctx, f.repo, "user-1", wf))

	res, err := f.ctrl.ExecuteWorkflow(ctx, "user-1", controller.ExecuteWorkflowRequest{WorkflowID: wf.ID})
	require.ErrorIs(t, err, controller.ErrNotFound)
	assert.Equal(t, storage.WorkflowStatusFailed, res.Status)

	stored, err := storage.GetOwned[storage.Workflow](ctx, f.repo, "user-1", wf.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.WorkflowStatusFailed, stored.Status)

	running := &storage.Workflow{Name: "busy", Status: storage.WorkflowStatusRunning, Steps: wf.Steps}
	require.NoError(t, storage.InsertOwned(ctx, f.repo, "user-1", running))
	_, err = f.ctrl.ExecuteWorkflow(ctx, "user-1", controller.ExecuteWorkflowRequest{WorkflowID: running.ID})
	require.ErrorIs(t, err, controller.ErrConflict)
}

// gatedStore는 첫 Read를 release가 닫힐 때까지 붙잡습니다.
type gatedStore struct {
	blob.Store
	once    sync.Once
	reading chan struct{}
	release chan struct{}
}

func (s *gatedStore) Read(ctx context.Context, url string) ([]byte, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.reading)
		<-s.release
	}
	return s.Store.Read(ctx, url)
}

func TestOverlappingBuildsKeepLatestDocuments(t *testing.T) {
	local, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	store := &gatedStore{Store: local, reading: make(chan struct{}), release: make(chan struct{})}

	f := newFixture(t, controller.WithBlobStore(store))
	ctx := context.Background()

	solar, err := f.ctrl.UploadDocument(ctx, "user-1", controller.UploadRequest{Name: "solar.md", Data: []byte("Solar panels convert sunlight into electricity.")})
	require.NoError(t, err)
	tides, err := f.ctrl.UploadDocument(ctx, "user-1", controller.UploadRequest{Name: "tides.md", Data: []byte("Tidal generators harvest energy from ocean tides.")})
	require.NoError(t, err)

	index, err := f.ctrl.CreateIndex(ctx, "user-1", controller.CreateIndexRequest{Name: "energy", DocumentIDs: []string{solar.ID}})
	require.NoError(t, err)

	// 첫 빌드가 solar.md만 읽는 중에 두 번째 문서를 추가합니다
	<-store.reading
	_, err = f.ctrl.IndexDocuments(ctx, "user-1", controller.IndexDocumentsRequest{IndexID: index.ID, DocumentIDs: []string{tides.ID}})
	require.NoError(t, err)
	_, err = f.ctrl.RebuildIndex(ctx, "user-1", controller.RebuildIndexRequest{IndexID: index.ID})
	require.NoError(t, err)
	close(store.release)

	f.ctrl.Wait()
	built, err := storage.GetOwned[storage.VectorIndex](ctx, f.repo, "user-1", index.ID)
	require.NoError(t, err)
	require.Equal(t, storage.IndexStatusReady, built.Status, built.LastError)
	assert.Equal(t, 2, built.DocumentCount)
	assert.Equal(t, 2, built.VectorCount)

	row, err := f.ctrl.Query(ctx, "user-1", controller.RAGQueryRequest{IndexID: index.ID, Query: "ocean tides"})
	require.NoError(t, err)
	results, err := row.ResultList()
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Source, "tides.md#")
}
