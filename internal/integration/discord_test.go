package integration_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/integration"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/testutil"
)

type webhookCall struct {
	id     string
	token  string
	params *discordgo.WebhookParams
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []webhookCall
	fail  map[string]error
}

func (f *fakeExecutor) WebhookExecute(id, token string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, webhookCall{id: id, token: token, params: data})
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	return nil, nil
}

func seedIntegration(t *testing.T, repo *storage.Repository, userID, url string, enabled bool) {
	t.Helper()
	require.NoError(t, storage.InsertOwned(context.Background(), repo, userID, &storage.ExternalIntegration{
		Kind:       storage.IntegrationKindDiscord,
		Name:       "alerts",
		WebhookURL: url,
		Enabled:    enabled,
	}))
}

func TestNotifySendsToEnabledIntegrations(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	seedIntegration(t, repo, "user-1", "https://discord.com/api/webhooks/111/tok-a", true)
	seedIntegration(t, repo, "user-1", "https://discord.com/api/webhooks/222/tok-b", false)
	seedIntegration(t, repo, "user-2", "https://discord.com/api/webhooks/333/tok-c", true)

	exec := &fakeExecutor{}
	n, err := integration.NewNotifier(repo, integration.WithExecutor(exec))
	require.NoError(t, err)

	wf := &storage.Workflow{Name: "daily", Status: storage.WorkflowStatusCompleted}
	require.NoError(t, n.WorkflowFinished(context.Background(), "user-1", wf, "3 steps ok"))

	require.Len(t, exec.calls, 1)
	assert.Equal(t, "111", exec.calls[0].id)
	assert.Equal(t, "tok-a", exec.calls[0].token)
	require.Len(t, exec.calls[0].params.Embeds, 1)
	assert.Equal(t, "3 steps ok", exec.calls[0].params.Embeds[0].Description)
	assert.Contains(t, exec.calls[0].params.Embeds[0].Title, "daily")
}

func TestNotifyContinuesAfterFailure(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	seedIntegration(t, repo, "user-1", "https://discord.com/api/webhooks/111/tok-a", true)
	seedIntegration(t, repo, "user-1", "not a webhook", true)
	seedIntegration(t, repo, "user-1", "https://discord.com/api/webhooks/222/tok-b", true)

	boom := errors.New("rate limited")
	exec := &fakeExecutor{fail: map[string]error{"111": boom}}
	n, err := integration.NewNotifier(repo, integration.WithExecutor(exec))
	require.NoError(t, err)

	err = n.Notify(context.Background(), "user-1", integration.Event{Title: "t", Body: "b"})
	require.ErrorIs(t, err, boom)
	assert.Len(t, exec.calls, 2)
}

func TestParseWebhookURL(t *testing.T) {
	id, token, err := integration.ParseWebhookURL("https://discord.com/api/webhooks/123/abc-DEF")
	require.NoError(t, err)
	assert.Equal(t, "123", id)
	assert.Equal(t, "abc-DEF", token)

	_, _, err = integration.ParseWebhookURL("https://discord.com/api/channels/1")
	require.Error(t, err)
}
