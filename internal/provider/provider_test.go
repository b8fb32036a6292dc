package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/common"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/provider"
	"go.uber.org/zap/zaptest"
)

func newOpenAIServer(t *testing.T, hits *int64, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
			return
		}

		var body struct {
			Model    string             `json:"model"`
			Messages []provider.Message `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "system", body.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-test",
			"choices": [{"message": {"content": "hello from openai"}}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProviderChat(t *testing.T) {
	var hits int64
	srv := newOpenAIServer(t, &hits, http.StatusOK)

	p := provider.NewOpenAIProvider("sk-test", srv.URL, "gpt-test")
	resp, err := p.Chat(context.Background(), provider.UserMessage("be brief", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello from openai", resp.Content)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestOpenAIProviderRequiresKey(t *testing.T) {
	p := provider.NewOpenAIProvider("", "http://127.0.0.1:1", "")
	_, err := p.Chat(context.Background(), provider.UserMessage("", "hi"))
	require.ErrorIs(t, err, provider.ErrMissingCredentials)
}

func TestAnthropicProviderChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "be brief", body["system"])

		_, _ = w.Write([]byte(`{
			"model": "claude-test",
			"content": [{"type": "text", "text": "hello "}, {"type": "text", "text": "from claude"}],
			"usage": {"input_tokens": 5, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	p := provider.NewAnthropicProvider("ak-test", srv.URL, "claude-test")
	resp, err := p.Chat(context.Background(), provider.UserMessage("be brief", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello from claude", resp.Content)
	assert.Equal(t, 9, resp.Usage.TotalTokens)
}

func TestUpstreamErrorIsTyped(t *testing.T) {
	var hits int64
	srv := newOpenAIServer(t, &hits, http.StatusUnauthorized)

	p := provider.NewOpenAIProvider("sk-test", srv.URL, "")
	_, err := p.Chat(context.Background(), provider.UserMessage("", "hi"))
	require.ErrorIs(t, err, provider.ErrUpstream)

	var upstream *provider.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
	assert.Equal(t, "boom", upstream.Message)
	assert.False(t, provider.IsRetryable(err))
}

func TestRegistryFallsBackToOpenAI(t *testing.T) {
	var hits int64
	srv := newOpenAIServer(t, &hits, http.StatusOK)

	reg := provider.NewRegistry(
		common.APIKeysConfig{OpenAI: "sk-test"},
		common.ProvidersConfig{OpenAIBaseURL: srv.URL},
		provider.WithRegistryLogger(zaptest.NewLogger(t)),
	)

	p, err := reg.Resolve("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	resp, err := p.Chat(context.Background(), provider.UserMessage("sys", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Provider)

	snap := reg.Metrics().GetSnapshot()
	assert.EqualValues(t, 1, snap.Fallbacks)
	assert.EqualValues(t, 1, snap.Succeeded)
	assert.EqualValues(t, 3, snap.CompletionTokens)

	again, err := reg.Resolve("openai")
	require.NoError(t, err)
	assert.Same(t, p, again)
}

func TestRegistryWithoutAnyKey(t *testing.T) {
	reg := provider.NewRegistry(common.APIKeysConfig{Gemini: "g"}, common.ProvidersConfig{})

	_, err := reg.Resolve("openai")
	require.ErrorIs(t, err, provider.ErrMissingCredentials)

	p, err := reg.Resolve("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())
}

func TestRegistryRetriesServerErrors(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	reg := provider.NewRegistry(
		common.APIKeysConfig{OpenAI: "sk-test"},
		common.ProvidersConfig{OpenAIBaseURL: srv.URL},
		provider.WithRetryConfig(provider.RetryConfig{
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			BackoffFactor:  2,
		}),
	)
	p, err := reg.Resolve("openai")
	require.NoError(t, err)

	resp, err := p.Chat(context.Background(), provider.UserMessage("", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.EqualValues(t, 2, atomic.LoadInt64(&hits))
	assert.EqualValues(t, 1, reg.Metrics().GetSnapshot().Retries)
}

func TestRegistryBreakerOpensAfterFailures(t *testing.T) {
	var hits int64
	srv := newOpenAIServer(t, &hits, http.StatusInternalServerError)

	reg := provider.NewRegistry(
		common.APIKeysConfig{OpenAI: "sk-test"},
		common.ProvidersConfig{OpenAIBaseURL: srv.URL},
		provider.WithRetryConfig(provider.RetryConfig{MaxRetries: 0}),
		provider.WithBreaker(2, time.Minute),
	)
	p, err := reg.Resolve("openai")
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := p.Chat(ctx, provider.UserMessage("", "hi"))
		require.ErrorIs(t, err, provider.ErrUpstream)
	}

	_, err = p.Chat(ctx, provider.UserMessage("", "hi"))
	require.ErrorIs(t, err, provider.ErrUpstream)
	assert.EqualValues(t, 2, atomic.LoadInt64(&hits), "open breaker must not reach upstream")
	assert.EqualValues(t, 1, reg.Metrics().GetSnapshot().BreakerRejections)
}
