package provider

import (
	"context"
	"strings"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider는 Anthropic Messages API 클라이언트입니다.
type AnthropicProvider struct {
	httpBase
}

// NewAnthropicProvider는 AnthropicProvider를 생성합니다.
func NewAnthropicProvider(apiKey, baseURL, defaultModel string, opts ...HTTPOption) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	if defaultModel == "" {
		defaultModel = "claude-3-5-haiku-latest"
	}
	return &AnthropicProvider{httpBase: newHTTPBase("anthropic", baseURL, apiKey, defaultModel, opts)}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return p.name }

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat implements Provider.
func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if p.apiKey == "" {
		return nil, ErrMissingCredentials
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var out anthropicResponse
	err := p.postJSON(ctx, "/messages",
		map[string]string{
			"x-api-key":         p.apiKey,
			"anthropic-version": anthropicVersion,
		},
		anthropicRequest{
			Model:       model,
			MaxTokens:   maxTokens,
			System:      req.SystemPrompt,
			Messages:    req.Messages,
			Temperature: req.Temperature,
		},
		&out,
	)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	if out.Model == "" {
		out.Model = model
	}
	return &ChatResponse{
		Content:  text.String(),
		Model:    out.Model,
		Provider: p.name,
		Usage: Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}, nil
}
