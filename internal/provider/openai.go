package provider

import (
	"context"
)

// OpenAIProvider는 OpenAI 호환 chat/completions API 클라이언트입니다.
type OpenAIProvider struct {
	httpBase
}

// NewOpenAIProvider는 OpenAIProvider를 생성합니다.
func NewOpenAIProvider(apiKey, baseURL, defaultModel string, opts ...HTTPOption) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &OpenAIProvider{httpBase: newHTTPBase("openai", baseURL, apiKey, defaultModel, opts)}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return p.name }

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat implements Provider.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if p.apiKey == "" {
		return nil, ErrMissingCredentials
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, req.Messages...)

	var out openAIResponse
	err := p.postJSON(ctx, "/chat/completions",
		map[string]string{"Authorization": "Bearer " + p.apiKey},
		openAIRequest{Model: model, Messages: messages, MaxTokens: req.MaxTokens, Temperature: req.Temperature},
		&out,
	)
	if err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	if out.Model == "" {
		out.Model = model
	}
	return &ChatResponse{
		Content:  out.Choices[0].Message.Content,
		Model:    out.Model,
		Provider: p.name,
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}
