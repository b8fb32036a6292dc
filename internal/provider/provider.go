// Package provider는 에이전트 대화에 사용하는 LLM 프로바이더 클라이언트를 제공합니다.
package provider

import (
	"context"
)

// 메시지 역할
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider는 채팅 완성 API 클라이언트입니다.
type Provider interface {
	// Name은 프로바이더 식별자입니다 (openai, anthropic, gemini).
	Name() string
	// Chat은 완성 요청을 보내고 응답을 반환합니다.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// Resolver는 에이전트에 설정된 프로바이더 이름으로 Provider를 선택합니다.
type Resolver interface {
	Resolve(name string) (Provider, error)
}

// Message는 대화 한 건입니다.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest는 채팅 완성 요청입니다.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64
}

// Usage는 토큰 사용량입니다.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse는 채팅 완성 응답입니다.
type ChatResponse struct {
	Content  string `json:"content"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Usage    Usage  `json:"usage"`
}

// UserMessage는 단일 사용자 메시지 요청을 만듭니다.
func UserMessage(systemPrompt, content string) *ChatRequest {
	return &ChatRequest{
		SystemPrompt: systemPrompt,
		Messages:     []Message{{Role: RoleUser, Content: content}},
	}
}
