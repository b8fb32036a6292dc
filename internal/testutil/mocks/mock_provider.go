package mocks

import (
	"context"
	"sync"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/provider"
)

// MockProvider는 테스트용 Provider/Resolver 구현입니다.
// 응답은 마지막 사용자 메시지 내용으로 찾습니다.
type MockProvider struct {
	mu sync.Mutex

	// ProviderName은 Name()과 응답 Provider 값입니다.
	ProviderName string

	// Responses는 메시지별 응답을 정의합니다.
	Responses map[string]string

	// Errors는 메시지별 에러를 정의합니다.
	Errors map[string]error

	// DefaultResponse는 Responses에 없는 경우 사용할 기본 응답입니다.
	DefaultResponse string

	// ResolveErr가 설정되면 Resolve가 이 에러를 반환합니다.
	ResolveErr error

	calls    []*provider.ChatRequest
	resolved []string
}

// NewMockProvider는 새로운 MockProvider를 생성합니다.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		ProviderName:    "mock",
		Responses:       make(map[string]string),
		Errors:          make(map[string]error),
		DefaultResponse: "Mock response",
	}
}

var (
	_ provider.Provider = (*MockProvider)(nil)
	_ provider.Resolver = (*MockProvider)(nil)
)

// Name implements provider.Provider.
func (m *MockProvider) Name() string {
	return m.ProviderName
}

// Resolve implements provider.Resolver.
func (m *MockProvider) Resolve(name string) (provider.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved = append(m.resolved, name)
	if m.ResolveErr != nil {
		return nil, m.ResolveErr
	}
	return m, nil
}

// Chat implements provider.Provider.
func (m *MockProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	key := lastUserMessage(req)
	if err, ok := m.Errors[key]; ok {
		return nil, err
	}
	response := m.DefaultResponse
	if resp, ok := m.Responses[key]; ok {
		response = resp
	}

	return &provider.ChatResponse{
		Content:  response,
		Model:    "mock-model",
		Provider: m.ProviderName,
		Usage:    provider.Usage{PromptTokens: len(key), CompletionTokens: len(response), TotalTokens: len(key) + len(response)},
	}, nil
}

func lastUserMessage(req *provider.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == provider.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

// SetResponse는 특정 메시지에 대한 응답을 설정합니다.
func (m *MockProvider) SetResponse(message, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[message] = response
}

// SetError는 특정 메시지에 대한 에러를 설정합니다.
func (m *MockProvider) SetError(message string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[message] = err
}

// SetErrorMessage는 특정 메시지에 대한 업스트림 에러를 설정합니다.
func (m *MockProvider) SetErrorMessage(message, errMessage string) {
	m.SetError(message, &provider.UpstreamError{Provider: m.ProviderName, StatusCode: 500, Message: errMessage})
}

// GetCallCount는 Chat 호출 횟수를 반환합니다.
func (m *MockProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// GetLastCall은 마지막 Chat 호출을 반환합니다.
func (m *MockProvider) GetLastCall() *provider.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// ResolvedNames는 Resolve에 전달된 이름 목록을 반환합니다.
func (m *MockProvider) ResolvedNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resolved...)
}

// Reset은 모든 호출 기록을 초기화합니다.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.resolved = nil
}
