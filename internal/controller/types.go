package controller

import (
	"encoding/json"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/mcpclient"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
)

// ChatRequest는 chat-with-agent 입력입니다.
type ChatRequest struct {
	AgentID    string `json:"agent_id"`
	Message    string `json:"message"`
	DocumentID string `json:"document_id,omitempty"`
}

// ChatMetadata는 응답 생성 정보입니다.
type ChatMetadata struct {
	Model            string `json:"model"`
	Provider         string `json:"provider"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// ChatResult는 chat-with-agent 결과입니다.
type ChatResult struct {
	Response      string       `json:"response"`
	InteractionID string       `json:"interaction_id"`
	Metadata      ChatMetadata `json:"metadata"`
}

// CreateAgentRequest는 create-agent 입력입니다.
type CreateAgentRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Role         string          `json:"role"`
	Provider     string          `json:"provider"`
	Model        string          `json:"model"`
	SystemPrompt string          `json:"system_prompt"`
	Config       json.RawMessage `json:"config,omitempty"`
}

// SelectRoleRequest는 select-initial-role 입력입니다.
type SelectRoleRequest struct {
	Role string `json:"role"`
}

// SelectRoleResult는 선택된 프로필과 자동 활성화된 에이전트입니다.
type SelectRoleResult struct {
	Profile   *storage.Profile `json:"profile"`
	Activated []string         `json:"activated_agent_ids"`
}

// ActivateRequest는 activate-agent 입력입니다.
type ActivateRequest struct {
	AgentID string          `json:"agent_id"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// DeactivateRequest는 deactivate-agent 입력입니다.
type DeactivateRequest struct {
	AgentID string `json:"agent_id"`
}

// A2ARequest는 a2a-communication 입력입니다.
type A2ARequest struct {
	SenderAgentID   string `json:"sender_agent_id"`
	ReceiverAgentID string `json:"receiver_agent_id"`
	Content         string `json:"content"`
	MessageType     string `json:"message_type,omitempty"`
	WorkflowID      string `json:"workflow_id,omitempty"`
}

// A2AResult는 원본 메시지와 응답 메시지입니다.
type A2AResult struct {
	Message  *storage.A2AMessage `json:"message"`
	Response *storage.A2AMessage `json:"response"`
}

// ExecuteA2AWorkflowRequest는 execute-a2a-workflow 입력입니다.
type ExecuteA2AWorkflowRequest struct {
	WorkflowID string `json:"workflow_id"`
	Input      string `json:"input,omitempty"`
}

// A2AStepResult는 워크플로 단계 하나의 실행 결과입니다.
type A2AStepResult struct {
	Index     int          `json:"index"`
	Action    A2AAction    `json:"action"`
	Exchanges []*A2AResult `json:"exchanges,omitempty"`
}

// A2AWorkflowResult는 execute-a2a-workflow 결과입니다.
type A2AWorkflowResult struct {
	WorkflowID string          `json:"workflow_id"`
	Steps      []A2AStepResult `json:"steps"`
	Output     string          `json:"output"`
}

// ExecuteWorkflowRequest는 execute-workflow 입력입니다.
type ExecuteWorkflowRequest struct {
	WorkflowID string `json:"workflow_id"`
	Input      string `json:"input,omitempty"`
}

// WorkflowStepResult는 워크플로 단계 하나의 결과입니다.
type WorkflowStepResult struct {
	Index  int          `json:"index"`
	Type   WorkflowStep `json:"type"`
	Output string       `json:"output"`
}

// WorkflowResult는 execute-workflow 결과이며 last_result로도 저장됩니다.
type WorkflowResult struct {
	WorkflowID string               `json:"workflow_id"`
	Status     string               `json:"status"`
	Steps      []WorkflowStepResult `json:"steps"`
	Output     string               `json:"output"`
	Error      string               `json:"error,omitempty"`
}

// MCPServerRequest는 mcp-server-connect, mcp-server-disconnect 입력입니다.
type MCPServerRequest struct {
	ServerID string `json:"server_id"`
}

// MCPToolRequest는 mcp-tool-execute 입력입니다.
type MCPToolRequest struct {
	ServerID  string         `json:"server_id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// MCPToolResult는 도구 실행 결과입니다.
type MCPToolResult = mcpclient.ToolResult

// RAGQueryRequest는 rag-query 입력입니다.
type RAGQueryRequest struct {
	IndexID string `json:"index_id"`
	Query   string `json:"query"`
	TopK    int    `json:"top_k,omitempty"`
}

// CreateIndexRequest는 rag-create-index 입력입니다.
type CreateIndexRequest struct {
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	EmbeddingModel string          `json:"embedding_model,omitempty"`
	DocumentIDs    []string        `json:"document_ids,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
}

// RebuildIndexRequest는 rag-rebuild-index 입력입니다.
type RebuildIndexRequest struct {
	IndexID string `json:"index_id"`
}

// IndexDocumentsRequest는 rag-index-documents 입력입니다.
type IndexDocumentsRequest struct {
	IndexID     string   `json:"index_id"`
	DocumentIDs []string `json:"document_ids"`
}

// IngestURLRequest는 rag-ingest-url 입력입니다.
type IngestURLRequest struct {
	IndexID string `json:"index_id"`
	URL     string `json:"url"`
}

// ProcessDocumentRequest는 process-document 입력입니다.
type ProcessDocumentRequest struct {
	DocumentID string `json:"document_id"`
}

// UploadRequest는 문서 업로드 입력입니다.
type UploadRequest struct {
	Name        string
	ContentType string
	Data        []byte
}
