package storage

// 테이블 이름
const (
	TableProfiles             = "profiles"
	TableAgents               = "agents"
	TableUserAgents           = "user_agents"
	TableAgentInteractions    = "agent_interactions"
	TableMCPServers           = "mcp_servers"
	TableVectorIndexes        = "vector_indexes"
	TableRAGQueries           = "rag_queries"
	TableA2AMessages          = "a2a_messages"
	TableA2AWorkflows         = "a2a_workflows"
	TableDocuments            = "documents"
	TableIndexDocuments       = "rag_index_documents"
	TableChunks               = "rag_chunks"
	TableWorkflows            = "workflows"
	TableExternalIntegrations = "external_integrations"
)

const (
	// MaxActiveAgents는 사용자당 동시에 활성화할 수 있는 에이전트 수입니다.
	MaxActiveAgents = 5

	RoleTrader  = "trader"
	RoleStudent = "student"
	RoleFounder = "founder"

	// AI Provider types
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"

	MCPStatusDisconnected = "disconnected"
	MCPStatusConnected    = "connected"
	MCPStatusError        = "error"

	IndexStatusBuilding = "building"
	IndexStatusReady    = "ready"
	IndexStatusError    = "error"

	A2ATypeDirect   = "direct"
	A2ATypeWorkflow = "workflow"
	A2ATypeResponse = "response"

	A2AStatusSent       = "sent"
	A2AStatusProcessing = "processing"
	A2AStatusCompleted  = "completed"

	DocumentStatusUploaded  = "uploaded"
	DocumentStatusProcessed = "processed"
	DocumentStatusError     = "error"

	WorkflowStatusIdle      = "idle"
	WorkflowStatusRunning   = "running"
	WorkflowStatusCompleted = "completed"
	WorkflowStatusFailed    = "failed"

	IntegrationKindDiscord = "discord"

	DefaultEmbeddingModel = "bm25"
)

// ValidRole은 role이 지원하는 역할인지 확인합니다.
func ValidRole(role string) bool {
	switch role {
	case RoleTrader, RoleStudent, RoleFounder:
		return true
	}
	return false
}

// ValidProvider는 provider가 지원하는 LLM 프로바이더인지 확인합니다.
func ValidProvider(provider string) bool {
	switch provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		return true
	}
	return false
}

// A2AStatusRank는 A2A 메시지 상태의 진행 순서를 반환합니다.
// 알 수 없는 상태는 -1입니다.
func A2AStatusRank(status string) int {
	switch status {
	case A2AStatusSent:
		return 0
	case A2AStatusProcessing:
		return 1
	case A2AStatusCompleted:
		return 2
	}
	return -1
}
