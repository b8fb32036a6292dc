package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Base는 모든 동기화 대상 테이블의 공통 컬럼입니다.
type Base struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

// BeforeCreate는 비어있는 ID에 UUID를 할당합니다.
func (b *Base) BeforeCreate(_ *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// GetID는 행 식별자를 반환합니다.
func (b Base) GetID() string { return b.ID }

// GetCreatedAt은 생성 시각을 반환합니다.
func (b Base) GetCreatedAt() time.Time { return b.CreatedAt }

// GetUpdatedAt은 마지막 변경 시각을 반환합니다.
func (b Base) GetUpdatedAt() time.Time { return b.UpdatedAt }

// Owned는 사용자 소유 행의 소유자 컬럼입니다.
type Owned struct {
	UserID string `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
}

// GetUserID는 소유자 식별자를 반환합니다.
func (o Owned) GetUserID() string { return o.UserID }

// SetUserID는 소유자를 설정합니다.
func (o *Owned) SetUserID(userID string) { o.UserID = userID }

// Profile은 profiles 테이블 레코드입니다. ID는 인증된 사용자 식별자입니다.
type Profile struct {
	ID          string    `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	Role        string    `gorm:"column:role;type:varchar(32);not null;default:''" json:"role"`
	DisplayName string    `gorm:"column:display_name;type:varchar(128)" json:"display_name"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (Profile) TableName() string { return TableProfiles }

// GetID는 행 식별자를 반환합니다.
func (p Profile) GetID() string { return p.ID }

// GetCreatedAt은 생성 시각을 반환합니다.
func (p Profile) GetCreatedAt() time.Time { return p.CreatedAt }

// GetUpdatedAt은 마지막 변경 시각을 반환합니다.
func (p Profile) GetUpdatedAt() time.Time { return p.UpdatedAt }

// Agent는 agents 테이블 레코드입니다. 모든 사용자에게 공개됩니다.
type Agent struct {
	Base
	Name         string         `gorm:"column:name;type:varchar(128);not null" json:"name"`
	Description  string         `gorm:"column:description;type:text" json:"description"`
	Role         string         `gorm:"column:role;type:varchar(32);not null;index" json:"role"`
	Provider     string         `gorm:"column:provider;type:varchar(32);not null" json:"provider"`
	Model        string         `gorm:"column:model;type:varchar(64)" json:"model"`
	SystemPrompt string         `gorm:"column:system_prompt;type:text" json:"system_prompt"`
	Active       bool           `gorm:"column:active;not null" json:"active"`
	CreatedBy    string         `gorm:"column:created_by;type:varchar(64)" json:"created_by,omitempty"`
	Config       datatypes.JSON `gorm:"column:config" json:"config,omitempty"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (Agent) TableName() string { return TableAgents }

// UserAgent는 사용자와 에이전트의 활성화 관계입니다.
type UserAgent struct {
	Base
	UserID  string         `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:idx_user_agents_pair,priority:1" json:"user_id"`
	AgentID string         `gorm:"column:agent_id;type:varchar(36);not null;uniqueIndex:idx_user_agents_pair,priority:2" json:"agent_id"`
	Config  datatypes.JSON `gorm:"column:config" json:"config,omitempty"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (UserAgent) TableName() string { return TableUserAgents }

// GetUserID는 소유자 식별자를 반환합니다.
func (u UserAgent) GetUserID() string { return u.UserID }

// AgentInteraction은 대화 한 턴입니다.
type AgentInteraction struct {
	Base
	Owned
	AgentID    string         `gorm:"column:agent_id;type:varchar(36);not null;index" json:"agent_id"`
	Input      string         `gorm:"column:input;type:text" json:"input"`
	Output     string         `gorm:"column:output;type:text" json:"output"`
	DocumentID *string        `gorm:"column:document_id;type:varchar(36)" json:"document_id,omitempty"`
	Metadata   datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (AgentInteraction) TableName() string { return TableAgentInteractions }

// MCPTool은 MCP 서버가 선언한 도구입니다.
type MCPTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// MCPResource는 MCP 서버가 선언한 리소스입니다.
type MCPResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

// MCPServer는 사용자가 등록한 외부 도구 서버입니다.
type MCPServer struct {
	Base
	Owned
	Name            string         `gorm:"column:name;type:varchar(128);not null" json:"name"`
	Endpoint        string         `gorm:"column:endpoint;type:text;not null" json:"endpoint"`
	Status          string         `gorm:"column:status;type:varchar(32);not null" json:"status"`
	Tools           datatypes.JSON `gorm:"column:tools" json:"tools,omitempty"`
	Resources       datatypes.JSON `gorm:"column:resources" json:"resources,omitempty"`
	LastConnectedAt *time.Time     `gorm:"column:last_connected_at" json:"last_connected_at,omitempty"`
	LastError       string         `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	Config          datatypes.JSON `gorm:"column:config" json:"config,omitempty"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (MCPServer) TableName() string { return TableMCPServers }

// ToolList는 tools 컬럼을 디코딩합니다.
func (s MCPServer) ToolList() ([]MCPTool, error) {
	return DecodeJSON[[]MCPTool](s.Tools)
}

// ResourceList는 resources 컬럼을 디코딩합니다.
func (s MCPServer) ResourceList() ([]MCPResource, error) {
	return DecodeJSON[[]MCPResource](s.Resources)
}

// VectorIndex는 RAG 검색 인덱스입니다.
type VectorIndex struct {
	Base
	Owned
	Name           string         `gorm:"column:name;type:varchar(128);not null" json:"name"`
	Description    string         `gorm:"column:description;type:text" json:"description"`
	DocumentCount  int            `gorm:"column:document_count;not null;default:0" json:"document_count"`
	VectorCount    int            `gorm:"column:vector_count;not null;default:0" json:"vector_count"`
	Status         string         `gorm:"column:status;type:varchar(32);not null" json:"status"`
	EmbeddingModel string         `gorm:"column:embedding_model;type:varchar(64)" json:"embedding_model"`
	Config         datatypes.JSON `gorm:"column:config" json:"config,omitempty"`
	LastError      string         `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	LastUpdatedAt  *time.Time     `gorm:"column:last_updated_at" json:"last_updated_at,omitempty"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (VectorIndex) TableName() string { return TableVectorIndexes }

// RAGResult는 검색 결과 한 건입니다.
type RAGResult struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// RAGQuery는 검색 질의 기록입니다.
type RAGQuery struct {
	Base
	Owned
	IndexID        string         `gorm:"column:index_id;type:varchar(36);not null;index" json:"index_id"`
	Query          string         `gorm:"column:query;type:text;not null" json:"query"`
	Results        datatypes.JSON `gorm:"column:results" json:"results,omitempty"`
	ResponseTimeMS int64          `gorm:"column:response_time_ms" json:"response_time_ms"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (RAGQuery) TableName() string { return TableRAGQueries }

// ResultList는 results 컬럼을 디코딩합니다.
func (q RAGQuery) ResultList() ([]RAGResult, error) {
	return DecodeJSON[[]RAGResult](q.Results)
}

// A2AMessage는 에이전트 간 메시지입니다.
type A2AMessage struct {
	Base
	Owned
	SenderAgentID   string         `gorm:"column:sender_agent_id;type:varchar(36);not null" json:"sender_agent_id"`
	ReceiverAgentID string         `gorm:"column:receiver_agent_id;type:varchar(36);not null" json:"receiver_agent_id"`
	Content         string         `gorm:"column:content;type:text" json:"content"`
	MessageType     string         `gorm:"column:message_type;type:varchar(32);not null" json:"message_type"`
	Status          string         `gorm:"column:status;type:varchar(32);not null" json:"status"`
	WorkflowID      *string        `gorm:"column:workflow_id;type:varchar(36);index" json:"workflow_id,omitempty"`
	Metadata        datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (A2AMessage) TableName() string { return TableA2AMessages }

// A2AWorkflow는 에이전트 간 메시지 단계 목록입니다.
type A2AWorkflow struct {
	Base
	Owned
	Name        string         `gorm:"column:name;type:varchar(128);not null" json:"name"`
	Description string         `gorm:"column:description;type:text" json:"description"`
	AgentIDs    datatypes.JSON `gorm:"column:agent_ids" json:"agent_ids,omitempty"`
	Steps       datatypes.JSON `gorm:"column:steps" json:"steps,omitempty"`
	Active      bool           `gorm:"column:active;not null" json:"active"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (A2AWorkflow) TableName() string { return TableA2AWorkflows }

// Document는 업로드된 문서입니다. 원본은 blob 저장소에 있습니다.
type Document struct {
	Base
	Owned
	Name        string         `gorm:"column:name;type:varchar(255);not null" json:"name"`
	ContentType string         `gorm:"column:content_type;type:varchar(128)" json:"content_type"`
	Size        int64          `gorm:"column:size" json:"size"`
	StorageURL  string         `gorm:"column:storage_url;type:text" json:"storage_url"`
	Status      string         `gorm:"column:status;type:varchar(32);not null" json:"status"`
	Content     string         `gorm:"column:content;type:text" json:"content,omitempty"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (Document) TableName() string { return TableDocuments }

// IndexDocument는 인덱스에 포함된 문서입니다.
type IndexDocument struct {
	Base
	Owned
	IndexID    string `gorm:"column:index_id;type:varchar(36);not null;uniqueIndex:idx_rag_index_documents_pair,priority:1" json:"index_id"`
	DocumentID string `gorm:"column:document_id;type:varchar(36);not null;uniqueIndex:idx_rag_index_documents_pair,priority:2" json:"document_id"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (IndexDocument) TableName() string { return TableIndexDocuments }

// Chunk는 인덱스 빌드 결과 조각입니다.
type Chunk struct {
	Base
	Owned
	IndexID    string `gorm:"column:index_id;type:varchar(36);not null;index:idx_rag_chunks_index_seq,priority:1" json:"index_id"`
	DocumentID string `gorm:"column:document_id;type:varchar(36);not null" json:"document_id"`
	Seq        int    `gorm:"column:seq;not null;index:idx_rag_chunks_index_seq,priority:2" json:"seq"`
	Content    string `gorm:"column:content;type:text" json:"content"`
	Source     string `gorm:"column:source;type:varchar(255)" json:"source"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (Chunk) TableName() string { return TableChunks }

// Workflow는 사용자 정의 작업 흐름입니다.
type Workflow struct {
	Base
	Owned
	Name        string         `gorm:"column:name;type:varchar(128);not null" json:"name"`
	Description string         `gorm:"column:description;type:text" json:"description"`
	Steps       datatypes.JSON `gorm:"column:steps" json:"steps,omitempty"`
	Status      string         `gorm:"column:status;type:varchar(32);not null" json:"status"`
	LastRunAt   *time.Time     `gorm:"column:last_run_at" json:"last_run_at,omitempty"`
	LastResult  datatypes.JSON `gorm:"column:last_result" json:"last_result,omitempty"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (Workflow) TableName() string { return TableWorkflows }

// ExternalIntegration은 외부 알림 연동 설정입니다.
type ExternalIntegration struct {
	Base
	Owned
	Kind       string         `gorm:"column:kind;type:varchar(32);not null" json:"kind"`
	Name       string         `gorm:"column:name;type:varchar(128);not null" json:"name"`
	WebhookURL string         `gorm:"column:webhook_url;type:text" json:"webhook_url"`
	Enabled    bool           `gorm:"column:enabled;not null" json:"enabled"`
	Config     datatypes.JSON `gorm:"column:config" json:"config,omitempty"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (ExternalIntegration) TableName() string { return TableExternalIntegrations }

// EncodeJSON은 v를 JSON 컬럼 값으로 직렬화합니다.
func EncodeJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("storage: encode json column: %w", err)
	}
	return datatypes.JSON(raw), nil
}

// MustJSON은 직렬화 실패 시 panic합니다. 상수 시드 데이터에만 사용합니다.
func MustJSON(v any) datatypes.JSON {
	raw, err := EncodeJSON(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// DecodeJSON은 JSON 컬럼 값을 T로 역직렬화합니다. 빈 값은 T의 zero value입니다.
func DecodeJSON[T any](raw datatypes.JSON) (T, error) {
	var out T
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("storage: decode json column: %w", err)
	}
	return out, nil
}

// AllModels는 마이그레이션 대상 모델 목록입니다.
func AllModels() []any {
	return []any{
		&Profile{},
		&Agent{},
		&UserAgent{},
		&AgentInteraction{},
		&MCPServer{},
		&VectorIndex{},
		&RAGQuery{},
		&A2AMessage{},
		&A2AWorkflow{},
		&Document{},
		&IndexDocument{},
		&Chunk{},
		&Workflow{},
		&ExternalIntegration{},
	}
}
