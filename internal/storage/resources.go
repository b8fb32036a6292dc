package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/realtime"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MCPConnection은 connect/disconnect 결과로 MCP 서버 행을 통째로 덮어쓰는 값입니다.
type MCPConnection struct {
	Status      string
	Tools       []MCPTool
	Resources   []MCPResource
	ConnectedAt *time.Time
	LastError   string
}

// CreateMCPServer는 disconnected 상태의 MCP 서버를 등록합니다.
func (r *Repository) CreateMCPServer(ctx context.Context, userID string, server *MCPServer) error {
	if server == nil {
		return fmt.Errorf("storage: nil mcp server payload")
	}
	if server.Status == "" {
		server.Status = MCPStatusDisconnected
	}
	return InsertOwned(ctx, r, userID, server)
}

// SetMCPConnection은 상태, 도구, 리소스를 한 번에 덮어씁니다.
func (r *Repository) SetMCPConnection(ctx context.Context, userID, serverID string, conn MCPConnection) (*MCPServer, error) {
	tools, err := EncodeJSON(conn.Tools)
	if err != nil {
		return nil, err
	}
	resources, err := EncodeJSON(conn.Resources)
	if err != nil {
		return nil, err
	}
	if tools == nil || string(tools) == "null" {
		tools = datatypes.JSON("[]")
	}
	if resources == nil || string(resources) == "null" {
		resources = datatypes.JSON("[]")
	}
	fields := map[string]any{
		"status":     conn.Status,
		"tools":      tools,
		"resources":  resources,
		"last_error": conn.LastError,
	}
	if conn.ConnectedAt != nil {
		fields["last_connected_at"] = *conn.ConnectedAt
	}
	return UpdateOwned[MCPServer](ctx, r, userID, serverID, fields)
}

// CreateVectorIndex는 building 상태의 인덱스 행을 만듭니다.
func (r *Repository) CreateVectorIndex(ctx context.Context, userID string, index *VectorIndex) error {
	if index == nil {
		return fmt.Errorf("storage: nil vector index payload")
	}
	index.Status = IndexStatusBuilding
	if index.EmbeddingModel == "" {
		index.EmbeddingModel = DefaultEmbeddingModel
	}
	return InsertOwned(ctx, r, userID, index)
}

// IndexUpdate는 인덱스 빌드 결과입니다.
type IndexUpdate struct {
	Status        string
	DocumentCount int
	VectorCount   int
	LastError     string
}

// SetIndexStatus는 인덱스 상태와 카운트를 갱신합니다.
func (r *Repository) SetIndexStatus(ctx context.Context, userID, indexID string, update IndexUpdate) (*VectorIndex, error) {
	now := time.Now().UTC()
	return UpdateOwned[VectorIndex](ctx, r, userID, indexID, map[string]any{
		"status":          update.Status,
		"document_count":  update.DocumentCount,
		"vector_count":    update.VectorCount,
		"last_error":      update.LastError,
		"last_updated_at": now,
	})
}

// MarkIndexBuilding은 인덱스를 building 상태로 되돌립니다.
func (r *Repository) MarkIndexBuilding(ctx context.Context, userID, indexID string) (*VectorIndex, error) {
	return UpdateOwned[VectorIndex](ctx, r, userID, indexID, map[string]any{
		"status":     IndexStatusBuilding,
		"last_error": "",
	})
}

// AttachDocuments는 문서를 인덱스에 연결합니다. 이미 연결된 문서는 무시합니다.
func (r *Repository) AttachDocuments(ctx context.Context, userID, indexID string, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}
	rows := make([]IndexDocument, 0, len(documentIDs))
	for _, docID := range documentIDs {
		rows = append(rows, IndexDocument{Owned: Owned{UserID: userID}, IndexID: indexID, DocumentID: docID})
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "index_id"}, {Name: "document_id"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

// ListIndexDocuments는 인덱스에 연결된 문서를 반환합니다.
func (r *Repository) ListIndexDocuments(ctx context.Context, userID, indexID string) ([]Document, error) {
	var docs []Document
	if err := r.db.WithContext(ctx).
		Model(&Document{}).
		Select("documents.*").
		Joins("JOIN rag_index_documents ON rag_index_documents.document_id = documents.id").
		Where("rag_index_documents.index_id = ? AND documents.user_id = ?", indexID, userID).
		Order("documents.created_at ASC").
		Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// ReplaceChunks는 인덱스의 조각을 모두 교체합니다.
func (r *Repository) ReplaceChunks(ctx context.Context, userID, indexID string, chunks []Chunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("index_id = ? AND user_id = ?", indexID, userID).
			Delete(&Chunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		for i := range chunks {
			chunks[i].UserID = userID
			chunks[i].IndexID = indexID
		}
		return tx.CreateInBatches(chunks, 200).Error
	})
}

// ListChunks는 인덱스 조각을 순서대로 반환합니다.
func (r *Repository) ListChunks(ctx context.Context, userID, indexID string) ([]Chunk, error) {
	var chunks []Chunk
	if err := r.db.WithContext(ctx).
		Where("index_id = ? AND user_id = ?", indexID, userID).
		Order("seq ASC").
		Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

// DeleteVectorIndex는 인덱스와 조각, 문서 연결을 삭제합니다.
func (r *Repository) DeleteVectorIndex(ctx context.Context, userID, indexID string) error {
	index, err := GetOwned[VectorIndex](ctx, r, userID, indexID)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("index_id = ?", indexID).Delete(&Chunk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("index_id = ?", indexID).Delete(&IndexDocument{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", indexID).Delete(&VectorIndex{}).Error
	}); err != nil {
		return err
	}
	r.publish(ctx, realtime.EventDelete, userID, index)
	return nil
}

// CreateRAGQuery는 검색 기록을 추가합니다.
func (r *Repository) CreateRAGQuery(ctx context.Context, userID string, query *RAGQuery) error {
	return InsertOwned(ctx, r, userID, query)
}

// ListRAGQueries는 검색 기록을 반환합니다. indexID가 비어있으면 전체입니다.
func (r *Repository) ListRAGQueries(ctx context.Context, userID, indexID string) ([]RAGQuery, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if indexID != "" {
		q = q.Where("index_id = ?", indexID)
	}
	var rows []RAGQuery
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateA2AMessage는 메시지를 추가합니다. 상태가 비어있으면 sent입니다.
func (r *Repository) CreateA2AMessage(ctx context.Context, userID string, msg *A2AMessage) error {
	if msg == nil {
		return fmt.Errorf("storage: nil a2a message payload")
	}
	if msg.Status == "" {
		msg.Status = A2AStatusSent
	}
	if A2AStatusRank(msg.Status) < 0 {
		return fmt.Errorf("storage: invalid a2a status %q", msg.Status)
	}
	return InsertOwned(ctx, r, userID, msg)
}

// AdvanceA2AMessageStatus는 메시지 상태를 앞으로만 이동시킵니다.
// 같은 상태나 이전 상태로의 변경은 ErrStatusRegression입니다.
func (r *Repository) AdvanceA2AMessageStatus(ctx context.Context, userID, messageID, status string) (*A2AMessage, error) {
	rank := A2AStatusRank(status)
	if rank < 0 {
		return nil, fmt.Errorf("storage: invalid a2a status %q", status)
	}
	var lower []string
	for _, s := range []string{A2AStatusSent, A2AStatusProcessing, A2AStatusCompleted} {
		if A2AStatusRank(s) < rank {
			lower = append(lower, s)
		}
	}
	if len(lower) == 0 {
		return nil, ErrStatusRegression
	}

	res := r.db.WithContext(ctx).
		Model(&A2AMessage{}).
		Where("id = ? AND user_id = ? AND status IN ?", messageID, userID, lower).
		Update("status", status)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := GetOwned[A2AMessage](ctx, r, userID, messageID); err != nil {
			return nil, err
		}
		return nil, ErrStatusRegression
	}

	msg, err := GetOwned[A2AMessage](ctx, r, userID, messageID)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, realtime.EventUpdate, userID, msg)
	return msg, nil
}

// ListA2AMessages는 메시지를 반환합니다. workflowID가 비어있으면 전체입니다.
func (r *Repository) ListA2AMessages(ctx context.Context, userID, workflowID string) ([]A2AMessage, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if workflowID != "" {
		q = q.Where("workflow_id = ?", workflowID)
	}
	var rows []A2AMessage
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateDocument는 업로드된 문서를 기록합니다.
func (r *Repository) CreateDocument(ctx context.Context, userID string, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("storage: nil document payload")
	}
	if doc.Status == "" {
		doc.Status = DocumentStatusUploaded
	}
	return InsertOwned(ctx, r, userID, doc)
}

// SetDocumentContent는 추출된 텍스트와 처리 상태를 저장합니다.
func (r *Repository) SetDocumentContent(ctx context.Context, userID, documentID, status, content string) (*Document, error) {
	return UpdateOwned[Document](ctx, r, userID, documentID, map[string]any{
		"status":  status,
		"content": content,
	})
}

// StartWorkflowRun은 running이 아닌 워크플로만 running으로 바꿉니다.
// 동시에 여러 번 호출되면 하나만 성공하고 나머지는 ErrWorkflowRunning입니다.
func (r *Repository) StartWorkflowRun(ctx context.Context, userID, workflowID string) (*Workflow, error) {
	res := r.db.WithContext(ctx).
		Model(&Workflow{}).
		Where("id = ? AND user_id = ? AND status <> ?", workflowID, userID, WorkflowStatusRunning).
		Updates(map[string]any{
			"status":      WorkflowStatusRunning,
			"last_run_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := GetOwned[Workflow](ctx, r, userID, workflowID); err != nil {
			return nil, err
		}
		return nil, ErrWorkflowRunning
	}

	wf, err := GetOwned[Workflow](ctx, r, userID, workflowID)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, realtime.EventUpdate, userID, wf)
	return wf, nil
}

// SetWorkflowRun은 워크플로 실행 결과 상태와 결과를 기록합니다.
func (r *Repository) SetWorkflowRun(ctx context.Context, userID, workflowID, status string, result datatypes.JSON) (*Workflow, error) {
	fields := map[string]any{"status": status}
	if result != nil {
		fields["last_result"] = result
	}
	return UpdateOwned[Workflow](ctx, r, userID, workflowID, fields)
}

// ListEnabledIntegrations는 kind 종류의 활성 연동을 반환합니다.
func (r *Repository) ListEnabledIntegrations(ctx context.Context, userID, kind string) ([]ExternalIntegration, error) {
	var rows []ExternalIntegration
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND kind = ? AND enabled = ?", userID, kind, true).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
