package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// 서버 측 함수 이름입니다.
const (
	FnChatWithAgent       = "chat-with-agent"
	FnCreateAgent         = "create-agent"
	FnSelectInitialRole   = "select-initial-role"
	FnActivateAgent       = "activate-agent"
	FnDeactivateAgent     = "deactivate-agent"
	FnA2ACommunication    = "a2a-communication"
	FnExecuteA2AWorkflow  = "execute-a2a-workflow"
	FnExecuteWorkflow     = "execute-workflow"
	FnMCPServerConnect    = "mcp-server-connect"
	FnMCPServerDisconnect = "mcp-server-disconnect"
	FnMCPToolExecute      = "mcp-tool-execute"
	FnRAGQuery            = "rag-query"
	FnRAGCreateIndex      = "rag-create-index"
	FnRAGRebuildIndex     = "rag-rebuild-index"
	FnRAGIndexDocuments   = "rag-index-documents"
	FnRAGIngestURL        = "rag-ingest-url"
	FnProcessDocument     = "process-document"
)

// Handler는 JSON 본문을 받아 결과를 반환하는 함수입니다.
type Handler func(ctx context.Context, userID string, body json.RawMessage) (any, error)

// Functions는 이름별 함수 테이블을 반환합니다.
func (c *Controller) Functions() map[string]Handler {
	return map[string]Handler{
		FnChatWithAgent:       typed(FnChatWithAgent, c.Chat),
		FnCreateAgent:         c.createAgent,
		FnSelectInitialRole:   typed(FnSelectInitialRole, c.SelectInitialRole),
		FnActivateAgent:       typed(FnActivateAgent, c.ActivateAgent),
		FnDeactivateAgent:     typed(FnDeactivateAgent, c.deactivate),
		FnA2ACommunication:    typed(FnA2ACommunication, c.SendA2AMessage),
		FnExecuteA2AWorkflow:  typed(FnExecuteA2AWorkflow, c.ExecuteA2AWorkflow),
		FnExecuteWorkflow:     typed(FnExecuteWorkflow, c.ExecuteWorkflow),
		FnMCPServerConnect:    typed(FnMCPServerConnect, c.ConnectMCPServer),
		FnMCPServerDisconnect: typed(FnMCPServerDisconnect, c.DisconnectMCPServer),
		FnMCPToolExecute:      typed(FnMCPToolExecute, c.ExecuteMCPTool),
		FnRAGQuery:            typed(FnRAGQuery, c.Query),
		FnRAGCreateIndex:      typed(FnRAGCreateIndex, c.CreateIndex),
		FnRAGRebuildIndex:     typed(FnRAGRebuildIndex, c.RebuildIndex),
		FnRAGIndexDocuments:   typed(FnRAGIndexDocuments, c.IndexDocuments),
		FnRAGIngestURL:        typed(FnRAGIngestURL, c.IngestURL),
		FnProcessDocument:     typed(FnProcessDocument, c.ProcessDocument),
	}
}

// FunctionNames는 등록된 함수 이름을 정렬해 반환합니다.
func (c *Controller) FunctionNames() []string {
	fns := c.Functions()
	names := make([]string, 0, len(fns))
	for name := range fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke는 name 함수를 실행합니다.
func (c *Controller) Invoke(ctx context.Context, name, userID string, body json.RawMessage) (any, error) {
	if userID == "" {
		return nil, &FunctionError{Op: name, Err: ErrUnauthenticated}
	}
	fn, ok := c.Functions()[name]
	if !ok {
		return nil, notFound(name, "unknown function")
	}
	return fn(ctx, userID, body)
}

func (c *Controller) createAgent(ctx context.Context, userID string, body json.RawMessage) (any, error) {
	return c.CreateAgent(ctx, userID, body)
}

func (c *Controller) deactivate(ctx context.Context, userID string, req DeactivateRequest) (map[string]bool, error) {
	if err := c.DeactivateAgent(ctx, userID, req); err != nil {
		return nil, err
	}
	return map[string]bool{"deactivated": true}, nil
}

// typed는 본문을 Req로 디코딩하는 어댑터입니다.
func typed[Req, Res any](op string, fn func(context.Context, string, Req) (Res, error)) Handler {
	return func(ctx context.Context, userID string, body json.RawMessage) (any, error) {
		var req Req
		if err := decodeBody(body, &req); err != nil {
			return nil, invalid(op, "%v", err)
		}
		return fn(ctx, userID, req)
	}
}

func decodeBody(raw []byte, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("request body is required")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	return nil
}
