package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"gorm.io/datatypes"
)

var errReadOnly = errors.New("api: table is read-only")

type fields map[string]json.RawMessage

// table은 /rest/v1/:table 하나의 동작입니다. nil 동작은 지원하지 않는 메서드입니다.
type table struct {
	list     func(ctx context.Context, s *Server, userID string, query func(string) string) (any, error)
	insert   func(ctx context.Context, s *Server, userID string, body fields) (any, error)
	update   func(ctx context.Context, s *Server, userID, id string, body fields) (any, error)
	remove   func(ctx context.Context, s *Server, userID, id string) error
	writable []string
}

// tables는 노출되는 테이블 목록입니다. 변경 알림 구독도 이 목록으로 제한됩니다.
var tables = map[string]table{
	storage.TableProfiles: {
		list: func(ctx context.Context, s *Server, userID string, _ func(string) string) (any, error) {
			p, err := s.ctrl.Repository().EnsureProfile(ctx, userID)
			if err != nil {
				return nil, err
			}
			return []storage.Profile{*p}, nil
		},
		update: func(ctx context.Context, s *Server, userID, id string, body fields) (any, error) {
			if id != userID {
				return nil, fmt.Errorf("%w: profile belongs to another user", controller.ErrNotFound)
			}
			var name string
			if raw, ok := body["display_name"]; ok {
				if err := json.Unmarshal(raw, &name); err != nil {
					return nil, fmt.Errorf("%w: display_name must be a string", controller.ErrInvalidInput)
				}
			}
			return s.ctrl.Repository().UpdateProfileDisplayName(ctx, userID, strings.TrimSpace(name))
		},
		writable: []string{"display_name"},
	},
	storage.TableAgents: {
		list: func(ctx context.Context, s *Server, _ string, query func(string) string) (any, error) {
			rows, err := s.ctrl.Repository().ListAgents(ctx, storage.AgentFilter{
				Role:       query("role"),
				ActiveOnly: query("active") == "true",
			})
			return nonNil(rows), err
		},
	},
	storage.TableUserAgents: {
		list: func(ctx context.Context, s *Server, userID string, _ func(string) string) (any, error) {
			rows, err := s.ctrl.Repository().ListUserAgents(ctx, userID)
			return nonNil(rows), err
		},
	},
	storage.TableAgentInteractions: {
		list: func(ctx context.Context, s *Server, userID string, query func(string) string) (any, error) {
			rows, err := s.ctrl.Repository().ListInteractions(ctx, userID, query("agent_id"))
			return nonNil(rows), err
		},
	},
	storage.TableRAGQueries: {
		list: func(ctx context.Context, s *Server, userID string, query func(string) string) (any, error) {
			rows, err := s.ctrl.Repository().ListRAGQueries(ctx, userID, query("index_id"))
			return nonNil(rows), err
		},
	},
	storage.TableA2AMessages: {
		list: func(ctx context.Context, s *Server, userID string, query func(string) string) (any, error) {
			rows, err := s.ctrl.Repository().ListA2AMessages(ctx, userID, query("workflow_id"))
			return nonNil(rows), err
		},
	},
	storage.TableDocuments: {
		list: listOwned[storage.Document],
	},
	storage.TableMCPServers: ownedTable(func(row *storage.MCPServer) {
		row.Status = storage.MCPStatusDisconnected
		row.Tools = datatypes.JSON("[]")
		row.Resources = datatypes.JSON("[]")
	}, "name", "endpoint", "config"),
	storage.TableA2AWorkflows: ownedTable[storage.A2AWorkflow](nil, "name", "description", "agent_ids", "steps", "active"),
	storage.TableWorkflows: ownedTable(func(row *storage.Workflow) {
		row.Status = storage.WorkflowStatusIdle
	}, "name", "description", "steps"),
	storage.TableExternalIntegrations: ownedTable(func(row *storage.ExternalIntegration) {
		if row.Kind == "" {
			row.Kind = storage.IntegrationKindDiscord
		}
	}, "kind", "name", "webhook_url", "enabled", "config"),
	storage.TableVectorIndexes: vectorIndexTable(),
}

type ownedPtr[T any] interface {
	*T
	TableName() string
	GetID() string
	SetUserID(string)
}

func listOwned[T any](ctx context.Context, s *Server, userID string, _ func(string) string) (any, error) {
	rows, err := storage.ListOwned[T](ctx, s.ctrl.Repository(), userID)
	return nonNil(rows), err
}

// ownedTable은 사용자 소유 테이블의 기본 CRUD입니다. defaults는 삽입 직전에 서버 관리 컬럼을 채웁니다.
func ownedTable[T any, P ownedPtr[T]](defaults func(P), writable ...string) table {
	return table{
		list: listOwned[T],
		insert: func(ctx context.Context, s *Server, userID string, body fields) (any, error) {
			raw, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			row := P(new(T))
			if err := json.Unmarshal(raw, row); err != nil {
				return nil, fmt.Errorf("%w: %v", controller.ErrInvalidInput, err)
			}
			if defaults != nil {
				defaults(row)
			}
			if err := storage.InsertOwned[T](ctx, s.ctrl.Repository(), userID, row); err != nil {
				return nil, err
			}
			return row, nil
		},
		update: func(ctx context.Context, s *Server, userID, id string, body fields) (any, error) {
			cols, err := columns(body)
			if err != nil {
				return nil, err
			}
			return storage.UpdateOwned[T, P](ctx, s.ctrl.Repository(), userID, id, cols)
		},
		remove: func(ctx context.Context, s *Server, userID, id string) error {
			return storage.DeleteOwned[T, P](ctx, s.ctrl.Repository(), userID, id)
		},
		writable: writable,
	}
}

// vectorIndexTable의 삽입은 백그라운드 빌드까지 예약하도록 rag-create-index로 위임합니다.
func vectorIndexTable() table {
	t := ownedTable[storage.VectorIndex](nil, "name", "description", "embedding_model", "config", "document_ids")
	t.insert = func(ctx context.Context, s *Server, userID string, body fields) (any, error) {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		var req controller.CreateIndexRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", controller.ErrInvalidInput, err)
		}
		return s.ctrl.CreateIndex(ctx, userID, req)
	}
	t.update = func(ctx context.Context, s *Server, userID, id string, body fields) (any, error) {
		if _, ok := body["document_ids"]; ok {
			return nil, fmt.Errorf("%w: use rag-index-documents to attach documents", controller.ErrInvalidInput)
		}
		cols, err := columns(body)
		if err != nil {
			return nil, err
		}
		return storage.UpdateOwned[storage.VectorIndex](ctx, s.ctrl.Repository(), userID, id, cols)
	}
	t.remove = func(ctx context.Context, s *Server, userID, id string) error {
		return s.ctrl.Repository().DeleteVectorIndex(ctx, userID, id)
	}
	return t
}

// columns는 JSON 필드를 gorm Updates 값으로 바꿉니다. 객체와 배열은 JSON 컬럼 값입니다.
func columns(body fields) (map[string]any, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", controller.ErrInvalidInput)
	}
	out := make(map[string]any, len(body))
	for k, raw := range body {
		trimmed := strings.TrimSpace(string(raw))
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			out[k] = datatypes.JSON(trimmed)
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", controller.ErrInvalidInput, k, err)
		}
		out[k] = v
	}
	return out, nil
}

// readBody는 요청 본문을 writable 컬럼으로 제한해 읽습니다.
func readBody(c *gin.Context, writable []string) (fields, error) {
	var body fields
	if err := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxFunctionBody)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", controller.ErrInvalidInput)
	}
	return restrict(body, writable)
}

// restrict는 writable에 없는 컬럼이 있으면 거부합니다.
func restrict(body fields, writable []string) (fields, error) {
	allowed := make(map[string]bool, len(writable))
	for _, col := range writable {
		allowed[col] = true
	}
	var rejected []string
	for k := range body {
		if !allowed[k] {
			rejected = append(rejected, k)
		}
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		return nil, fmt.Errorf("%w: columns not writable: %s", controller.ErrInvalidInput, strings.Join(rejected, ", "))
	}
	return body, nil
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

func (s *Server) lookup(c *gin.Context) (table, bool) {
	t, ok := tables[c.Param("table")]
	if !ok {
		c.JSON(http.StatusNotFound, envelope{Error: "unknown table " + c.Param("table")})
	}
	return t, ok
}

func (s *Server) tableFailed(c *gin.Context, err error) {
	if errors.Is(err, errReadOnly) {
		c.JSON(http.StatusMethodNotAllowed, envelope{Error: "table " + c.Param("table") + " is read-only"})
		return
	}
	s.logFailure(c, c.Request.Method+" "+c.Param("table"), err)
	respondError(c, err)
}

// handleList는 GET /rest/v1/:table 입니다. 결과는 created_at 역순입니다.
func (s *Server) handleList(c *gin.Context) {
	t, ok := s.lookup(c)
	if !ok {
		return
	}
	rows, err := t.list(c.Request.Context(), s, userID(c), c.Query)
	if err != nil {
		s.tableFailed(c, err)
		return
	}
	respond(c, http.StatusOK, rows)
}

// handleInsert는 POST /rest/v1/:table 입니다.
func (s *Server) handleInsert(c *gin.Context) {
	t, ok := s.lookup(c)
	if !ok {
		return
	}
	if t.insert == nil {
		s.tableFailed(c, errReadOnly)
		return
	}
	body, err := readBody(c, t.writable)
	if err != nil {
		s.tableFailed(c, err)
		return
	}
	row, err := t.insert(c.Request.Context(), s, userID(c), body)
	if err != nil {
		s.tableFailed(c, err)
		return
	}
	respond(c, http.StatusCreated, row)
}

// handleUpdate는 PATCH /rest/v1/:table/:id 입니다.
func (s *Server) handleUpdate(c *gin.Context) {
	t, ok := s.lookup(c)
	if !ok {
		return
	}
	if t.update == nil {
		s.tableFailed(c, errReadOnly)
		return
	}
	body, err := readBody(c, t.writable)
	if err != nil {
		s.tableFailed(c, err)
		return
	}
	row, err := t.update(c.Request.Context(), s, userID(c), c.Param("id"), body)
	if err != nil {
		s.tableFailed(c, err)
		return
	}
	respond(c, http.StatusOK, row)
}

// handleDelete는 DELETE /rest/v1/:table/:id 입니다.
func (s *Server) handleDelete(c *gin.Context) {
	t, ok := s.lookup(c)
	if !ok {
		return
	}
	if t.remove == nil {
		s.tableFailed(c, errReadOnly)
		return
	}
	if err := t.remove(c.Request.Context(), s, userID(c), c.Param("id")); err != nil {
		s.tableFailed(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"deleted": c.Param("id")})
}
