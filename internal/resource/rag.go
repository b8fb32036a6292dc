package resource

import (
	"context"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
)

// RAGHook은 벡터 인덱스, 검색 기록, 문서를 동기화합니다.
type RAGHook struct {
	cfg     config
	backend Backend
	group   group

	Indexes   *Collection[storage.VectorIndex]
	Queries   *Collection[storage.RAGQuery]
	Documents *Collection[storage.Document]
}

// OpenRAG는 RAGHook을 시작합니다.
func OpenRAG(ctx context.Context, backend Backend, opts ...Option) (*RAGHook, error) {
	h := &RAGHook{cfg: newConfig(opts), backend: backend}
	logger := h.cfg.logger.Named("rag")

	var err error
	if h.Indexes, err = openInto(ctx, &h.group, backend, storage.TableVectorIndexes, Options[storage.VectorIndex]{}, logger); err != nil {
		return nil, err
	}
	if h.Queries, err = openInto(ctx, &h.group, backend, storage.TableRAGQueries, Options[storage.RAGQuery]{}, logger); err != nil {
		return nil, err
	}
	if h.Documents, err = openInto(ctx, &h.group, backend, storage.TableDocuments, Options[storage.Document]{}, logger); err != nil {
		return nil, err
	}
	return h, nil
}

// Wait는 모든 컬렉션의 초기 조회를 기다립니다.
func (h *RAGHook) Wait(ctx context.Context) error {
	return waitAll(ctx, h.Indexes, h.Queries, h.Documents)
}

// Close는 모든 구독을 닫습니다.
func (h *RAGHook) Close() error {
	return h.group.closeAll()
}

// ReadyIndexes는 ready 상태의 인덱스입니다.
func (h *RAGHook) ReadyIndexes() []storage.VectorIndex {
	var out []storage.VectorIndex
	for _, idx := range h.Indexes.Items() {
		if idx.Status == storage.IndexStatusReady {
			out = append(out, idx)
		}
	}
	return out
}

// History는 indexID 검색 기록입니다.
func (h *RAGHook) History(indexID string) []storage.RAGQuery {
	var out []storage.RAGQuery
	for _, q := range h.Queries.Items() {
		if indexID == "" || q.IndexID == indexID {
			out = append(out, q)
		}
	}
	return out
}

// CreateIndex는 building 상태의 인덱스를 만들고 빌드를 예약합니다.
// ready 전환은 변경 알림으로 반영됩니다.
func (h *RAGHook) CreateIndex(ctx context.Context, req controller.CreateIndexRequest) (*storage.VectorIndex, error) {
	return h.index(ctx, controller.FnRAGCreateIndex, req, "Index created")
}

// Rebuild는 인덱스를 다시 빌드합니다.
func (h *RAGHook) Rebuild(ctx context.Context, indexID string) (*storage.VectorIndex, error) {
	return h.index(ctx, controller.FnRAGRebuildIndex, controller.RebuildIndexRequest{IndexID: indexID}, "Index rebuild started")
}

// IndexDocuments는 문서를 인덱스에 추가합니다.
func (h *RAGHook) IndexDocuments(ctx context.Context, indexID string, documentIDs []string) (*storage.VectorIndex, error) {
	return h.index(ctx, controller.FnRAGIndexDocuments, controller.IndexDocumentsRequest{
		IndexID:     indexID,
		DocumentIDs: documentIDs,
	}, "Documents queued for indexing")
}

func (h *RAGHook) index(ctx context.Context, fn string, req any, message string) (*storage.VectorIndex, error) {
	var out storage.VectorIndex
	err := h.backend.Invoke(ctx, fn, req, &out)
	if err := notify(h.cfg.notifier, fn, message, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteIndex는 인덱스와 조각을 삭제합니다.
func (h *RAGHook) DeleteIndex(ctx context.Context, indexID string) error {
	err := h.backend.Delete(ctx, storage.TableVectorIndexes, indexID)
	return notify(h.cfg.notifier, "delete-index", "Index deleted", err)
}

// IngestURL은 웹 페이지를 문서로 가져와 인덱스에 추가합니다.
func (h *RAGHook) IngestURL(ctx context.Context, indexID, target string) (*storage.Document, error) {
	var out storage.Document
	err := h.backend.Invoke(ctx, controller.FnRAGIngestURL, controller.IngestURLRequest{IndexID: indexID, URL: target}, &out)
	if err := notify(h.cfg.notifier, controller.FnRAGIngestURL, "Page ingested", err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Query는 인덱스를 검색하고 결과를 검색 기록으로 남깁니다.
func (h *RAGHook) Query(ctx context.Context, indexID, query string, topK int) (*storage.RAGQuery, error) {
	var out storage.RAGQuery
	err := h.backend.Invoke(ctx, controller.FnRAGQuery, controller.RAGQueryRequest{
		IndexID: indexID,
		Query:   query,
		TopK:    topK,
	}, &out)
	if err := notify(h.cfg.notifier, controller.FnRAGQuery, "Query completed", err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload는 문서를 업로드합니다. process가 true이면 텍스트 추출까지 실행합니다.
func (h *RAGHook) Upload(ctx context.Context, name, contentType string, data []byte, process bool) (*storage.Document, error) {
	doc, err := h.backend.Upload(ctx, name, contentType, data, process)
	if err := notify(h.cfg.notifier, "upload-document", "Document uploaded", err); err != nil {
		return nil, err
	}
	return doc, nil
}

// ProcessDocument는 업로드된 문서의 텍스트를 추출합니다.
func (h *RAGHook) ProcessDocument(ctx context.Context, documentID string) (*storage.Document, error) {
	var out storage.Document
	err := h.backend.Invoke(ctx, controller.FnProcessDocument, controller.ProcessDocumentRequest{DocumentID: documentID}, &out)
	if err := notify(h.cfg.notifier, controller.FnProcessDocument, "Document processed", err); err != nil {
		return nil, err
	}
	return &out, nil
}
