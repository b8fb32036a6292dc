package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/retrieval"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	defaultTopK = 5
	maxTopK     = 50
	// rag-ingest-url이 읽는 최대 바이트 수
	maxIngestSize = 5 << 20
)

// CreateIndex는 building 상태의 인덱스를 만들고 백그라운드 빌드를 예약합니다.
func (c *Controller) CreateIndex(ctx context.Context, userID string, req CreateIndexRequest) (*storage.VectorIndex, error) {
	const op = "rag-create-index"

	name := normalize(req.Name)
	if name == "" {
		return nil, invalid(op, "name is required")
	}
	if err := c.checkDocuments(ctx, op, userID, req.DocumentIDs); err != nil {
		return nil, err
	}

	index := &storage.VectorIndex{
		Name:           name,
		Description:    normalize(req.Description),
		EmbeddingModel: req.EmbeddingModel,
	}
	if len(req.Config) > 0 {
		index.Config = datatypes.JSON(req.Config)
	}
	if err := c.repo.CreateVectorIndex(ctx, userID, index); err != nil {
		return nil, wrap(op, err)
	}
	if err := c.repo.AttachDocuments(ctx, userID, index.ID, req.DocumentIDs); err != nil {
		return nil, wrap(op, err)
	}

	c.scheduleBuild(userID, index.ID)
	return index, nil
}

// RebuildIndex는 인덱스를 building으로 되돌리고 다시 빌드합니다.
func (c *Controller) RebuildIndex(ctx context.Context, userID string, req RebuildIndexRequest) (*storage.VectorIndex, error) {
	const op = "rag-rebuild-index"
	if req.IndexID == "" {
		return nil, invalid(op, "index_id is required")
	}
	index, err := c.repo.MarkIndexBuilding(ctx, userID, req.IndexID)
	if err != nil {
		return nil, wrap(op, err)
	}
	c.indexes.Invalidate(index.ID)
	c.scheduleBuild(userID, index.ID)
	return index, nil
}

// IndexDocuments는 문서를 인덱스에 추가하고 다시 빌드합니다.
func (c *Controller) IndexDocuments(ctx context.Context, userID string, req IndexDocumentsRequest) (*storage.VectorIndex, error) {
	const op = "rag-index-documents"
	if req.IndexID == "" {
		return nil, invalid(op, "index_id is required")
	}
	if len(req.DocumentIDs) == 0 {
		return nil, invalid(op, "document_ids is required")
	}
	if _, err := storage.GetOwned[storage.VectorIndex](ctx, c.repo, userID, req.IndexID); err != nil {
		return nil, wrap(op, err)
	}
	if err := c.checkDocuments(ctx, op, userID, req.DocumentIDs); err != nil {
		return nil, err
	}
	if err := c.repo.AttachDocuments(ctx, userID, req.IndexID, req.DocumentIDs); err != nil {
		return nil, wrap(op, err)
	}
	return c.RebuildIndex(ctx, userID, RebuildIndexRequest{IndexID: req.IndexID})
}

// IngestURL은 웹 페이지 텍스트를 문서로 저장하고 인덱스에 추가합니다.
func (c *Controller) IngestURL(ctx context.Context, userID string, req IngestURLRequest) (*storage.Document, error) {
	const op = "rag-ingest-url"
	if req.IndexID == "" {
		return nil, invalid(op, "index_id is required")
	}
	target, err := url.Parse(req.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, invalid(op, "url must be an absolute http(s) url")
	}
	if _, err := storage.GetOwned[storage.VectorIndex](ctx, c.repo, userID, req.IndexID); err != nil {
		return nil, wrap(op, err)
	}

	body, contentType, err := c.fetch(ctx, target.String())
	if err != nil {
		c.logger.Warn("URL fetch failed", zap.String("url", target.String()), zap.Error(err))
		return nil, &FunctionError{Op: op, Err: fmt.Errorf("%w: %v", ErrUpstream, err)}
	}

	var text, title string
	if mt := mediaType(contentType); mt == "text/html" || mt == "application/xhtml+xml" {
		text, title = htmlText(body)
	} else {
		var ok bool
		if text, ok = extractText(contentType, body); !ok {
			return nil, invalid(op, "unsupported content type %q", contentType)
		}
	}
	if text == "" {
		return nil, invalid(op, "page has no text content")
	}
	if title == "" {
		title = target.Host + target.Path
	}

	meta, err := storage.EncodeJSON(map[string]string{"source_url": target.String()})
	if err != nil {
		return nil, wrap(op, err)
	}
	doc := &storage.Document{
		Name:        truncate(title, 255),
		ContentType: contentType,
		Size:        int64(len(body)),
		StorageURL:  target.String(),
		Status:      storage.DocumentStatusProcessed,
		Content:     text,
		Metadata:    meta,
	}
	if err := c.repo.CreateDocument(ctx, userID, doc); err != nil {
		return nil, wrap(op, err)
	}
	if _, err := c.IndexDocuments(ctx, userID, IndexDocumentsRequest{IndexID: req.IndexID, DocumentIDs: []string{doc.ID}}); err != nil {
		return nil, err
	}
	return doc, nil
}

// Query는 ready 인덱스를 검색하고 결과를 RAGQuery로 기록합니다.
func (c *Controller) Query(ctx context.Context, userID string, req RAGQueryRequest) (*storage.RAGQuery, error) {
	const op = "rag-query"

	query := normalize(req.Query)
	if query == "" {
		return nil, invalid(op, "query is required")
	}
	if req.IndexID == "" {
		return nil, invalid(op, "index_id is required")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	started := time.Now()
	index, err := storage.GetOwned[storage.VectorIndex](ctx, c.repo, userID, req.IndexID)
	if err != nil {
		return nil, wrap(op, err)
	}
	if index.Status != storage.IndexStatusReady {
		return nil, invalid(op, "index is %s", index.Status)
	}

	searcher, err := c.loadIndex(ctx, userID, index)
	if err != nil {
		return nil, wrap(op, err)
	}

	hits := searcher.Search(query, topK)
	results := make([]storage.RAGResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, storage.RAGResult{
			Content: h.Passage.Content,
			Source:  h.Passage.Source,
			Score:   h.Score,
		})
	}
	encoded, err := storage.EncodeJSON(results)
	if err != nil {
		return nil, wrap(op, err)
	}

	row := &storage.RAGQuery{
		IndexID:        index.ID,
		Query:          query,
		Results:        encoded,
		ResponseTimeMS: time.Since(started).Milliseconds(),
	}
	if err := c.repo.CreateRAGQuery(ctx, userID, row); err != nil {
		return nil, wrap(op, err)
	}
	return row, nil
}

// loadIndex는 캐시된 검색 인덱스를 반환하고, 없으면 저장된 조각으로 만듭니다.
func (c *Controller) loadIndex(ctx context.Context, userID string, index *storage.VectorIndex) (*retrieval.Index, error) {
	version := index.UpdatedAt
	if index.LastUpdatedAt != nil {
		version = *index.LastUpdatedAt
	}
	if cached, ok := c.indexes.Get(index.ID, version); ok {
		return cached, nil
	}

	chunks, err := c.repo.ListChunks(ctx, userID, index.ID)
	if err != nil {
		return nil, err
	}
	passages := make([]retrieval.Passage, 0, len(chunks))
	for _, ch := range chunks {
		passages = append(passages, retrieval.Passage{ID: ch.ID, Content: ch.Content, Source: ch.Source})
	}
	built := retrieval.NewIndex(passages)
	c.indexes.Put(index.ID, version, built)
	return built, nil
}

func (c *Controller) checkDocuments(ctx context.Context, op, userID string, ids []string) error {
	for _, id := range ids {
		if _, err := storage.GetOwned[storage.Document](ctx, c.repo, userID, id); err != nil {
			if errors.Is(wrap(op, err), ErrNotFound) {
				return notFound(op, "document "+id)
			}
			return wrap(op, err)
		}
	}
	return nil
}

// errBuildSuperseded는 빌드 도중 새 빌드 요청이 들어와 결과를 버릴 때 반환됩니다.
var errBuildSuperseded = errors.New("build superseded")

// buildState는 인덱스 하나의 진행 중인 빌드입니다.
// dirty는 빌드 도중 다시 빌드해야 할 요청이 들어왔음을 뜻합니다.
type buildState struct {
	dirty bool
}

// scheduleBuild는 인덱스 빌드를 백그라운드로 실행합니다.
// 같은 인덱스의 빌드는 한 번에 하나만 돌고, 도중에 들어온 요청은 끝난 뒤 한 번 더 빌드합니다.
func (c *Controller) scheduleBuild(userID, indexID string) {
	c.buildMu.Lock()
	if st, ok := c.builds[indexID]; ok {
		st.dirty = true
		c.buildMu.Unlock()
		return
	}
	st := &buildState{}
	c.builds[indexID] = st
	c.buildMu.Unlock()

	c.spawn("build-index:"+indexID, func(ctx context.Context) {
		defer c.releaseBuild(indexID, st)
		for {
			err := c.buildIndex(ctx, userID, indexID, func() bool { return c.buildDirty(st) })
			if c.finishBuild(ctx, indexID, st) {
				c.logger.Debug("Index changed during build, rebuilding", zap.String("index_id", indexID))
				continue
			}
			if err != nil && !errors.Is(err, errBuildSuperseded) {
				c.recordBuildError(ctx, userID, indexID, err)
			}
			return
		}
	})
}

func (c *Controller) buildDirty(st *buildState) bool {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	return st.dirty
}

// finishBuild는 다시 빌드해야 하면 true를 반환하고, 아니면 진행 중 표시를 지웁니다.
func (c *Controller) finishBuild(ctx context.Context, indexID string, st *buildState) bool {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	if st.dirty && ctx.Err() == nil {
		st.dirty = false
		return true
	}
	if c.builds[indexID] == st {
		delete(c.builds, indexID)
	}
	return false
}

func (c *Controller) releaseBuild(indexID string, st *buildState) {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	if c.builds[indexID] == st {
		delete(c.builds, indexID)
	}
}

func (c *Controller) recordBuildError(ctx context.Context, userID, indexID string, err error) {
	c.logger.Warn("Index build failed", zap.String("index_id", indexID), zap.Error(err))
	if _, serr := c.repo.SetIndexStatus(context.WithoutCancel(ctx), userID, indexID, storage.IndexUpdate{
		Status:    storage.IndexStatusError,
		LastError: err.Error(),
	}); serr != nil {
		c.logger.Error("Failed to record index error", zap.String("index_id", indexID), zap.Error(serr))
	}
}

// buildIndex는 연결된 문서를 처리하고 조각을 다시 만든 뒤 ready로 전환합니다.
func (c *Controller) buildIndex(ctx context.Context, userID, indexID string, superseded func() bool) error {
	docs, err := c.repo.ListIndexDocuments(ctx, userID, indexID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	var chunks []storage.Chunk
	for i := range docs {
		doc := &docs[i]
		if doc.Status != storage.DocumentStatusProcessed {
			processed, err := c.processDocument(ctx, userID, doc)
			if err != nil {
				return fmt.Errorf("process %s: %w", doc.Name, err)
			}
			doc = processed
		}
		for seq, text := range retrieval.Chunk(doc.Content, c.chunkOptions) {
			chunks = append(chunks, storage.Chunk{
				DocumentID: doc.ID,
				Seq:        len(chunks),
				Content:    text,
				Source:     doc.Name + "#" + strconv.Itoa(seq+1),
			})
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if superseded() {
		return errBuildSuperseded
	}
	if err := c.repo.ReplaceChunks(ctx, userID, indexID, chunks); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	c.indexes.Invalidate(indexID)

	if _, err := c.repo.SetIndexStatus(ctx, userID, indexID, storage.IndexUpdate{
		Status:        storage.IndexStatusReady,
		DocumentCount: len(docs),
		VectorCount:   len(chunks),
	}); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}

	c.logger.Info("Index built",
		zap.String("index_id", indexID),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

func (c *Controller) fetch(ctx context.Context, target string) ([]byte, string, error) {
	ctx, cancel := c.withUpstreamTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", "EchoSync-Ingest/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIngestSize))
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}
