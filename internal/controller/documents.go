package controller

import (
	"bytes"
	"context"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/blob"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// 업로드 허용 최대 크기입니다.
const maxUploadSize = 20 << 20

// UploadDocument는 원본을 blob 저장소에 두고 uploaded 상태의 문서를 기록합니다.
func (c *Controller) UploadDocument(ctx context.Context, userID string, req UploadRequest) (*storage.Document, error) {
	const op = "upload-document"

	if c.blobs == nil {
		return nil, &FunctionError{Op: op, Err: errBlobStoreMissing}
	}
	name := normalize(req.Name)
	if name == "" {
		return nil, invalid(op, "file name is required")
	}
	if len(req.Data) == 0 {
		return nil, invalid(op, "file is empty")
	}
	if len(req.Data) > maxUploadSize {
		return nil, invalid(op, "file exceeds %d bytes", maxUploadSize)
	}

	contentType := req.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
			contentType = byExt
		}
	}

	doc := &storage.Document{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(req.Data)),
		Status:      storage.DocumentStatusUploaded,
	}
	doc.ID = uuid.NewString()

	url, err := c.blobs.Put(ctx, blob.ObjectKey(userID, doc.ID, name), contentType, req.Data)
	if err != nil {
		return nil, wrap(op, err)
	}
	doc.StorageURL = url

	if err := c.repo.CreateDocument(ctx, userID, doc); err != nil {
		_ = c.blobs.Delete(ctx, url)
		return nil, wrap(op, err)
	}
	return doc, nil
}

// ProcessDocument는 원본에서 텍스트를 추출해 processed 상태로 저장합니다.
// 지원하지 않는 형식은 error 상태로 기록하고 입력 오류를 반환합니다.
func (c *Controller) ProcessDocument(ctx context.Context, userID string, req ProcessDocumentRequest) (*storage.Document, error) {
	const op = "process-document"
	if req.DocumentID == "" {
		return nil, invalid(op, "document_id is required")
	}
	doc, err := storage.GetOwned[storage.Document](ctx, c.repo, userID, req.DocumentID)
	if err != nil {
		return nil, wrap(op, err)
	}
	return c.processDocument(ctx, userID, doc)
}

func (c *Controller) processDocument(ctx context.Context, userID string, doc *storage.Document) (*storage.Document, error) {
	const op = "process-document"

	if doc.StorageURL == "" || c.blobs == nil {
		if doc.Content != "" {
			return c.saveContent(ctx, userID, doc.ID, storage.DocumentStatusProcessed, doc.Content)
		}
		return nil, invalid(op, "document has no stored content")
	}

	data, err := c.blobs.Read(ctx, doc.StorageURL)
	if err != nil {
		return nil, wrap(op, err)
	}

	text, ok := extractText(doc.ContentType, data)
	if !ok {
		c.logger.Warn("Unsupported document type",
			zap.String("document_id", doc.ID),
			zap.String("content_type", doc.ContentType),
		)
		if _, err := c.saveContent(ctx, userID, doc.ID, storage.DocumentStatusError, ""); err != nil {
			return nil, err
		}
		return nil, invalid(op, "unsupported content type %q", doc.ContentType)
	}
	return c.saveContent(ctx, userID, doc.ID, storage.DocumentStatusProcessed, text)
}

func (c *Controller) saveContent(ctx context.Context, userID, docID, status, content string) (*storage.Document, error) {
	updated, err := c.repo.SetDocumentContent(ctx, userID, docID, status, content)
	if err != nil {
		return nil, wrap("process-document", err)
	}
	return updated, nil
}

// extractText는 텍스트 계열 형식에서 본문을 꺼냅니다.
func extractText(contentType string, data []byte) (string, bool) {
	mt := mediaType(contentType)
	switch {
	case mt == "text/html" || mt == "application/xhtml+xml":
		text, _ := htmlText(data)
		return text, true
	case strings.HasPrefix(mt, "text/"),
		mt == "application/json",
		mt == "application/xml",
		mt == "application/x-yaml",
		mt == "":
		if !utf8.Valid(data) {
			return "", false
		}
		return normalize(string(data)), true
	default:
		return "", false
	}
}

// htmlText는 script, style을 제외한 보이는 텍스트와 title을 반환합니다.
func htmlText(data []byte) (string, string) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return normalize(string(data)), ""
	}

	var (
		title string
		parts []string
	)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			case "title":
				if n.FirstChild != nil && title == "" {
					title = normalize(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				parts = append(parts, t)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if n.Type == html.ElementNode && isBlock(n.Data) {
			parts = append(parts, "\n\n")
		}
	}
	walk(doc)

	var b strings.Builder
	for i, p := range parts {
		if p != "\n\n" && i > 0 && parts[i-1] != "\n\n" {
			b.WriteString(" ")
		}
		b.WriteString(p)
	}
	return normalize(collapseBreaks(b.String())), title
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "section", "article", "li", "h1", "h2", "h3", "h4", "h5", "h6", "pre", "blockquote", "tr", "br":
		return true
	}
	return false
}

func collapseBreaks(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	s = strings.Join(lines, "\n")
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}
