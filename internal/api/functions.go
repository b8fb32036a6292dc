package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"go.uber.org/zap"
)

// 함수 요청 본문 최대 크기
const maxFunctionBody = 1 << 20

// handleFunction은 POST /functions/v1/:name 입니다.
func (s *Server) handleFunction(c *gin.Context) {
	name := c.Param("name")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxFunctionBody+1))
	if err != nil {
		respondError(c, invalidInput(name, "unreadable body"))
		return
	}
	if len(body) > maxFunctionBody {
		respondError(c, invalidInput(name, "body too large"))
		return
	}

	out, err := s.ctrl.Invoke(c.Request.Context(), name, userID(c), body)
	if err != nil {
		s.logFailure(c, name, err)
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, out)
}

// handleUpload는 POST /storage/v1/documents 입니다. process=true이면 텍스트 추출까지 실행합니다.
func (s *Server) handleUpload(c *gin.Context) {
	const op = "upload-document"

	file, err := c.FormFile("file")
	if err != nil {
		respondError(c, invalidInput(op, `multipart field "file" is required`))
		return
	}
	f, err := file.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	doc, err := s.ctrl.UploadDocument(ctx, userID(c), controller.UploadRequest{
		Name:        file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		s.logFailure(c, op, err)
		respondError(c, err)
		return
	}

	if process, _ := strconv.ParseBool(c.PostForm("process")); process {
		processed, err := s.ctrl.ProcessDocument(ctx, userID(c), controller.ProcessDocumentRequest{DocumentID: doc.ID})
		if err != nil {
			s.logFailure(c, op, err)
			respondError(c, err)
			return
		}
		doc = processed
	}
	respond(c, http.StatusCreated, doc)
}

func (s *Server) logFailure(c *gin.Context, op string, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("user_id", userID(c)),
		zap.Error(err),
	}
	if statusFor(err) >= http.StatusInternalServerError {
		s.logger.Error("Request failed", fields...)
		return
	}
	s.logger.Info("Request rejected", fields...)
}

func invalidInput(op, msg string) error {
	return &controller.FunctionError{Op: op, Err: fmt.Errorf("%w: %s", controller.ErrInvalidInput, msg)}
}
