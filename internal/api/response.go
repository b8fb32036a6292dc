package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"gorm.io/gorm"
)

// envelope는 모든 응답 본문의 형태입니다. data와 error 중 하나만 채워집니다.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Data: data})
}

// statusFor는 오류 분류를 HTTP 상태로 바꿉니다.
func statusFor(err error) int {
	switch {
	case errors.Is(err, controller.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, controller.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, controller.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, controller.ErrConflict), errors.Is(err, gorm.ErrDuplicatedKey):
		return http.StatusConflict
	case errors.Is(err, controller.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	var fe *controller.FunctionError
	switch {
	case errors.As(err, &fe):
		msg = fe.Message()
	case status == http.StatusNotFound:
		msg = "not found"
	case status == http.StatusInternalServerError:
		msg = "internal error"
	}
	c.JSON(status, envelope{Error: msg})
}
