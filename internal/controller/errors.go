package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/provider"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"gorm.io/gorm"
)

// 함수 호출 오류 분류입니다. api 계층은 errors.Is로 HTTP 상태를 결정합니다.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("not found")
	ErrUpstream        = errors.New("upstream failure")
	ErrConflict        = errors.New("conflict")
)

// FunctionError는 어떤 함수에서 실패했는지와 원인을 담습니다.
type FunctionError struct {
	Op  string
	Err error
}

func (e *FunctionError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Unwrap은 원인 오류를 반환합니다.
func (e *FunctionError) Unwrap() error {
	return e.Err
}

// Message는 사용자에게 보여줄 짧은 메시지입니다.
func (e *FunctionError) Message() string {
	return e.Err.Error()
}

func invalid(op, format string, args ...any) error {
	return &FunctionError{Op: op, Err: fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))}
}

func notFound(op, what string) error {
	return &FunctionError{Op: op, Err: fmt.Errorf("%w: %s", ErrNotFound, what)}
}

// wrap은 하위 계층 오류를 분류 오류로 바꿉니다.
// 분류할 수 없는 오류는 그대로 감싸 500으로 처리됩니다.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FunctionError
	if errors.As(err, &fe) {
		return err
	}

	var kind error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		kind = ErrNotFound
	case errors.Is(err, storage.ErrActivationLimit),
		errors.Is(err, storage.ErrAlreadyActive),
		errors.Is(err, storage.ErrRoleAlreadySet),
		errors.Is(err, storage.ErrStatusRegression),
		errors.Is(err, storage.ErrWorkflowRunning):
		kind = ErrConflict
	case errors.Is(err, storage.ErrAgentInactive):
		kind = ErrInvalidInput
	case errors.Is(err, provider.ErrUpstream),
		errors.Is(err, provider.ErrEmptyResponse),
		errors.Is(err, provider.ErrMissingCredentials),
		errors.Is(err, context.DeadlineExceeded):
		kind = ErrUpstream
	}
	if kind == nil {
		return &FunctionError{Op: op, Err: err}
	}
	return &FunctionError{Op: op, Err: fmt.Errorf("%w: %s", kind, describe(kind, err))}
}

func describe(kind, err error) string {
	switch kind {
	case ErrNotFound:
		return "record does not exist or is not owned by caller"
	case ErrUpstream:
		var up *provider.UpstreamError
		if errors.As(err, &up) && up.Message != "" {
			return up.Message
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "upstream request timed out"
		}
	}
	return strings.TrimPrefix(err.Error(), "storage: ")
}

var errBlobStoreMissing = errors.New("document storage is not configured")
