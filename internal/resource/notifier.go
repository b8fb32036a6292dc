package resource

import (
	"errors"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"go.uber.org/zap"
)

// Notifier는 mutator 결과를 사용자에게 알립니다.
type Notifier interface {
	Success(op, message string)
	Failure(op string, err error)
}

// LogNotifier는 결과를 zap 로그로 남기는 Notifier입니다.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier는 LogNotifier를 생성합니다.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Success implements Notifier.
func (n *LogNotifier) Success(op, message string) {
	n.logger.Info(message, zap.String("op", op))
}

// Failure implements Notifier.
func (n *LogNotifier) Failure(op string, err error) {
	n.logger.Warn("Action failed", zap.String("op", op), zap.String("message", Message(err)), zap.Error(err))
}

// Message는 오류에서 사용자에게 보여줄 짧은 문구를 꺼냅니다.
func Message(err error) string {
	var fe *controller.FunctionError
	if errors.As(err, &fe) {
		return fe.Message()
	}
	return err.Error()
}

type nopNotifier struct{}

func (nopNotifier) Success(string, string) {}
func (nopNotifier) Failure(string, error) {}

// notify는 결과를 Notifier로 전달하고 err을 그대로 반환합니다.
func notify(n Notifier, op, message string, err error) error {
	if err != nil {
		n.Failure(op, err)
		return err
	}
	n.Success(op, message)
	return nil
}
