package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/realtime"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
)

// Local은 HTTP를 거치지 않고 같은 프로세스의 controller와 broker를 사용하는 세션입니다.
// 테이블 규칙(소유자 범위, 쓰기 가능 컬럼, 읽기 전용 테이블)은 HTTP 경로와 같습니다.
type Local struct {
	s      *Server
	userID string
}

// NewLocal은 userID로 인증된 것으로 취급하는 Local 세션을 생성합니다.
func NewLocal(ctrl *controller.Controller, broker realtime.Broker, userID string) (*Local, error) {
	if ctrl == nil || broker == nil {
		return nil, fmt.Errorf("api: controller and broker are required")
	}
	if userID == "" {
		return nil, &controller.FunctionError{Op: "local", Err: controller.ErrUnauthenticated}
	}
	return &Local{
		s:      &Server{logger: zap.NewNop(), ctrl: ctrl, broker: broker},
		userID: userID,
	}, nil
}

// UserID는 세션 사용자입니다.
func (l *Local) UserID() string {
	return l.userID
}

// Invoke는 name 함수를 실행하고 결과를 out으로 디코딩합니다.
func (l *Local) Invoke(ctx context.Context, name string, in, out any) error {
	if in == nil {
		in = struct{}{}
	}
	body, err := json.Marshal(in)
	if err != nil {
		return invalidInput(name, err.Error())
	}
	res, err := l.s.ctrl.Invoke(ctx, name, l.userID, body)
	if err != nil {
		return err
	}
	return reencode(res, out)
}

// List는 테이블 행을 created_at 역순으로 읽습니다.
func (l *Local) List(ctx context.Context, name string, query url.Values, out any) error {
	t, err := localTable(name)
	if err != nil {
		return err
	}
	rows, err := t.list(ctx, l.s, l.userID, query.Get)
	if err != nil {
		return err
	}
	return reencode(rows, out)
}

// Insert는 행을 추가합니다.
func (l *Local) Insert(ctx context.Context, name string, row, out any) error {
	t, err := localTable(name)
	if err != nil {
		return err
	}
	if t.insert == nil {
		return readOnly(name)
	}
	body, err := toFields(row, t.writable)
	if err != nil {
		return err
	}
	res, err := t.insert(ctx, l.s, l.userID, body)
	if err != nil {
		return err
	}
	return reencode(res, out)
}

// Update는 id 행의 컬럼을 변경합니다.
func (l *Local) Update(ctx context.Context, name, id string, values, out any) error {
	t, err := localTable(name)
	if err != nil {
		return err
	}
	if t.update == nil {
		return readOnly(name)
	}
	body, err := toFields(values, t.writable)
	if err != nil {
		return err
	}
	res, err := t.update(ctx, l.s, l.userID, id, body)
	if err != nil {
		return err
	}
	return reencode(res, out)
}

// Delete는 id 행을 삭제합니다.
func (l *Local) Delete(ctx context.Context, name, id string) error {
	t, err := localTable(name)
	if err != nil {
		return err
	}
	if t.remove == nil {
		return readOnly(name)
	}
	return t.remove(ctx, l.s, l.userID, id)
}

// Upload는 문서를 저장합니다. process가 true이면 텍스트 추출까지 실행합니다.
func (l *Local) Upload(ctx context.Context, name, contentType string, data []byte, process bool) (*storage.Document, error) {
	doc, err := l.s.ctrl.UploadDocument(ctx, l.userID, controller.UploadRequest{
		Name:        name,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil || !process {
		return doc, err
	}
	return l.s.ctrl.ProcessDocument(ctx, l.userID, controller.ProcessDocumentRequest{DocumentID: doc.ID})
}

// Subscribe는 세션 사용자 범위의 변경 알림을 구독합니다.
func (l *Local) Subscribe(_ context.Context, name string) (realtime.Feed, error) {
	if _, err := localTable(name); err != nil {
		return nil, err
	}
	return l.s.broker.Subscribe(name, l.userID), nil
}

func localTable(name string) (table, error) {
	t, ok := tables[name]
	if !ok {
		return table{}, fmt.Errorf("%w: unknown table %s", controller.ErrNotFound, name)
	}
	return t, nil
}

func readOnly(name string) error {
	return fmt.Errorf("%w: table %s is read-only", controller.ErrInvalidInput, name)
}

func toFields(v any, writable []string) (fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", controller.ErrInvalidInput, err)
	}
	var body fields
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: row must be a JSON object", controller.ErrInvalidInput)
	}
	return restrict(body, writable)
}

// reencode는 HTTP 응답과 같은 JSON 표현을 거쳐 out을 채웁니다.
func reencode(v, out any) error {
	if out == nil || v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("api: encode result: %w", err)
	}
	return json.Unmarshal(raw, out)
}
