// Package resource는 원격 테이블을 메모리 컬렉션으로 유지하는 resource hook을 제공합니다.
//
// 각 hook은 테이블마다 변경 알림을 먼저 구독한 뒤 목록을 읽고, 이후 이벤트를 id 기준
// 증분 패치로 반영합니다. mutator는 원격 호출 한 번만 수행하고 로컬 상태는 변경 알림으로
// 맞춰집니다.
package resource

import (
	"context"
	"net/url"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/client"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/realtime"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
)

// Backend는 hook이 사용하는 원격 인터페이스입니다.
// api.Local(같은 프로세스)과 Remote(HTTP + websocket)가 구현합니다.
type Backend interface {
	Invoke(ctx context.Context, name string, in, out any) error
	List(ctx context.Context, table string, query url.Values, out any) error
	Insert(ctx context.Context, table string, row, out any) error
	Update(ctx context.Context, table, id string, values, out any) error
	Delete(ctx context.Context, table, id string) error
	Upload(ctx context.Context, name, contentType string, data []byte, process bool) (*storage.Document, error)
	Subscribe(ctx context.Context, table string) (realtime.Feed, error)
}

type remote struct {
	*client.Client
}

// Remote는 HTTP 클라이언트를 Backend로 감쌉니다.
func Remote(c *client.Client) Backend {
	return remote{Client: c}
}

func (r remote) Subscribe(ctx context.Context, table string) (realtime.Feed, error) {
	feed, err := r.Client.Subscribe(ctx, table)
	if err != nil {
		return nil, err
	}
	return feed, nil
}
