// Package realtime는 테이블 단위 변경 알림(change feed)을 제공합니다.
//
// 모든 쓰기 경로는 커밋 이후 ChangeEvent를 발행하고, 구독자는 테이블과 사용자
// 범위로 필터링된 이벤트만 받습니다. 사용자 범위 필터는 row-level security에
// 해당하며, UserID가 비어있는 이벤트(공용 행)는 모든 구독자에게 전달됩니다.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// 이벤트 타입
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	// EventResync는 연결 복구 후 전체 재조회가 필요함을 알립니다.
	EventResync = "RESYNC"
)

// ChangeEvent는 한 행의 변경을 나타냅니다.
type ChangeEvent struct {
	Table           string          `json:"table"`
	Type            string          `json:"type"`
	UserID          string          `json:"user_id,omitempty"`
	RowID           string          `json:"row_id"`
	Record          json.RawMessage `json:"record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// NewChangeEvent는 record를 JSON으로 직렬화해 이벤트를 생성합니다.
func NewChangeEvent(table, eventType, userID, rowID string, record any) (ChangeEvent, error) {
	evt := ChangeEvent{
		Table:           table,
		Type:            eventType,
		UserID:          userID,
		RowID:           rowID,
		CommitTimestamp: time.Now().UTC(),
	}
	if record != nil {
		raw, err := json.Marshal(record)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("realtime: encode record: %w", err)
		}
		evt.Record = raw
	}
	return evt, nil
}

// Decode는 이벤트 record를 v로 역직렬화합니다.
func (e ChangeEvent) Decode(v any) error {
	if len(e.Record) == 0 {
		return fmt.Errorf("realtime: %s event for %s/%s has no record", e.Type, e.Table, e.RowID)
	}
	return json.Unmarshal(e.Record, v)
}

// VisibleTo는 userID 구독자에게 이벤트를 전달해도 되는지 반환합니다.
func (e ChangeEvent) VisibleTo(userID string) bool {
	return userID == "" || e.UserID == "" || e.UserID == userID
}

// Publisher는 변경 이벤트를 발행합니다.
type Publisher interface {
	Publish(ctx context.Context, evt ChangeEvent) error
}

// Feed는 하나의 테이블 구독입니다.
type Feed interface {
	Events() <-chan ChangeEvent
	Close() error
}

// Broker는 이벤트를 발행하고 구독을 관리합니다.
type Broker interface {
	Publisher
	Subscribe(table, userID string) Feed
	Close() error
}
