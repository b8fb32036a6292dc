package resource

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/realtime"
	"go.uber.org/zap"
)

// ErrClosed는 닫힌 컬렉션에서 대기할 때 반환됩니다.
var ErrClosed = errors.New("resource: collection closed")

// Row는 컬렉션에 담을 수 있는 행입니다.
type Row interface {
	GetID() string
	GetCreatedAt() time.Time
	GetUpdatedAt() time.Time
}

// Options는 컬렉션 하나의 조회 조건입니다.
type Options[T Row] struct {
	// Query는 목록 조회 쿼리입니다.
	Query url.Values
	// Keep이 false를 반환한 행은 컬렉션에서 제외됩니다. 목록과 패치 모두에 적용됩니다.
	Keep func(T) bool
	// Accept는 기존 행 old를 next로 바꿔도 되는지 결정합니다. nil이면 updated_at이
	// 뒤로 가지 않는 변경만 받습니다.
	Accept func(old, next T) bool
}

// Collection은 테이블 하나의 실시간 메모리 사본입니다. created_at 역순으로 정렬됩니다.
type Collection[T Row] struct {
	table   string
	opts    Options[T]
	backend Backend
	logger  *zap.Logger

	mu      sync.RWMutex
	rows    []T
	loading bool
	err     error

	feed    realtime.Feed
	ready   chan struct{}
	changed chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Open은 table을 구독한 뒤 초기 목록을 읽는 컬렉션을 시작합니다.
// 구독이 먼저 열리므로 목록 조회 중 발생한 변경도 잃지 않습니다.
// 구독 실패만 오류로 반환하고, 목록 조회 실패는 Err로 확인합니다.
func Open[T Row](ctx context.Context, backend Backend, table string, opts Options[T], logger *zap.Logger) (*Collection[T], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	feed, err := backend.Subscribe(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("resource: subscribe %s: %w", table, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Collection[T]{
		table:   table,
		opts:    opts,
		backend: backend,
		logger:  logger.With(zap.String("table", table)),
		loading: true,
		feed:    feed,
		ready:   make(chan struct{}),
		changed: make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.run(runCtx)
	return c, nil
}

// Table은 테이블 이름입니다.
func (c *Collection[T]) Table() string {
	return c.table
}

// Loading은 초기 목록 조회가 끝나기 전까지 true입니다.
func (c *Collection[T]) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// Err는 마지막 목록 조회 오류입니다. 0건 조회와 실패를 구분할 때 사용합니다.
func (c *Collection[T]) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Ready는 초기 목록 조회가 끝나면 닫힙니다.
func (c *Collection[T]) Ready() <-chan struct{} {
	return c.ready
}

// Wait는 초기 목록 조회가 끝날 때까지 기다리고 조회 오류를 반환합니다.
func (c *Collection[T]) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.Err()
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Changed는 컬렉션이 바뀔 때마다 신호를 받는 채널입니다. 연속된 변경은 하나로 합쳐집니다.
func (c *Collection[T]) Changed() <-chan struct{} {
	return c.changed
}

// Items는 현재 행의 사본을 반환합니다.
func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.rows))
	copy(out, c.rows)
	return out
}

// Len은 행 수입니다.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

// Get은 id 행을 찾습니다.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexOf(id); i >= 0 {
		return c.rows[i], true
	}
	var zero T
	return zero, false
}

// Refetch는 목록을 다시 읽어 통째로 교체합니다.
func (c *Collection[T]) Refetch(ctx context.Context) error {
	var rows []T
	err := c.backend.List(ctx, c.table, c.opts.Query, &rows)

	c.mu.Lock()
	c.err = err
	if err == nil {
		kept := rows[:0]
		for _, row := range rows {
			if c.keep(row) {
				kept = append(kept, row)
			}
		}
		sortRows(kept)
		c.rows = kept
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("Failed to list rows", zap.Error(err))
		return err
	}
	c.signal()
	return nil
}

// Close는 구독을 닫고 이벤트 goroutine이 끝날 때까지 기다립니다.
func (c *Collection[T]) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		err = c.feed.Close()
	})
	<-c.done
	return err
}

func (c *Collection[T]) run(ctx context.Context) {
	defer close(c.done)

	_ = c.Refetch(ctx)
	c.mu.Lock()
	c.loading = false
	c.mu.Unlock()
	close(c.ready)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.feed.Events():
			if !ok {
				if ctx.Err() == nil {
					c.logger.Warn("Change feed ended")
				}
				return
			}
			c.apply(ctx, evt)
		}
	}
}

// apply는 변경 이벤트 하나를 반영합니다.
func (c *Collection[T]) apply(ctx context.Context, evt realtime.ChangeEvent) {
	switch evt.Type {
	case realtime.EventResync:
		c.logger.Debug("Resyncing after reconnect")
		_ = c.Refetch(ctx)
		return

	case realtime.EventDelete:
		if c.remove(evt.RowID) {
			c.signal()
		}
		return

	case realtime.EventInsert, realtime.EventUpdate:
		var row T
		if err := evt.Decode(&row); err != nil {
			c.logger.Warn("Dropping undecodable change event", zap.String("row_id", evt.RowID), zap.Error(err))
			return
		}
		if c.upsert(row) {
			c.signal()
		}
		return
	}
	c.logger.Debug("Ignoring change event", zap.String("type", evt.Type))
}

// upsert는 id 기준으로 행을 넣거나 바꿉니다. 같은 id의 행은 하나만 유지됩니다.
func (c *Collection[T]) upsert(row T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(row.GetID())
	if !c.keep(row) {
		if i < 0 {
			return false
		}
		c.rows = append(c.rows[:i], c.rows[i+1:]...)
		return true
	}
	if i >= 0 {
		if !c.accept(c.rows[i], row) {
			c.logger.Debug("Dropping stale change", zap.String("row_id", row.GetID()))
			return false
		}
		c.rows[i] = row
		return true
	}

	pos := sort.Search(len(c.rows), func(j int) bool {
		return !c.rows[j].GetCreatedAt().After(row.GetCreatedAt())
	})
	c.rows = append(c.rows, row)
	copy(c.rows[pos+1:], c.rows[pos:])
	c.rows[pos] = row
	return true
}

func (c *Collection[T]) remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	c.rows = append(c.rows[:i], c.rows[i+1:]...)
	return true
}

func (c *Collection[T]) indexOf(id string) int {
	for i := range c.rows {
		if c.rows[i].GetID() == id {
			return i
		}
	}
	return -1
}

func (c *Collection[T]) keep(row T) bool {
	return c.opts.Keep == nil || c.opts.Keep(row)
}

func (c *Collection[T]) accept(old, next T) bool {
	if c.opts.Accept != nil {
		return c.opts.Accept(old, next)
	}
	return !next.GetUpdatedAt().Before(old.GetUpdatedAt())
}

func (c *Collection[T]) signal() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func sortRows[T Row](rows []T) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].GetCreatedAt().After(rows[j].GetCreatedAt())
	})
}
