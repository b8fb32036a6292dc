package realtime

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrBrokerClosed는 닫힌 브로커에 발행할 때 반환됩니다.
var ErrBrokerClosed = errors.New("realtime: broker closed")

// MemoryBroker는 프로세스 내부 브로커입니다.
type MemoryBroker struct {
	logger *zap.Logger
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// NewMemoryBroker는 새 MemoryBroker를 생성합니다.
func NewMemoryBroker(logger *zap.Logger) *MemoryBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBroker{
		logger: logger,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Publish는 이벤트를 해당 테이블의 구독자에게 전달합니다.
// 구독자마다 무제한 큐를 두므로 느린 구독자가 발행자를 막지 않습니다.
func (b *MemoryBroker) Publish(_ context.Context, evt ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBrokerClosed
	}

	delivered := 0
	for sub := range b.subs[evt.Table] {
		if !evt.VisibleTo(sub.userID) {
			continue
		}
		sub.enqueue(evt)
		delivered++
	}

	b.logger.Debug("Change event published",
		zap.String("table", evt.Table),
		zap.String("type", evt.Type),
		zap.String("row_id", evt.RowID),
		zap.Int("subscribers", delivered),
	)
	return nil
}

// Subscribe는 table의 userID 범위 구독을 엽니다.
func (b *MemoryBroker) Subscribe(table, userID string) Feed {
	sub := newSubscription(table, userID, b.remove)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.shutdown()
		return sub
	}
	if b.subs[table] == nil {
		b.subs[table] = make(map[*Subscription]struct{})
	}
	b.subs[table][sub] = struct{}{}
	return sub
}

func (b *MemoryBroker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.table]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.table)
		}
	}
}

// SubscriberCount는 table의 구독자 수를 반환합니다.
func (b *MemoryBroker) SubscriberCount(table string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[table])
}

// Close는 모든 구독을 닫습니다.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*Subscription
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.shutdown()
	}
	return nil
}

// Subscription은 MemoryBroker 구독입니다.
type Subscription struct {
	table  string
	userID string
	out    chan ChangeEvent

	mu       sync.Mutex
	queue    []ChangeEvent
	notify   chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	onRemove func(*Subscription)
}

func newSubscription(table, userID string, onRemove func(*Subscription)) *Subscription {
	sub := &Subscription{
		table:    table,
		userID:   userID,
		out:      make(chan ChangeEvent),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		onRemove: onRemove,
	}
	go sub.pump()
	return sub
}

func (s *Subscription) enqueue(evt ChangeEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.stopped)
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		evt := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- evt:
		case <-s.done:
			return
		}
	}
}

// Events는 이벤트 채널을 반환합니다. 구독이 닫히면 채널도 닫힙니다.
func (s *Subscription) Events() <-chan ChangeEvent {
	return s.out
}

// Close는 구독을 해제합니다.
func (s *Subscription) Close() error {
	if s.onRemove != nil {
		s.onRemove(s)
	}
	s.shutdown()
	return nil
}

func (s *Subscription) shutdown() {
	s.once.Do(func() {
		close(s.done)
	})
	<-s.stopped
}
