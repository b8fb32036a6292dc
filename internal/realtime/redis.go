package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisBroker는 Redis pub/sub으로 여러 서버 인스턴스에 이벤트를 fan-out합니다.
// 발행은 Redis로 나가고, 수신 루프가 로컬 MemoryBroker에 다시 발행합니다.
type RedisBroker struct {
	client  *redis.Client
	channel string
	local   *MemoryBroker
	pubsub  *redis.PubSub
	logger  *zap.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRedisBroker는 channel을 구독한 RedisBroker를 생성합니다.
// 반환 시점에는 구독이 확정되어 있습니다.
func NewRedisBroker(ctx context.Context, client *redis.Client, channel string, logger *zap.Logger) (*RedisBroker, error) {
	if client == nil {
		return nil, fmt.Errorf("realtime: redis broker requires a non-nil client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("realtime: subscribe %s: %w", channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b := &RedisBroker{
		client:  client,
		channel: channel,
		local:   NewMemoryBroker(logger),
		pubsub:  pubsub,
		logger:  logger,
		cancel:  cancel,
	}

	b.wg.Add(1)
	go b.receiveLoop(loopCtx)

	logger.Info("Redis change feed subscribed", zap.String("channel", channel))
	return b, nil
}

func (b *RedisBroker) receiveLoop(ctx context.Context) {
	defer b.wg.Done()

	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.Warn("Dropping malformed change event", zap.Error(err))
				continue
			}
			if err := b.local.Publish(ctx, evt); err != nil {
				b.logger.Debug("Local publish failed", zap.Error(err))
			}
		}
	}
}

// Publish는 이벤트를 Redis 채널로 발행합니다.
func (b *RedisBroker) Publish(ctx context.Context, evt ChangeEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("realtime: encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("realtime: redis publish: %w", err)
	}
	return nil
}

// Subscribe는 로컬 구독을 엽니다.
func (b *RedisBroker) Subscribe(table, userID string) Feed {
	return b.local.Subscribe(table, userID)
}

// Close는 수신 루프와 모든 구독을 종료합니다.
func (b *RedisBroker) Close() error {
	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()
	_ = b.local.Close()
	return err
}
