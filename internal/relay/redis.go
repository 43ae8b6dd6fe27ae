package relay

import (
	"context"
	"fmt"
	"sync"

	"matchgogo/backend/internal/logging"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus uses a single Redis pub/sub channel.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewRedisBus(rdb *redis.Client, channel string, log *zap.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, channel: channel, log: logging.OrNop(log)}
}

func (b *RedisBus) Publish(ctx context.Context, data []byte) error {
	return b.rdb.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, handler func(data []byte)) error {
	ps := b.rdb.Subscribe(ctx, b.channel)
	// Чекаємо підтвердження підписки, щоб не пропустити перші кадри
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.pubsub = ps
	b.mu.Unlock()

	go func() {
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	b.log.Info("relay subscribed", zap.String("driver", "redis"), zap.String("channel", b.channel))
	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	b.pubsub = nil
	return err
}
