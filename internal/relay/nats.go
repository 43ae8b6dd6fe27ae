package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"matchgogo/backend/internal/logging"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus publishes frames on one NATS subject.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	log     *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSBus connects to url and reconnects forever.
func NewNATSBus(url, subject, name string, log *zap.Logger) (*NATSBus, error) {
	log = logging.OrNop(log)
	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Info("nats connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSBus{conn: nc, subject: subject, log: log}, nil
}

func (b *NATSBus) Publish(_ context.Context, data []byte) error {
	return b.conn.Publish(b.subject, data)
}

// Subscribe uses a synchronous handler per message; nats.go serializes
// calls for one subscription.
func (b *NATSBus) Subscribe(ctx context.Context, handler func(data []byte)) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", b.subject, err)
	}
	// Сервер має зареєструвати підписку до перших кадрів
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats subscribe %s: %w", b.subject, err)
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && !ignorable(err) {
			b.log.Warn("nats unsubscribe", zap.Error(err))
		}
	}()

	b.log.Info("relay subscribed", zap.String("driver", "nats"), zap.String("subject", b.subject))
	return nil
}

// Close drains the subscription and the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub != nil {
		if err := sub.Drain(); err != nil && !ignorable(err) {
			b.log.Warn("nats drain subscription", zap.Error(err))
		}
	}
	return b.conn.Drain()
}

func ignorable(err error) bool {
	return errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription)
}
