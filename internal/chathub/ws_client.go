package chathub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"matchgogo/backend/internal/apperr"
	"matchgogo/backend/internal/config"
	"matchgogo/backend/internal/logging"
	"matchgogo/backend/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Dispatcher handles envelopes read from a client. It runs on the client's
// read goroutine.
type Dispatcher interface {
	Dispatch(ctx context.Context, c Client, env models.Envelope)
}

// WebSocketClient реалізує інтерфейс chathub.Client
type WebSocketClient struct {
	UserID   string
	ConnID   string
	JoinedAt time.Time
	Conn     *websocket.Conn

	registry   *Registry
	dispatcher Dispatcher
	send       chan models.Envelope
	done       chan struct{}
	closeOnce  sync.Once
	log        *zap.Logger
}

func NewWebSocketClient(userID string, conn *websocket.Conn, registry *Registry, d Dispatcher, log *zap.Logger) *WebSocketClient {
	return &WebSocketClient{
		UserID:     userID,
		ConnID:     uuid.NewString(),
		JoinedAt:   time.Now().UTC(),
		Conn:       conn,
		registry:   registry,
		dispatcher: d,
		send:       make(chan models.Envelope, config.WSSendBuffer),
		done:       make(chan struct{}),
		log:        logging.OrNop(log),
	}
}

// --- Реалізація методів інтерфейсу ---

func (c *WebSocketClient) GetUserID() string       { return c.UserID }
func (c *WebSocketClient) GetConnectionID() string { return c.ConnID }

func (c *WebSocketClient) Enqueue(env models.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Run запускає 'pumps' для WebSocket
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close зупиняє writePump. The send channel is never closed so concurrent
// Enqueue calls cannot panic.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *WebSocketClient) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.registry.Unregister(c.ConnID)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(config.WSMaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Info("websocket closed unexpectedly", zap.String("identity", c.UserID), zap.Error(err))
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
			c.Enqueue(models.MustEnvelope(models.EventError, errorPayload("", apperr.InvalidArg("malformed envelope"))))
			continue // Пропускаємо невірне повідомлення
		}

		c.dispatcher.Dispatch(ctx, c, env)
	}
}

// writePump читає конверти з каналу send і записує їх у WebSocket, по одному на кадр.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(config.WSPingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			data, err := json.Marshal(env)
			if err != nil {
				c.log.Error("encode envelope", zap.String("type", env.Type), zap.Error(err))
				continue
			}
			c.Conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			// Надсилаємо Ping для підтримки з'єднання активним
			c.Conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
