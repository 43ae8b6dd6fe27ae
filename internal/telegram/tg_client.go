package telegram

import (
	"sync"

	"matchgogo/backend/internal/localization"
	"matchgogo/backend/internal/logging"
	"matchgogo/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sendBuffer = 32

// botAPI is the part of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Client реалізує інтерфейс chathub.Client для чату Telegram
type Client struct {
	ChatID int64
	UserID string
	ConnID string

	bot       botAPI
	localizer *localization.Localizer
	send      chan models.Envelope
	done      chan struct{}
	closeOnce sync.Once
	log       *zap.Logger

	mu   sync.RWMutex
	lang string
}

func NewClient(chatID int64, identity, lang string, bot botAPI, l *localization.Localizer, log *zap.Logger) *Client {
	return &Client{
		ChatID:    chatID,
		UserID:    identity,
		ConnID:    uuid.NewString(),
		bot:       bot,
		localizer: l,
		send:      make(chan models.Envelope, sendBuffer),
		done:      make(chan struct{}),
		log:       logging.OrNop(log),
		lang:      lang,
	}
}

// --- Реалізація методів інтерфейсу ---

func (c *Client) GetUserID() string       { return c.UserID }
func (c *Client) GetConnectionID() string { return c.ConnID }

func (c *Client) Enqueue(env models.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// Run запускає 'write pump'. 'Read pump' обробляється централізовано в BotService.
func (c *Client) Run() {
	go c.writePump()
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lang
}

func (c *Client) SetLanguage(lang string) {
	c.mu.Lock()
	c.lang = lang
	c.mu.Unlock()
}

// writePump слухає канал send і надсилає повідомлення в Telegram
func (c *Client) writePump() {
	defer c.log.Debug("telegram write pump stopped", zap.Int64("chat", c.ChatID))

	for {
		select {
		case env := <-c.send:
			msg, ok := render(c.localizer, c.Language(), c.ChatID, c.UserID, env)
			if !ok {
				continue
			}
			if _, err := c.bot.Send(msg); err != nil {
				c.log.Warn("telegram send failed",
					zap.Int64("chat", c.ChatID),
					zap.String("type", env.Type),
					zap.Error(err))
			}
		case <-c.done:
			return
		}
	}
}
