// Package telegram handles the integration with the Telegram Bot API.
// A linked Telegram chat becomes one more connection of its identity: it
// receives match, call and chat events as text and can like and decline.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"matchgogo/backend/internal/apperr"
	"matchgogo/backend/internal/auth"
	"matchgogo/backend/internal/chathub"
	"matchgogo/backend/internal/localization"
	"matchgogo/backend/internal/logging"
	"matchgogo/backend/internal/models"
	"matchgogo/backend/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type LinkStore interface {
	IsBanned(ctx context.Context, identity string) (bool, error)
	SaveTelegramLink(ctx context.Context, link storage.TelegramLink) error
	DeleteTelegramLink(ctx context.Context, chatID int64) error
	TelegramLinks(ctx context.Context) ([]storage.TelegramLink, error)
}

type CallDecliner interface {
	Decline(ctx context.Context, id, by string) (models.CallSession, error)
}

type Deps struct {
	Registry  *chathub.Registry
	Auth      *auth.Authenticator
	Store     LinkStore
	Interests chathub.InterestRecorder
	Calls     CallDecliner
	Localizer *localization.Localizer
	Log       *zap.Logger
}

var languageNames = map[string]string{
	"en": "English",
	"uk": "Українська",
}

// BotService is responsible for receiving Telegram updates and routing them
// to the engine.
type BotService struct {
	BotAPI *tgbotapi.BotAPI
	Deps

	bot botAPI
	log *zap.Logger

	mu      sync.Mutex
	clients map[int64]*Client
}

// NewBotService creates a new BotService instance.
func NewBotService(token string, deps Deps) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	bot.Debug = false

	s := newBotService(bot, deps)
	s.BotAPI = bot
	s.log.Info("telegram bot authorized", zap.String("account", bot.Self.UserName))
	return s, nil
}

func newBotService(bot botAPI, deps Deps) *BotService {
	return &BotService{
		Deps:    deps,
		bot:     bot,
		log:     logging.OrNop(deps.Log),
		clients: make(map[int64]*Client),
	}
}

// Run restores linked chats and processes updates until ctx is cancelled.
func (s *BotService) Run(ctx context.Context) {
	s.RestoreLinks(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		s.BotAPI.StopReceivingUpdates()
	}()

	for update := range updates {
		s.handleUpdate(ctx, update)
	}
	s.log.Info("telegram bot stopped")
}

// RestoreLinks reattaches every chat linked before a restart.
func (s *BotService) RestoreLinks(ctx context.Context) {
	links, err := s.Store.TelegramLinks(ctx)
	if err != nil {
		s.log.Error("load telegram links", zap.Error(err))
		return
	}

	restored := 0
	for _, link := range links {
		banned, err := s.Store.IsBanned(ctx, link.Identity)
		if err != nil {
			s.log.Warn("ban lookup", zap.String("identity", link.Identity), zap.Error(err))
			continue
		}
		if banned {
			_ = s.Store.DeleteTelegramLink(ctx, link.ChatID)
			continue
		}
		if err := s.attach(link.ChatID, link.Identity, link.Language); err != nil {
			s.log.Warn("restore telegram link", zap.Int64("chat", link.ChatID), zap.Error(err))
			continue
		}
		restored++
	}
	s.log.Info("telegram links restored", zap.Int("count", restored))
}

func (s *BotService) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("telegram update panicked", zap.Any("panic", r), zap.Int("update", update.UpdateID))
		}
	}()

	switch {
	case update.Message != nil:
		s.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if _, err := s.bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			s.log.Warn("answer callback", zap.Error(err))
		}
		s.handleCallback(ctx, cq.Message.Chat.ID, cq.Data)
	}
}

func (s *BotService) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !msg.IsCommand() {
		if _, ok := s.client(chatID); !ok {
			s.reply(chatID, languageOf(msg), "not_linked")
			return
		}
		s.reply(chatID, s.langFor(chatID, msg), "help")
		return
	}

	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start":
		s.handleStart(ctx, chatID, args, s.langFor(chatID, msg))
	case "stop":
		s.handleStop(ctx, chatID, s.langFor(chatID, msg))
	case "like":
		s.handleLike(ctx, chatID, args)
	case "language":
		s.handleLanguageCommand(chatID, s.langFor(chatID, msg))
	default:
		s.reply(chatID, s.langFor(chatID, msg), "help")
	}
}

// handleStart links the chat to the identity carried by token.
func (s *BotService) handleStart(ctx context.Context, chatID int64, token, lang string) {
	if token == "" {
		s.reply(chatID, lang, "start_usage")
		return
	}
	identity, err := s.Auth.Verify(token)
	if err != nil {
		s.reply(chatID, lang, "start_invalid_token")
		return
	}
	banned, err := s.Store.IsBanned(ctx, identity)
	if err != nil {
		s.log.Error("ban lookup", zap.String("identity", identity), zap.Error(err))
		s.reply(chatID, lang, "error", apperr.Message(apperr.ErrStorage))
		return
	}
	if banned {
		s.reply(chatID, lang, "start_banned")
		return
	}

	if err := s.attach(chatID, identity, lang); err != nil {
		s.log.Error("attach telegram chat", zap.Int64("chat", chatID), zap.Error(err))
		s.reply(chatID, lang, "error", apperr.Message(err))
		return
	}
	if err := s.Store.SaveTelegramLink(ctx, storage.TelegramLink{ChatID: chatID, Identity: identity, Language: lang}); err != nil {
		// Зв'язок працює до перезапуску навіть без Redis
		s.log.Warn("save telegram link", zap.Int64("chat", chatID), zap.Error(err))
	}
	s.log.Info("telegram chat linked", zap.Int64("chat", chatID), zap.String("identity", identity))
	s.reply(chatID, lang, "linked")
}

func (s *BotService) handleStop(ctx context.Context, chatID int64, lang string) {
	s.mu.Lock()
	c, ok := s.clients[chatID]
	delete(s.clients, chatID)
	s.mu.Unlock()

	if !ok {
		s.reply(chatID, lang, "not_linked")
		return
	}
	s.Registry.Unregister(c.ConnID)
	if err := s.Store.DeleteTelegramLink(ctx, chatID); err != nil {
		s.log.Warn("delete telegram link", zap.Int64("chat", chatID), zap.Error(err))
	}
	s.reply(chatID, lang, "stopped")
}

func (s *BotService) handleLike(ctx context.Context, chatID int64, target string) {
	c, ok := s.client(chatID)
	if !ok {
		s.reply(chatID, localization.DefaultLanguage, "not_linked")
		return
	}
	lang := c.Language()
	if target == "" {
		s.reply(chatID, lang, "like_usage")
		return
	}

	res, err := s.Interests.RecordInterestWithRetry(ctx, c.UserID, target)
	switch {
	case err != nil:
		s.reply(chatID, lang, "like_failed", apperr.Message(err))
	case !res.EdgeCreated:
		s.reply(chatID, lang, "like_repeat")
	case res.Match != nil:
		s.reply(chatID, lang, "like_matched")
	default:
		s.reply(chatID, lang, "like_sent")
	}
}

// handleLanguageCommand sends a message with a keyboard to choose a language.
func (s *BotService) handleLanguageCommand(chatID int64, lang string) {
	var row []tgbotapi.InlineKeyboardButton
	for _, code := range s.Localizer.Languages() {
		name, ok := languageNames[code]
		if !ok {
			name = code
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(name, setLangPrefix+code))
	}

	msg := tgbotapi.NewMessage(chatID, s.Localizer.GetString(lang, "choose_language"))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	s.send(msg)
}

func (s *BotService) handleCallback(ctx context.Context, chatID int64, data string) {
	c, ok := s.client(chatID)
	if !ok {
		s.reply(chatID, localization.DefaultLanguage, "not_linked")
		return
	}

	switch {
	case strings.HasPrefix(data, setLangPrefix):
		lang := strings.TrimPrefix(data, setLangPrefix)
		if !s.Localizer.Supports(lang) {
			return
		}
		c.SetLanguage(lang)
		link := storage.TelegramLink{ChatID: chatID, Identity: c.UserID, Language: lang}
		if err := s.Store.SaveTelegramLink(ctx, link); err != nil {
			s.log.Warn("save telegram link", zap.Int64("chat", chatID), zap.Error(err))
		}
		s.reply(chatID, lang, "language_changed")

	case strings.HasPrefix(data, declinePrefix):
		id := strings.TrimPrefix(data, declinePrefix)
		// Успішне відхилення повертається подією call:declined
		if _, err := s.Calls.Decline(ctx, id, c.UserID); err != nil {
			s.reply(chatID, c.Language(), "call_decline_failed")
		}
	}
}

// attach registers a Telegram connection for chatID, replacing any earlier
// one for the same chat.
func (s *BotService) attach(chatID int64, identity, lang string) error {
	if !s.Localizer.Supports(lang) {
		lang = localization.DefaultLanguage
	}
	c := NewClient(chatID, identity, lang, s.bot, s.Localizer, s.log)
	if err := s.Registry.Register(c); err != nil {
		return err
	}

	s.mu.Lock()
	old := s.clients[chatID]
	s.clients[chatID] = c
	s.mu.Unlock()

	if old != nil {
		s.Registry.Unregister(old.ConnID)
	}
	c.Run()
	return nil
}

func (s *BotService) client(chatID int64) (*Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[chatID]
	return c, ok
}

func (s *BotService) langFor(chatID int64, msg *tgbotapi.Message) string {
	if c, ok := s.client(chatID); ok {
		return c.Language()
	}
	return languageOf(msg)
}

func languageOf(msg *tgbotapi.Message) string {
	if msg.From != nil && msg.From.LanguageCode == "uk" {
		return "uk"
	}
	return localization.DefaultLanguage
}

func (s *BotService) reply(chatID int64, lang, key string, args ...any) {
	s.send(tgbotapi.NewMessage(chatID, s.Localizer.Format(lang, key, args...)))
}

func (s *BotService) send(msg tgbotapi.Chattable) {
	if _, err := s.bot.Send(msg); err != nil {
		s.log.Warn("telegram send failed", zap.Error(err))
	}
}
