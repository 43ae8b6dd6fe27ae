// Package chat relays text messages between matched users.
package chat

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"matchgogo/backend/internal/apperr"
	"matchgogo/backend/internal/config"
	"matchgogo/backend/internal/logging"
	"matchgogo/backend/internal/metrics"
	"matchgogo/backend/internal/models"
	"matchgogo/backend/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store interface {
	FindMatch(ctx context.Context, x, y string) (*models.Match, error)
	SaveChatMessage(ctx context.Context, msg *models.ChatMessage) (bool, error)
	ListChatMessages(ctx context.Context, x, y string, limit int) ([]models.ChatMessage, error)
}

type Notifier interface {
	Send(identity string, env models.Envelope) int
}

// Outgoing is a message as submitted by its sender.
type Outgoing struct {
	TempID  string    `json:"tempId"`
	To      string    `json:"to"`
	Type    string    `json:"type"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

type Service struct {
	store    Store
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewService(store Store, notifier Notifier, log *zap.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		log:      logging.OrNop(log),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Send persists the message and pushes it to every connection of both the
// recipient and the sender. Sending the same TempID twice returns the
// stored record and pushes it again.
func (s *Service) Send(ctx context.Context, from string, out Outgoing) (models.ChatMessage, error) {
	if err := validate(from, &out); err != nil {
		return models.ChatMessage{}, err
	}
	if err := s.requireMatch(ctx, from, out.To); err != nil {
		return models.ChatMessage{}, err
	}

	now := s.now()
	if out.TempID == "" {
		out.TempID = uuid.NewString()
	}
	if out.SentAt.IsZero() || out.SentAt.After(now) {
		out.SentAt = now
	}

	msg := models.ChatMessage{
		ID:          models.NewID(now),
		TempID:      out.TempID,
		SenderID:    from,
		RecipientID: out.To,
		Type:        out.Type,
		Content:     out.Content,
		SentAt:      out.SentAt,
		CreatedAt:   now,
	}
	created, err := s.store.SaveChatMessage(ctx, &msg)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("save_message").Inc()
		return models.ChatMessage{}, apperr.Storage("save chat message", err)
	}
	if !created {
		s.log.Debug("chat message resent",
			zap.String("sender", from),
			zap.String("temp_id", out.TempID),
			zap.String("id", msg.ID))
	}

	env := models.MustEnvelope(models.EventChatMessage, models.ChatMessagePayload{Message: msg})
	if s.notifier.Send(msg.RecipientID, env) == 0 {
		s.log.Debug("chat recipient offline", zap.String("recipient", msg.RecipientID))
	}
	s.notifier.Send(msg.SenderID, env)
	return msg, nil
}

// History returns the latest messages between a and b, oldest first.
func (s *Service) History(ctx context.Context, a, b string, limit int) ([]models.ChatMessage, error) {
	if a == "" || b == "" || a == b {
		return nil, apperr.InvalidArg("chat: invalid conversation")
	}
	if err := s.requireMatch(ctx, a, b); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = config.DefaultHistoryLimit
	case limit > config.MaxHistoryLimit:
		limit = config.MaxHistoryLimit
	}

	msgs, err := s.store.ListChatMessages(ctx, a, b, limit)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("list_messages").Inc()
		return nil, apperr.Storage("list chat messages", err)
	}
	return msgs, nil
}

func (s *Service) requireMatch(ctx context.Context, a, b string) error {
	_, err := s.store.FindMatch(ctx, a, b)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperr.Forbidden("chat: users are not matched")
	case err != nil:
		metrics.StorageErrors.WithLabelValues("find_match").Inc()
		return apperr.Storage("find match", err)
	}
	return nil
}

func validate(from string, out *Outgoing) error {
	if from == "" || out.To == "" {
		return apperr.InvalidArg("chat: empty identity")
	}
	if from == out.To {
		return apperr.InvalidArg("chat: cannot message yourself")
	}
	if out.Type == "" {
		out.Type = models.MessageText
	}
	switch out.Type {
	case models.MessageText, models.MessagePhoto:
		if out.Content == "" {
			return apperr.InvalidArg("chat: empty message")
		}
	case models.MessageWink:
	default:
		return apperr.InvalidArg("chat: unknown message type " + out.Type)
	}
	if utf8.RuneCountInString(out.Content) > config.MaxChatContentLen {
		return apperr.InvalidArg("chat: message too long")
	}
	// Column width, so counted in bytes.
	if len(out.TempID) > config.MaxTempIDLen {
		return apperr.InvalidArg("chat: temp id too long")
	}
	return nil
}
