package storage

import (
	"context"
	"errors"
	"time"

	"matchgogo/backend/internal/models"
)

var (
	ErrNotFound           = errors.New("storage: record not found")
	ErrRedisNotConfigured = errors.New("storage: redis not configured")
	ErrActiveCall         = errors.New("storage: pair already has an active call")
)

// MatchStore persists interest edges and matches. Every write is safe to
// retry with the same arguments.
type MatchStore interface {
	// UpsertInterestEdge records from→to and reports whether the edge is new.
	UpsertInterestEdge(ctx context.Context, from, to string) (bool, error)
	EdgeExists(ctx context.Context, from, to string) (bool, error)
	// CreateMatchIfAbsent returns the match for the pair and whether this
	// call created it.
	CreateMatchIfAbsent(ctx context.Context, x, y string) (*models.Match, bool, error)
	// MarkMatchNotified records that both users were told about the match.
	MarkMatchNotified(ctx context.Context, id string) error
	FindMatch(ctx context.Context, x, y string) (*models.Match, error)
	ListMatches(ctx context.Context, identity string) ([]models.Match, error)
}

type CallStore interface {
	FindCallSession(ctx context.Context, id string) (*models.CallSession, error)
	// CreateCallSession inserts a new session and fails with ErrActiveCall
	// while the pair has another initiated or connected session.
	CreateCallSession(ctx context.Context, session *models.CallSession) error
	// TransitionCallSession overwrites the session only if its stored status
	// is still from, and reports whether it did.
	TransitionCallSession(ctx context.Context, session *models.CallSession, from models.CallStatus) (bool, error)
	ListActiveCallSessions(ctx context.Context) ([]models.CallSession, error)
	ListCallSessions(ctx context.Context, identity string, limit int) ([]models.CallSession, error)
}

type MessageStore interface {
	// SaveChatMessage stores msg unless (SenderID, TempID) already exists, in
	// which case msg is overwritten with the stored record and false is
	// returned.
	SaveChatMessage(ctx context.Context, msg *models.ChatMessage) (bool, error)
	// ListChatMessages returns the latest limit messages between x and y,
	// oldest first.
	ListChatMessages(ctx context.Context, x, y string, limit int) ([]models.ChatMessage, error)
}

type ModerationStore interface {
	IsBanned(ctx context.Context, identity string) (bool, error)
	// Ban blocks identity for ttl; zero ttl bans until Unban.
	Ban(ctx context.Context, identity string, ttl time.Duration) error
	Unban(ctx context.Context, identity string) error
}

// TelegramLink binds a Telegram chat to an authenticated identity.
type TelegramLink struct {
	ChatID   int64  `json:"chatId"`
	Identity string `json:"identity"`
	Language string `json:"language"`
}

type LinkStore interface {
	SaveTelegramLink(ctx context.Context, link TelegramLink) error
	DeleteTelegramLink(ctx context.Context, chatID int64) error
	TelegramLinks(ctx context.Context) ([]TelegramLink, error)
}

type Storage interface {
	MatchStore
	CallStore
	MessageStore
	ModerationStore
	LinkStore
}
