package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"matchgogo/backend/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	banKeyPrefix     = "ban:"
	telegramLinksKey = "telegram:links"
)

// Service is the production Storage: PostgreSQL through gorm for durable
// records, Redis for the ban list and Telegram links. Redis may be nil.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	now   func() time.Time
}

var _ Storage = (*Service)(nil)

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Migrate створює таблиці для всіх моделей рушія.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(
		&models.InterestEdge{},
		&models.Match{},
		&models.CallSession{},
		&models.ChatMessage{},
	)
}

func (s *Service) UpsertInterestEdge(ctx context.Context, from, to string) (bool, error) {
	edge := models.InterestEdge{FromID: from, ToID: to, CreatedAt: s.now()}
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&edge)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Service) EdgeExists(ctx context.Context, from, to string) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.InterestEdge{}).
		Where("from_id = ? AND to_id = ?", from, to).
		Count(&n).Error
	return n > 0, err
}

func (s *Service) CreateMatchIfAbsent(ctx context.Context, x, y string) (*models.Match, bool, error) {
	a, b := models.CanonicalPair(x, y)
	now := s.now()
	m := models.Match{ID: models.NewID(now), UserA: a, UserB: b, CreatedAt: now}

	// Унікальний індекс (user_a, user_b) гарантує один матч на пару навіть між вузлами.
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_a"}, {Name: "user_b"}},
			DoNothing: true,
		}).
		Create(&m)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return &m, true, nil
	}

	existing, err := s.FindMatch(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Service) MarkMatchNotified(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Model(&models.Match{}).
		Where("id = ? AND notified_at IS NULL", id).
		Update("notified_at", s.now()).Error
}

func (s *Service) FindMatch(ctx context.Context, x, y string) (*models.Match, error) {
	a, b := models.CanonicalPair(x, y)
	var m models.Match
	err := s.DB.WithContext(ctx).Where("user_a = ? AND user_b = ?", a, b).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Service) ListMatches(ctx context.Context, identity string) ([]models.Match, error) {
	var matches []models.Match
	err := s.DB.WithContext(ctx).
		Where("user_a = ? OR user_b = ?", identity, identity).
		Order("created_at asc").
		Find(&matches).Error
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *Service) FindCallSession(ctx context.Context, id string) (*models.CallSession, error) {
	var c models.CallSession
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) CreateCallSession(ctx context.Context, session *models.CallSession) error {
	err := s.DB.WithContext(ctx).Create(session).Error
	if isUniqueViolation(err) {
		return ErrActiveCall
	}
	return err
}

func (s *Service) TransitionCallSession(ctx context.Context, session *models.CallSession, from models.CallStatus) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.CallSession{}).
		Where("id = ? AND status = ?", session.ID, from).
		Select("status", "end_reason", "started_at", "ended_at", "duration").
		Updates(session)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Service) ListActiveCallSessions(ctx context.Context) ([]models.CallSession, error) {
	var sessions []models.CallSession
	err := s.DB.WithContext(ctx).
		Where("status IN ?", []models.CallStatus{models.CallInitiated, models.CallConnected}).
		Order("created_at asc").
		Find(&sessions).Error
	return sessions, err
}

func (s *Service) ListCallSessions(ctx context.Context, identity string, limit int) ([]models.CallSession, error) {
	var sessions []models.CallSession
	err := s.DB.WithContext(ctx).
		Where("caller_id = ? OR receiver_id = ?", identity, identity).
		Order("created_at desc").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

func (s *Service) SaveChatMessage(ctx context.Context, msg *models.ChatMessage) (bool, error) {
	if msg.ID == "" {
		msg.ID = models.NewID(msg.SentAt)
	}
	err := s.DB.WithContext(ctx).Create(msg).Error
	if err == nil {
		return true, nil
	}
	if !isUniqueViolation(err) {
		return false, err
	}

	// Повторна відправка: повертаємо вже збережений запис.
	var existing models.ChatMessage
	if err := s.DB.WithContext(ctx).
		Where("sender_id = ? AND temp_id = ?", msg.SenderID, msg.TempID).
		First(&existing).Error; err != nil {
		return false, err
	}
	*msg = existing
	return false, nil
}

func (s *Service) ListChatMessages(ctx context.Context, x, y string, limit int) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.DB.WithContext(ctx).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)", x, y, y, x).
		Order("id desc").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// IsBanned перевіряє статус бану в Redis
func (s *Service) IsBanned(ctx context.Context, identity string) (bool, error) {
	if s.Redis == nil {
		return false, nil
	}
	status, err := s.Redis.Get(ctx, banKeyPrefix+identity).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status != "", nil
}

func (s *Service) Ban(ctx context.Context, identity string, ttl time.Duration) error {
	if s.Redis == nil {
		return ErrRedisNotConfigured
	}
	return s.Redis.Set(ctx, banKeyPrefix+identity, "active", ttl).Err()
}

func (s *Service) Unban(ctx context.Context, identity string) error {
	if s.Redis == nil {
		return ErrRedisNotConfigured
	}
	return s.Redis.Del(ctx, banKeyPrefix+identity).Err()
}

func (s *Service) SaveTelegramLink(ctx context.Context, link TelegramLink) error {
	if s.Redis == nil {
		return ErrRedisNotConfigured
	}
	data, err := json.Marshal(link)
	if err != nil {
		return err
	}
	return s.Redis.HSet(ctx, telegramLinksKey, strconv.FormatInt(link.ChatID, 10), data).Err()
}

func (s *Service) DeleteTelegramLink(ctx context.Context, chatID int64) error {
	if s.Redis == nil {
		return ErrRedisNotConfigured
	}
	return s.Redis.HDel(ctx, telegramLinksKey, strconv.FormatInt(chatID, 10)).Err()
}

func (s *Service) TelegramLinks(ctx context.Context) ([]TelegramLink, error) {
	if s.Redis == nil {
		return nil, nil
	}
	raw, err := s.Redis.HGetAll(ctx, telegramLinksKey).Result()
	if err != nil {
		return nil, err
	}
	links := make([]TelegramLink, 0, len(raw))
	for field, value := range raw {
		var link TelegramLink
		if err := json.Unmarshal([]byte(value), &link); err != nil {
			return nil, fmt.Errorf("telegram link %s: %w", field, err)
		}
		links = append(links, link)
	}
	return links, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
