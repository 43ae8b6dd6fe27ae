package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"matchgogo/backend/internal/models"
)

type edgeKey struct{ from, to string }

type tempKey struct{ sender, temp string }

// MemoryStore is an in-process Storage used in development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	edges    map[edgeKey]models.InterestEdge
	matches  map[string]models.Match // by pair key
	calls    map[string]models.CallSession
	messages map[string]models.ChatMessage
	byTemp   map[tempKey]string
	bans     map[string]time.Time // zero time means permanent
	links    map[int64]TelegramLink
	now      func() time.Time
}

var _ Storage = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		edges:    make(map[edgeKey]models.InterestEdge),
		matches:  make(map[string]models.Match),
		calls:    make(map[string]models.CallSession),
		messages: make(map[string]models.ChatMessage),
		byTemp:   make(map[tempKey]string),
		bans:     make(map[string]time.Time),
		links:    make(map[int64]TelegramLink),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) UpsertInterestEdge(ctx context.Context, from, to string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := edgeKey{from, to}
	if _, ok := m.edges[k]; ok {
		return false, nil
	}
	m.edges[k] = models.InterestEdge{FromID: from, ToID: to, CreatedAt: m.now()}
	return true, nil
}

func (m *MemoryStore) EdgeExists(ctx context.Context, from, to string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.edges[edgeKey{from, to}]
	return ok, nil
}

func (m *MemoryStore) CreateMatchIfAbsent(ctx context.Context, x, y string) (*models.Match, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := models.PairKey(x, y)
	if existing, ok := m.matches[key]; ok {
		return &existing, false, nil
	}
	a, b := models.CanonicalPair(x, y)
	now := m.now()
	match := models.Match{ID: models.NewID(now), UserA: a, UserB: b, CreatedAt: now}
	m.matches[key] = match
	return &match, true, nil
}

func (m *MemoryStore) MarkMatchNotified(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, match := range m.matches {
		if match.ID != id {
			continue
		}
		if match.NotifiedAt == nil {
			now := m.now()
			match.NotifiedAt = &now
			m.matches[key] = match
		}
		return nil
	}
	return ErrNotFound
}

func (m *MemoryStore) FindMatch(ctx context.Context, x, y string) (*models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	match, ok := m.matches[models.PairKey(x, y)]
	if !ok {
		return nil, ErrNotFound
	}
	return &match, nil
}

func (m *MemoryStore) ListMatches(ctx context.Context, identity string) ([]models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Match
	for _, match := range m.matches {
		if match.UserA == identity || match.UserB == identity {
			out = append(out, match)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) FindCallSession(ctx context.Context, id string) (*models.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) CreateCallSession(ctx context.Context, session *models.CallSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := models.PairKey(session.CallerID, session.ReceiverID)
	for _, c := range m.calls {
		if c.Status.Active() && models.PairKey(c.CallerID, c.ReceiverID) == key {
			return ErrActiveCall
		}
	}
	session.PairKey = key
	m.calls[session.ID] = *session
	return nil
}

func (m *MemoryStore) TransitionCallSession(ctx context.Context, session *models.CallSession, from models.CallStatus) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.calls[session.ID]
	if !ok || c.Status != from {
		return false, nil
	}
	m.calls[session.ID] = *session
	return true, nil
}

func (m *MemoryStore) ListActiveCallSessions(ctx context.Context) ([]models.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.CallSession
	for _, c := range m.calls {
		if c.Status.Active() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListCallSessions(ctx context.Context, identity string, limit int) ([]models.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.CallSession
	for _, c := range m.calls {
		if c.IsParticipant(identity) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SaveChatMessage(ctx context.Context, msg *models.ChatMessage) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := tempKey{msg.SenderID, msg.TempID}
	if id, ok := m.byTemp[k]; ok {
		*msg = m.messages[id]
		return false, nil
	}
	if msg.ID == "" {
		msg.ID = models.NewID(msg.SentAt)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	m.messages[msg.ID] = *msg
	m.byTemp[k] = msg.ID
	return true, nil
}

func (m *MemoryStore) ListChatMessages(ctx context.Context, x, y string, limit int) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ChatMessage
	for _, msg := range m.messages {
		if (msg.SenderID == x && msg.RecipientID == y) || (msg.SenderID == y && msg.RecipientID == x) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) IsBanned(ctx context.Context, identity string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.bans[identity]
	if !ok {
		return false, nil
	}
	if !until.IsZero() && m.now().After(until) {
		delete(m.bans, identity)
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) Ban(ctx context.Context, identity string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var until time.Time
	if ttl > 0 {
		until = m.now().Add(ttl)
	}
	m.bans[identity] = until
	return nil
}

func (m *MemoryStore) Unban(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.bans, identity)
	return nil
}

func (m *MemoryStore) SaveTelegramLink(ctx context.Context, link TelegramLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.links[link.ChatID] = link
	return nil
}

func (m *MemoryStore) DeleteTelegramLink(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.links, chatID)
	return nil
}

func (m *MemoryStore) TelegramLinks(ctx context.Context) ([]TelegramLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TelegramLink, 0, len(m.links))
	for _, link := range m.links {
		out = append(out, link)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}
