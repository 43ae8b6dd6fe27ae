// Package calls implements the call signaling state machine.
package calls

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"matchgogo/backend/internal/apperr"
	"matchgogo/backend/internal/config"
	"matchgogo/backend/internal/logging"
	"matchgogo/backend/internal/metrics"
	"matchgogo/backend/internal/models"
	"matchgogo/backend/internal/storage"

	"go.uber.org/zap"
)

// Store persists sessions. When several nodes share it, it decides which of
// two competing transitions wins.
type Store interface {
	FindCallSession(ctx context.Context, id string) (*models.CallSession, error)
	CreateCallSession(ctx context.Context, session *models.CallSession) error
	TransitionCallSession(ctx context.Context, session *models.CallSession, from models.CallStatus) (bool, error)
	ListActiveCallSessions(ctx context.Context) ([]models.CallSession, error)
}

type Notifier interface {
	Send(identity string, env models.Envelope) int
}

// InitiateResult is returned to the caller. DeliveryConfirmed is false when
// the receiver had no live connection at the time of the call.
type InitiateResult struct {
	Session           models.CallSession `json:"session"`
	DeliveryConfirmed bool               `json:"deliveryConfirmed"`
}

const statusUnknown models.CallStatus = "unknown"

// Coordinator owns this node's table of call sessions. Each session is
// mutated only under its own mutex, and the pair index is claimed with
// LoadOrStore. The store takes a transition only from the status it was
// checked against, so nodes sharing it agree on the outcome.
type Coordinator struct {
	sessions sync.Map // session id -> *session
	active   sync.Map // pair key -> session id

	store    Store
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time

	ringTimeout     time.Duration
	sweepInterval   time.Duration
	retention       time.Duration
	maxCallDuration time.Duration
	exclusive       bool
}

type Option func(*Coordinator)

func WithRingTimeout(d time.Duration) Option     { return func(c *Coordinator) { c.ringTimeout = d } }
func WithSweepInterval(d time.Duration) Option   { return func(c *Coordinator) { c.sweepInterval = d } }
func WithRetention(d time.Duration) Option       { return func(c *Coordinator) { c.retention = d } }
func WithMaxCallDuration(d time.Duration) Option { return func(c *Coordinator) { c.maxCallDuration = d } }
func WithClock(now func() time.Time) Option      { return func(c *Coordinator) { c.now = now } }

// WithExclusiveStore declares that no other node writes call sessions, so
// any persisted active session this coordinator does not hold is left over
// from an earlier run.
func WithExclusiveStore() Option { return func(c *Coordinator) { c.exclusive = true } }

func NewCoordinator(store Store, notifier Notifier, log *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:           store,
		notifier:        notifier,
		log:             logging.OrNop(log),
		now:             func() time.Time { return time.Now().UTC() },
		ringTimeout:     config.DefaultCallRingTimeout,
		sweepInterval:   config.DefaultCallSweepInterval,
		retention:       config.DefaultCallRetention,
		maxCallDuration: config.DefaultMaxCallDuration,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initiate opens a call from caller to receiver.
func (c *Coordinator) Initiate(ctx context.Context, callerID, receiverID string, callType models.CallType) (InitiateResult, error) {
	if callerID == "" || receiverID == "" {
		return InitiateResult{}, apperr.InvalidArg("call: empty identity")
	}
	if callerID == receiverID {
		return InitiateResult{}, apperr.InvalidArg("call: cannot call yourself")
	}
	if !callType.Valid() {
		return InitiateResult{}, apperr.InvalidArg("call: unknown call type " + string(callType))
	}

	now := c.now()
	s := newSession(models.CallSession{
		ID:         models.NewID(now),
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   callType,
		Status:     models.CallInitiated,
		CreatedAt:  now,
	})
	snap := s.rec
	ticket := s.ticket()
	key := models.PairKey(callerID, receiverID)

	c.sessions.Store(snap.ID, s)
	if err := c.claimPair(key, snap.ID); err != nil {
		c.sessions.Delete(snap.ID)
		return InitiateResult{}, err
	}

	if err := c.create(ctx, s, ticket, &snap); err != nil {
		c.sessions.Delete(snap.ID)
		c.active.CompareAndDelete(key, snap.ID)
		if errors.Is(err, storage.ErrActiveCall) {
			return InitiateResult{}, apperr.DuplicateCall(key)
		}
		metrics.StorageErrors.WithLabelValues("save_call").Inc()
		return InitiateResult{}, apperr.Storage("save call session", err)
	}
	metrics.CallTransitions.WithLabelValues(string(models.CallInitiated), "").Inc()

	delivered := c.notifier.Send(receiverID, callEvent(models.EventCallIncoming, snap, ""))
	if delivered == 0 {
		c.log.Info("call receiver offline",
			zap.String("session", snap.ID),
			zap.String("receiver", receiverID))
	}
	return InitiateResult{Session: snap, DeliveryConfirmed: delivered > 0}, nil
}

func (c *Coordinator) create(ctx context.Context, s *session, ticket uint64, snap *models.CallSession) error {
	s.writes.wait(ticket)
	defer s.writes.done()
	return c.store.CreateCallSession(ctx, snap)
}

func (c *Coordinator) claimPair(key, id string) error {
	for {
		existing, loaded := c.active.LoadOrStore(key, id)
		if !loaded {
			return nil
		}
		if s, ok := c.lookup(existing.(string)); ok && s.isActive() {
			return apperr.DuplicateCall(key)
		}
		// The slot points at a session that already finished.
		c.active.CompareAndDelete(key, existing)
	}
}

// Accept moves an initiated call to connected. Only the receiver may accept.
func (c *Coordinator) Accept(ctx context.Context, id, by string) (models.CallSession, error) {
	snap, err := c.apply(ctx, id, by, transition{
		name:         "accept",
		from:         models.CallInitiated,
		to:           models.CallConnected,
		receiverOnly: true,
	})
	if err != nil {
		return models.CallSession{}, err
	}
	env := callEvent(models.EventCallAccepted, snap, "")
	c.notifier.Send(snap.CallerID, env)
	c.notifier.Send(snap.ReceiverID, env)
	return snap, nil
}

// Decline moves an initiated call to declined. Only the receiver may decline.
func (c *Coordinator) Decline(ctx context.Context, id, by string) (models.CallSession, error) {
	snap, err := c.apply(ctx, id, by, transition{
		name:         "decline",
		from:         models.CallInitiated,
		to:           models.CallDeclined,
		receiverOnly: true,
		reason:       models.EndReasonDeclined,
	})
	if err != nil {
		return models.CallSession{}, err
	}
	env := callEvent(models.EventCallDeclined, snap, "")
	c.notifier.Send(snap.CallerID, env)
	c.notifier.Send(snap.ReceiverID, env)
	return snap, nil
}

// End hangs up a connected call.
func (c *Coordinator) End(ctx context.Context, id, by string) (models.CallSession, error) {
	snap, err := c.apply(ctx, id, by, transition{
		name:   "end",
		from:   models.CallConnected,
		to:     models.CallEnded,
		reason: models.EndReasonHangup,
	})
	if err != nil {
		return models.CallSession{}, err
	}
	env := callEvent(models.EventCallEnded, snap, by)
	c.notifier.Send(snap.CallerID, env)
	c.notifier.Send(snap.ReceiverID, env)
	return snap, nil
}

// RelaySignal forwards payload verbatim to the other participant and
// returns how many of its connections received it.
func (c *Coordinator) RelaySignal(ctx context.Context, id, from, kind string, payload json.RawMessage) (int, error) {
	if !models.IsSignal(kind) {
		return 0, apperr.InvalidArg("call: unknown signal type " + kind)
	}
	s, err := c.load(ctx, id, "relay "+kind)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	if !s.rec.IsParticipant(from) {
		status := s.rec.Status
		s.mu.Unlock()
		return 0, invalidState(id, "relay "+kind+" (not a participant)", status)
	}
	if !s.rec.Status.Active() {
		status := s.rec.Status
		s.mu.Unlock()
		return 0, invalidState(id, "relay "+kind, status)
	}
	peer := s.rec.Peer(from)
	s.mu.Unlock()

	return c.notifier.Send(peer, models.Envelope{Type: kind, Payload: payload}), nil
}

// Bind ties identity's side of an active call to connID, so closing that
// connection ends the call even if the identity stays online elsewhere.
func (c *Coordinator) Bind(id, identity, connID string) {
	s, ok := c.lookup(id)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Status.Active() && s.rec.IsParticipant(identity) && s.conns != nil {
		s.conns[identity] = connID
	}
}

// HandleDisconnect force-ends every active call of identity that was bound
// to connID, or all of them when identity has no connections left.
func (c *Coordinator) HandleDisconnect(identity, connID string, remaining int) {
	c.sessions.Range(func(_, v any) bool {
		c.disconnect(v.(*session), identity, connID, remaining)
		return true
	})
}

func (c *Coordinator) disconnect(s *session, identity, connID string, remaining int) {
	bound := false
	for attempt := 0; attempt < 2; attempt++ {
		s.mu.Lock()
		if !s.rec.Status.Active() || !s.rec.IsParticipant(identity) {
			s.mu.Unlock()
			return
		}
		bound = bound || s.conns[identity] == connID
		if !bound && remaining > 0 {
			s.mu.Unlock()
			return
		}
		from := s.rec.Status
		snap := c.finishLocked(s, models.CallEnded, models.EndReasonDisconnect)
		ticket := s.ticket()
		s.mu.Unlock()

		// Lost to another node: check again against the adopted record.
		if _, ok := c.commit(context.Background(), s, ticket, snap, from); !ok {
			continue
		}

		c.afterTransition(snap)
		env := callEvent(models.EventCallEnded, snap, identity)
		c.notifier.Send(snap.Peer(identity), env)
		if remaining > 0 {
			c.notifier.Send(identity, env)
		}
		c.log.Info("call ended by disconnect",
			zap.String("session", snap.ID),
			zap.String("identity", identity),
			zap.String("connection", connID))
		return
	}
}

// Get returns the in-memory session, falling back to the store.
func (c *Coordinator) Get(ctx context.Context, id string) (models.CallSession, error) {
	if s, ok := c.lookup(id); ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.rec, nil
	}
	rec, err := c.store.FindCallSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.CallSession{}, apperr.NotFound("call " + id + " not found")
	}
	if err != nil {
		return models.CallSession{}, apperr.Storage("find call session", err)
	}
	return *rec, nil
}

// ActiveCount returns the number of calls currently initiated or connected.
func (c *Coordinator) ActiveCount() int {
	n := 0
	c.active.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

type transition struct {
	name         string
	from         models.CallStatus
	to           models.CallStatus
	receiverOnly bool
	reason       string
}

func (c *Coordinator) apply(ctx context.Context, id, by string, t transition) (models.CallSession, error) {
	s, err := c.load(ctx, id, t.name)
	if err != nil {
		return models.CallSession{}, err
	}

	for refreshed := false; ; refreshed = true {
		next, from, ticket, err := c.prepare(s, by, t)
		if err != nil {
			// The local copy may lag behind a transition made on another node.
			var stateErr *apperr.InvalidCallStateError
			if !refreshed && errors.As(err, &stateErr) && stateErr.Attempted == t.name && c.refresh(ctx, s) {
				continue
			}
			return models.CallSession{}, err
		}
		if current, ok := c.commit(ctx, s, ticket, next, from); !ok {
			return models.CallSession{}, invalidState(id, t.name, current)
		}
		c.afterTransition(next)
		return next, nil
	}
}

// prepare checks t against the local record and applies it there.
func (c *Coordinator) prepare(s *session, by string, t transition) (models.CallSession, models.CallStatus, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, from := s.rec.ID, s.rec.Status
	switch {
	case !s.rec.IsParticipant(by):
		return models.CallSession{}, "", 0, invalidState(id, t.name+" (not a participant)", from)
	case t.receiverOnly && by != s.rec.ReceiverID:
		return models.CallSession{}, "", 0, invalidState(id, t.name+" (not the receiver)", from)
	case from != t.from:
		return models.CallSession{}, "", 0, invalidState(id, t.name, from)
	}

	if t.to.Active() {
		now := c.now()
		s.rec.Status = t.to
		s.rec.StartedAt = &now
	} else {
		c.finishLocked(s, t.to, t.reason)
	}
	return s.rec, from, s.ticket(), nil
}

// commit writes next once every earlier write of s has finished, without
// holding s.mu. The store takes it only while the row is still in from.
// Otherwise s adopts the stored record, unless later local transitions are
// already queued behind this one, and commit returns the stored status.
func (c *Coordinator) commit(ctx context.Context, s *session, ticket uint64, next models.CallSession, from models.CallStatus) (models.CallStatus, bool) {
	s.writes.wait(ticket)
	defer s.writes.done()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.CallWriteTimeout)
	defer cancel()

	ok, err := c.store.TransitionCallSession(ctx, &next, from)
	if err != nil {
		// The local record stays authoritative for this node.
		metrics.StorageErrors.WithLabelValues("save_call").Inc()
		c.log.Error("persist call session",
			zap.String("session", next.ID),
			zap.String("status", string(next.Status)),
			zap.Error(err))
		return next.Status, true
	}
	if ok {
		return next.Status, true
	}

	rec, err := c.store.FindCallSession(ctx, next.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.log.Warn("lookup call session", zap.String("session", next.ID), zap.Error(err))
		}
		return statusUnknown, false
	}
	s.mu.Lock()
	if s.tickets == ticket+1 {
		s.adoptLocked(*rec, c.now())
	}
	s.mu.Unlock()
	c.syncPair(*rec)

	c.log.Info("call session changed on another node",
		zap.String("session", rec.ID),
		zap.String("attempted", string(next.Status)),
		zap.String("stored", string(rec.Status)))
	return rec.Status, false
}

// refresh adopts the stored record once pending writes of s have finished.
// It reports whether the local status changed.
func (c *Coordinator) refresh(ctx context.Context, s *session) bool {
	s.mu.Lock()
	id := s.rec.ID
	ticket := s.ticket()
	s.mu.Unlock()

	s.writes.wait(ticket)
	defer s.writes.done()

	rec, err := c.store.FindCallSession(ctx, id)
	if err != nil {
		return false
	}
	s.mu.Lock()
	changed := s.tickets == ticket+1 && rec.Status != s.rec.Status
	if changed {
		s.adoptLocked(*rec, c.now())
	}
	s.mu.Unlock()
	if changed {
		c.syncPair(*rec)
	}
	return changed
}

// finishLocked moves s to a terminal status. s.mu must be held.
func (c *Coordinator) finishLocked(s *session, to models.CallStatus, reason string) models.CallSession {
	now := c.now()
	s.rec.End(to, reason, now)
	s.conns = nil
	s.releasedAt = now
	return s.rec
}

// afterTransition records metrics and frees the pair slot of a finished call.
func (c *Coordinator) afterTransition(snap models.CallSession) {
	metrics.CallTransitions.WithLabelValues(string(snap.Status), snap.EndReason).Inc()
	if snap.Status.Active() {
		return
	}
	c.active.CompareAndDelete(models.PairKey(snap.CallerID, snap.ReceiverID), snap.ID)
	if snap.StartedAt != nil {
		metrics.CallDuration.Observe(snap.Duration.Seconds())
	}
}

// syncPair points the pair slot at rec while it is active.
func (c *Coordinator) syncPair(rec models.CallSession) {
	key := models.PairKey(rec.CallerID, rec.ReceiverID)
	if rec.Status.Active() {
		c.active.LoadOrStore(key, rec.ID)
		return
	}
	c.active.CompareAndDelete(key, rec.ID)
}

func (c *Coordinator) lookup(id string) (*session, bool) {
	v, ok := c.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*session), true
}

// load returns the live session. A session active in the store but unknown
// here was started on another node, and this node keeps a copy of it from
// then on. Terminal sessions yield an InvalidCallStateError naming the
// persisted status.
func (c *Coordinator) load(ctx context.Context, id, attempted string) (*session, error) {
	if s, ok := c.lookup(id); ok {
		return s, nil
	}
	rec, err := c.store.FindCallSession(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.log.Warn("lookup call session", zap.String("session", id), zap.Error(err))
		}
		return nil, invalidState(id, attempted, statusUnknown)
	}
	if !rec.Status.Active() {
		return nil, invalidState(id, attempted, rec.Status)
	}
	v, _ := c.sessions.LoadOrStore(id, newSession(*rec))
	c.syncPair(*rec)
	return v.(*session), nil
}

func invalidState(id, attempted string, current models.CallStatus) error {
	return &apperr.InvalidCallStateError{SessionID: id, Attempted: attempted, Current: string(current)}
}

func callEvent(eventType string, snap models.CallSession, endedBy string) models.Envelope {
	return models.MustEnvelope(eventType, models.CallEventPayload{
		SessionID:  snap.ID,
		CallerID:   snap.CallerID,
		ReceiverID: snap.ReceiverID,
		CallType:   snap.CallType,
		Reason:     snap.EndReason,
		EndedBy:    endedBy,
		DurationMs: snap.Duration.Milliseconds(),
	})
}
