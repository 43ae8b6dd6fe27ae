package calls

import (
	"sync"
	"time"

	"matchgogo/backend/internal/models"
)

type session struct {
	mu  sync.Mutex
	rec models.CallSession
	// conns binds each participant to the connection that placed or
	// accepted the call. Cleared when the session is released.
	conns      map[string]string
	releasedAt time.Time

	// Every local transition takes a ticket under mu; store writes then run
	// in ticket order without holding mu.
	tickets uint64
	writes  writeOrder
}

func newSession(rec models.CallSession) *session {
	s := &session{rec: rec}
	if rec.Status.Active() {
		s.conns = make(map[string]string, 2)
	}
	s.writes.cond = sync.NewCond(&s.writes.mu)
	return s
}

// ticket reserves the next write slot. s.mu must be held.
func (s *session) ticket() uint64 {
	t := s.tickets
	s.tickets++
	return t
}

func (s *session) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Status.Active()
}

// adoptLocked replaces the local record with the stored one. s.mu must be
// held.
func (s *session) adoptLocked(rec models.CallSession, now time.Time) {
	s.rec = rec
	switch {
	case rec.Status.Active() && s.conns == nil:
		s.conns = make(map[string]string, 2)
		s.releasedAt = time.Time{}
	case !rec.Status.Active() && s.conns != nil:
		s.conns = nil
		s.releasedAt = now
	}
}

type writeOrder struct {
	mu      sync.Mutex
	cond    *sync.Cond
	serving uint64
}

func (w *writeOrder) wait(ticket uint64) {
	w.mu.Lock()
	for w.serving != ticket {
		w.cond.Wait()
	}
	w.mu.Unlock()
}

func (w *writeOrder) done() {
	w.mu.Lock()
	w.serving++
	w.mu.Unlock()
	w.cond.Broadcast()
}
