package calls

import (
	"context"
	"time"

	"matchgogo/backend/internal/config"
	"matchgogo/backend/internal/metrics"
	"matchgogo/backend/internal/models"

	"go.uber.org/zap"
)

// Run reaps sessions left over in the store, then sweeps unanswered and
// finished sessions until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	c.log.Info("call sweeper started",
		zap.Duration("ring_timeout", c.ringTimeout),
		zap.Duration("interval", c.sweepInterval),
		zap.Bool("exclusive", c.exclusive))
	c.Reap(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
			c.Reap(ctx)
		}
	}
}

// Sweep ends calls left ringing past the ring timeout and forgets terminal
// sessions older than the retention window. It returns how many calls it
// timed out.
func (c *Coordinator) Sweep() int {
	now := c.now()
	timedOut := 0

	c.sessions.Range(func(k, v any) bool {
		s := v.(*session)

		s.mu.Lock()
		switch {
		case s.rec.Status == models.CallInitiated && now.Sub(s.rec.CreatedAt) >= c.ringTimeout:
			snap := c.finishLocked(s, models.CallEnded, models.EndReasonTimeout)
			ticket := s.ticket()
			s.mu.Unlock()

			if _, ok := c.commit(context.Background(), s, ticket, snap, models.CallInitiated); !ok {
				return true
			}
			c.afterTransition(snap)
			env := callEvent(models.EventCallEnded, snap, "")
			c.notifier.Send(snap.CallerID, env)
			c.notifier.Send(snap.ReceiverID, env)
			timedOut++

		case !s.rec.Status.Active() && now.Sub(s.releasedAt) >= c.retention:
			s.mu.Unlock()
			c.sessions.Delete(k)

		default:
			s.mu.Unlock()
		}
		return true
	})
	return timedOut
}

// Reap ends persisted active sessions that no coordinator holds in memory:
// calls left ringing past the ring timeout and calls connected longer than
// the maximum call duration. With an exclusive store every such session is
// a leftover of an earlier run and is ended regardless of age. It returns
// how many sessions it ended.
func (c *Coordinator) Reap(ctx context.Context) int {
	recs, err := c.store.ListActiveCallSessions(ctx)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("list_active_calls").Inc()
		c.log.Warn("list active call sessions", zap.Error(err))
		return 0
	}

	now := c.now()
	ended := 0
	for _, rec := range recs {
		if _, ok := c.lookup(rec.ID); ok {
			continue
		}
		reason, stale := c.staleReason(rec, now)
		if !stale {
			continue
		}

		from := rec.Status
		next := rec
		next.End(models.CallEnded, reason, now)
		wctx, cancel := context.WithTimeout(ctx, config.CallWriteTimeout)
		ok, err := c.store.TransitionCallSession(wctx, &next, from)
		cancel()
		if err != nil {
			metrics.StorageErrors.WithLabelValues("save_call").Inc()
			c.log.Warn("reap call session", zap.String("session", rec.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		c.afterTransition(next)
		env := callEvent(models.EventCallEnded, next, "")
		c.notifier.Send(next.CallerID, env)
		c.notifier.Send(next.ReceiverID, env)
		ended++
	}
	if ended > 0 {
		c.log.Info("reaped orphaned call sessions", zap.Int("count", ended))
	}
	return ended
}

func (c *Coordinator) staleReason(rec models.CallSession, now time.Time) (string, bool) {
	switch {
	case rec.Status == models.CallInitiated && now.Sub(rec.CreatedAt) >= c.ringTimeout:
		return models.EndReasonTimeout, true
	case c.exclusive:
		return models.EndReasonDisconnect, true
	case rec.Status == models.CallConnected && rec.StartedAt != nil && c.maxCallDuration > 0 && now.Sub(*rec.StartedAt) >= c.maxCallDuration:
		return models.EndReasonDisconnect, true
	}
	return "", false
}
