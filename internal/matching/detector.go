// Package matching turns directed interest edges into matches.
package matching

import (
	"context"
	"errors"
	"time"

	"matchgogo/backend/internal/apperr"
	"matchgogo/backend/internal/config"
	"matchgogo/backend/internal/logging"
	"matchgogo/backend/internal/metrics"
	"matchgogo/backend/internal/models"

	"go.uber.org/zap"
)

// Store is the persistence the detector needs. Every method must be safe to
// retry with the same arguments.
type Store interface {
	UpsertInterestEdge(ctx context.Context, from, to string) (bool, error)
	EdgeExists(ctx context.Context, from, to string) (bool, error)
	CreateMatchIfAbsent(ctx context.Context, x, y string) (*models.Match, bool, error)
	MarkMatchNotified(ctx context.Context, id string) error
}

// Notifier delivers an envelope to every connection of an identity.
type Notifier interface {
	Send(identity string, env models.Envelope) int
}

// Result of RecordInterest. Match is set whenever the pair is matched, not
// only when this call created it.
type Result struct {
	EdgeCreated bool          `json:"edgeCreated"`
	Match       *models.Match `json:"match,omitempty"`
}

type Detector struct {
	store    Store
	notifier Notifier
	locks    *PairLocks
	log      *zap.Logger

	retryAttempts int
	retryBackoff  time.Duration
}

func NewDetector(store Store, notifier Notifier, log *zap.Logger) *Detector {
	return &Detector{
		store:         store,
		notifier:      notifier,
		locks:         NewPairLocks(),
		log:           logging.OrNop(log),
		retryAttempts: config.InterestRetryAttempts,
		retryBackoff:  config.InterestRetryBackoff,
	}
}

// RecordInterest stores from→to and creates the match when to→from already
// exists. The whole operation runs under the pair's lock, so two reciprocal
// calls can never both miss the reverse edge. A match whose notification was
// never recorded is announced by whichever call next finds it.
func (d *Detector) RecordInterest(ctx context.Context, from, to string) (Result, error) {
	if from == "" || to == "" {
		return Result{}, apperr.InvalidArg("interest: empty identity")
	}
	if from == to {
		return Result{}, apperr.InvalidArg("interest: cannot like yourself")
	}

	res, created, err := d.recordLocked(ctx, from, to)
	if err != nil {
		return Result{}, err
	}

	if res.EdgeCreated {
		metrics.InterestEdges.Inc()
	}
	if created {
		metrics.MatchesCreated.Inc()
	}
	return res, nil
}

func (d *Detector) recordLocked(ctx context.Context, from, to string) (Result, bool, error) {
	unlock := d.locks.Lock(models.PairKey(from, to))
	defer unlock()

	edgeCreated, err := d.store.UpsertInterestEdge(ctx, from, to)
	if err != nil {
		return Result{}, false, d.storageErr("upsert_edge", err)
	}

	reverse, err := d.store.EdgeExists(ctx, to, from)
	if err != nil {
		return Result{}, false, d.storageErr("edge_exists", err)
	}
	if !reverse {
		return Result{EdgeCreated: edgeCreated}, false, nil
	}

	match, created, err := d.store.CreateMatchIfAbsent(ctx, from, to)
	if err != nil {
		return Result{}, false, d.storageErr("create_match", err)
	}
	if match.NotifiedAt == nil {
		d.notifyMatch(match)
		if err := d.store.MarkMatchNotified(ctx, match.ID); err != nil {
			metrics.StorageErrors.WithLabelValues("mark_notified").Inc()
			d.log.Warn("match notification not recorded",
				zap.String("match", match.ID), zap.Error(err))
		}
	}
	return Result{EdgeCreated: edgeCreated, Match: match}, created, nil
}

// RecordInterestWithRetry retries RecordInterest on storage errors only.
func (d *Detector) RecordInterestWithRetry(ctx context.Context, from, to string) (Result, error) {
	var lastErr error
	for attempt := 0; attempt < d.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, apperr.Storage("record interest", ctx.Err())
			case <-time.After(d.retryBackoff * time.Duration(attempt)):
			}
		}
		res, err := d.RecordInterest(ctx, from, to)
		if err == nil || !errors.Is(err, apperr.ErrStorage) {
			return res, err
		}
		lastErr = err
		d.log.Warn("record interest failed, retrying",
			zap.String("from", from), zap.String("to", to),
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return Result{}, lastErr
}

func (d *Detector) notifyMatch(m *models.Match) {
	env := models.MustEnvelope(models.EventMatchCreated, models.MatchCreatedPayload{Match: *m})
	a := d.notifier.Send(m.UserA, env)
	b := d.notifier.Send(m.UserB, env)
	d.log.Info("match created",
		zap.String("match", m.ID),
		zap.String("userA", m.UserA),
		zap.String("userB", m.UserB),
		zap.Int("deliveredA", a),
		zap.Int("deliveredB", b))
}

func (d *Detector) storageErr(op string, err error) error {
	metrics.StorageErrors.WithLabelValues(op).Inc()
	return apperr.Storage(op, err)
}
