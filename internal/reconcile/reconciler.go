// Package reconcile collapses optimistic chat entries into their persisted
// twins before a message list is shown.
package reconcile

import (
	"time"

	"matchgogo/backend/internal/config"
	"matchgogo/backend/internal/metrics"
	"matchgogo/backend/internal/models"
)

// Reconciler is safe for concurrent use; it keeps no state between calls.
type Reconciler struct {
	windows       map[string]time.Duration
	defaultWindow time.Duration
	contentLen    int
}

type Option func(*Reconciler)

// WithWindow sets the dedup window for one message type.
func WithWindow(msgType string, d time.Duration) Option {
	return func(r *Reconciler) { r.windows[msgType] = d }
}

// WithDefaultWindow sets the window for types without their own.
func WithDefaultWindow(d time.Duration) Option {
	return func(r *Reconciler) { r.defaultWindow = d }
}

func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		windows: map[string]time.Duration{
			models.MessageWink: config.WinkDedupWindow,
		},
		defaultWindow: config.TextDedupWindow,
		contentLen:    config.ReconcileContentLen,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.defaultWindow <= 0 {
		r.defaultWindow = config.TextDedupWindow
	}
	return r
}

var defaultReconciler = New()

// Reconcile runs the default reconciler.
func Reconcile(records []models.ChatMessage) []models.ChatMessage {
	return defaultReconciler.Reconcile(records)
}

type tempKey struct {
	sender, temp string
}

type fingerprint struct {
	sender, recipient string
	msgType           string
	content           string
	bucket            int64
}

// Reconcile returns records with duplicates removed. Order is preserved and
// a persisted record that supersedes an optimistic one takes its position.
// Records carrying a persisted id are never dropped unless the same id was
// already seen.
func (r *Reconciler) Reconcile(records []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(records))
	byID := make(map[string]int, len(records))
	byTemp := make(map[tempKey]int, len(records))
	byPrint := make(map[fingerprint][]int, len(records))

	index := func(i int, rec models.ChatMessage) {
		if rec.ID != "" {
			byID[rec.ID] = i
		}
		if rec.TempID != "" {
			byTemp[tempKey{rec.SenderID, rec.TempID}] = i
		}
		fp := r.fingerprint(rec)
		byPrint[fp] = append(byPrint[fp], i)
	}
	replace := func(i int, rec models.ChatMessage, rule string) {
		out[i] = rec
		index(i, rec)
		metrics.ReconcileCollapsed.WithLabelValues(rule).Inc()
	}
	discard := func(rule string) {
		metrics.ReconcileCollapsed.WithLabelValues(rule).Inc()
	}

	for _, rec := range records {
		if rec.ID != "" {
			if _, seen := byID[rec.ID]; seen {
				discard("id")
				continue
			}
		}

		if rec.TempID != "" {
			if i, ok := byTemp[tempKey{rec.SenderID, rec.TempID}]; ok {
				switch {
				case out[i].ID == "" && rec.ID != "":
					replace(i, rec, "temp_id")
					continue
				case rec.ID == "":
					discard("temp_id")
					continue
				}
				// Both persisted under different ids: keep both.
			}
		}

		if i, ok := r.findTwin(rec, out, byPrint); ok {
			switch {
			case out[i].ID == "" && rec.ID != "":
				replace(i, rec, "fingerprint")
				continue
			case rec.ID == "":
				discard("fingerprint")
				continue
			}
		}

		out = append(out, rec)
		index(len(out)-1, rec)
	}
	return out
}

// findTwin looks for an accepted entry with the same fingerprint within the
// window, probing the neighbouring buckets too. A persisted record only
// pairs with an entry that has no persisted id.
func (r *Reconciler) findTwin(rec models.ChatMessage, out []models.ChatMessage, byPrint map[fingerprint][]int) (int, bool) {
	window := r.window(rec.Type)
	ts := timestamp(rec)
	fp := r.fingerprint(rec)
	base := fp.bucket

	for _, b := range [3]int64{base - 1, base, base + 1} {
		fp.bucket = b
		for _, i := range byPrint[fp] {
			cand := out[i]
			if rec.ID != "" && cand.ID != "" {
				continue
			}
			if absDuration(ts.Sub(timestamp(cand))) < window {
				return i, true
			}
		}
	}
	return 0, false
}

func (r *Reconciler) fingerprint(rec models.ChatMessage) fingerprint {
	window := r.window(rec.Type)
	return fingerprint{
		sender:    rec.SenderID,
		recipient: rec.RecipientID,
		msgType:   rec.Type,
		content:   truncate(rec.Content, r.contentLen),
		bucket:    timestamp(rec).UnixNano() / int64(window),
	}
}

func (r *Reconciler) window(msgType string) time.Duration {
	if d, ok := r.windows[msgType]; ok && d > 0 {
		return d
	}
	return r.defaultWindow
}

func timestamp(rec models.ChatMessage) time.Time {
	if rec.SentAt.IsZero() {
		return rec.CreatedAt
	}
	return rec.SentAt
}

func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
