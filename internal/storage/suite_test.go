package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"matchgogo/backend/internal/models"
	"matchgogo/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runMatchAndCallSuite exercises the behaviour every Storage implementation
// must share.
func runMatchAndCallSuite(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	t.Run("interest edge upsert is idempotent", func(t *testing.T) {
		created, err := s.UpsertInterestEdge(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.UpsertInterestEdge(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.False(t, created)

		ok, err := s.EdgeExists(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.EdgeExists(ctx, "bob", "alice")
		require.NoError(t, err)
		assert.False(t, ok, "edges are directed")
	})

	t.Run("create match if absent", func(t *testing.T) {
		m1, created, err := s.CreateMatchIfAbsent(ctx, "zed", "amy")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "amy", m1.UserA)
		assert.Equal(t, "zed", m1.UserB)

		m2, created, err := s.CreateMatchIfAbsent(ctx, "amy", "zed")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, m1.ID, m2.ID)

		found, err := s.FindMatch(ctx, "zed", "amy")
		require.NoError(t, err)
		assert.Equal(t, m1.ID, found.ID)

		_, err = s.FindMatch(ctx, "amy", "nobody")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		list, err := s.ListMatches(ctx, "amy")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, m1.ID, list[0].ID)
	})

	t.Run("mark match notified", func(t *testing.T) {
		m, _, err := s.CreateMatchIfAbsent(ctx, "nia", "omar")
		require.NoError(t, err)
		assert.Nil(t, m.NotifiedAt)

		require.NoError(t, s.MarkMatchNotified(ctx, m.ID))
		require.NoError(t, s.MarkMatchNotified(ctx, m.ID), "marking twice is harmless")

		again, _, err := s.CreateMatchIfAbsent(ctx, "omar", "nia")
		require.NoError(t, err)
		assert.NotNil(t, again.NotifiedAt)
	})

	t.Run("concurrent create yields one match", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		createdCount := 0
		ids := map[string]bool{}
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				x, y := "p1", "p2"
				if i%2 == 1 {
					x, y = y, x
				}
				m, created, err := s.CreateMatchIfAbsent(ctx, x, y)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				ids[m.ID] = true
				if created {
					createdCount++
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, createdCount)
		assert.Len(t, ids, 1)
	})

	t.Run("call session create transition and find", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		c := &models.CallSession{
			ID:         models.NewID(now),
			CallerID:   "alice",
			ReceiverID: "bob",
			CallType:   models.CallVideo,
			Status:     models.CallInitiated,
			CreatedAt:  now,
		}
		require.NoError(t, s.CreateCallSession(ctx, c))

		again := &models.CallSession{
			ID:         models.NewID(now.Add(time.Millisecond)),
			CallerID:   "bob",
			ReceiverID: "alice",
			CallType:   models.CallAudio,
			Status:     models.CallInitiated,
			CreatedAt:  now,
		}
		assert.ErrorIs(t, s.CreateCallSession(ctx, again), storage.ErrActiveCall,
			"a pair holds one active call whichever side dials")

		active, err := s.ListActiveCallSessions(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, c.ID, active[0].ID)

		started := now.Add(time.Second)
		connected := *c
		connected.Status = models.CallConnected
		connected.StartedAt = &started
		ok, err := s.TransitionCallSession(ctx, &connected, models.CallInitiated)
		require.NoError(t, err)
		require.True(t, ok)

		declined := *c
		declined.End(models.CallDeclined, models.EndReasonDeclined, started)
		ok, err = s.TransitionCallSession(ctx, &declined, models.CallInitiated)
		require.NoError(t, err)
		assert.False(t, ok, "a transition from a stale status must not apply")

		ended := connected
		ended.End(models.CallEnded, models.EndReasonHangup, now.Add(31*time.Second))
		ok, err = s.TransitionCallSession(ctx, &ended, models.CallConnected)
		require.NoError(t, err)
		require.True(t, ok)

		got, err := s.FindCallSession(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CallEnded, got.Status)
		assert.Equal(t, 30*time.Second, got.Duration)
		assert.Equal(t, models.EndReasonHangup, got.EndReason)

		active, err = s.ListActiveCallSessions(ctx)
		require.NoError(t, err)
		assert.Empty(t, active)
		require.NoError(t, s.CreateCallSession(ctx, again), "the pair is free once the call ended")

		ok, err = s.TransitionCallSession(ctx, &models.CallSession{ID: "missing", Status: models.CallEnded}, models.CallConnected)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.FindCallSession(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		list, err := s.ListCallSessions(ctx, "bob", 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
	})

	t.Run("chat message save is idempotent on temp id", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Millisecond)
		first := &models.ChatMessage{
			TempID: "tmp-1", SenderID: "alice", RecipientID: "bob",
			Type: "text", Content: "hi", SentAt: base,
		}
		created, err := s.SaveChatMessage(ctx, first)
		require.NoError(t, err)
		assert.True(t, created)
		require.NotEmpty(t, first.ID)

		retry := &models.ChatMessage{
			TempID: "tmp-1", SenderID: "alice", RecipientID: "bob",
			Type: "text", Content: "hi", SentAt: base.Add(time.Second),
		}
		created, err = s.SaveChatMessage(ctx, retry)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, retry.ID)

		reply := &models.ChatMessage{
			TempID: "tmp-1", SenderID: "bob", RecipientID: "alice",
			Type: "text", Content: "hey", SentAt: base.Add(2 * time.Second),
		}
		created, err = s.SaveChatMessage(ctx, reply)
		require.NoError(t, err)
		assert.True(t, created, "temp ids are scoped per sender")

		msgs, err := s.ListChatMessages(ctx, "bob", "alice", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, first.ID, msgs[0].ID)
		assert.Equal(t, reply.ID, msgs[1].ID)

		msgs, err = s.ListChatMessages(ctx, "bob", "alice", 1)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, reply.ID, msgs[0].ID, "limit keeps the latest messages")
	})
}
