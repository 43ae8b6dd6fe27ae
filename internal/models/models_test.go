package models_test

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"matchgogo/backend/internal/models"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMatchBeforeCreate_GeneratesULID verifies that the hook assigns a valid ULID.
func TestMatchBeforeCreate_GeneratesULID(t *testing.T) {
	// Arrange
	m := &models.Match{UserA: "alice", UserB: "bob", CreatedAt: time.Now()}
	assert.Empty(t, m.ID, "Match ID should be empty before BeforeCreate")

	// Act
	err := m.BeforeCreate(nil)

	// Assert
	assert.NoError(t, err)
	_, parseErr := ulid.Parse(m.ID)
	assert.NoError(t, parseErr, "Match ID must be a valid ULID")
}

func TestMatchBeforeCreate_PreservesExistingID(t *testing.T) {
	m := &models.Match{ID: "01HZX0000000000000000000AA"}

	assert.NoError(t, m.BeforeCreate(nil))
	assert.Equal(t, "01HZX0000000000000000000AA", m.ID)
}

func TestNewID_SortsByTime(t *testing.T) {
	earlier := models.NewID(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	later := models.NewID(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC))

	assert.Less(t, earlier, later)
	assert.Len(t, models.NewID(time.Time{}), 26)
}

func TestPairKey_IsOrderIndependent(t *testing.T) {
	tests := []struct {
		x, y string
		a, b string
		key  string
	}{
		{"alice", "bob", "alice", "bob", "alice|bob"},
		{"bob", "alice", "alice", "bob", "alice|bob"},
		{"u-2", "u-10", "u-10", "u-2", "u-10|u-2"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			a, b := models.CanonicalPair(tt.x, tt.y)
			assert.Equal(t, tt.a, a)
			assert.Equal(t, tt.b, b)
			assert.Equal(t, tt.key, models.PairKey(tt.x, tt.y))
			assert.Equal(t, models.PairKey(tt.x, tt.y), models.PairKey(tt.y, tt.x))
		})
	}
}

func TestMatchOther(t *testing.T) {
	m := &models.Match{UserA: "alice", UserB: "bob"}
	assert.Equal(t, "bob", m.Other("alice"))
	assert.Equal(t, "alice", m.Other("bob"))
}

func TestCallSession_Participants(t *testing.T) {
	c := &models.CallSession{CallerID: "alice", ReceiverID: "bob"}

	assert.True(t, c.IsParticipant("alice"))
	assert.True(t, c.IsParticipant("bob"))
	assert.False(t, c.IsParticipant("carol"))
	assert.False(t, c.IsParticipant(""))
	assert.Equal(t, "bob", c.Peer("alice"))
	assert.Equal(t, "alice", c.Peer("bob"))
	assert.Equal(t, "", c.Peer("carol"))
}

func TestCallStatus_Active(t *testing.T) {
	assert.True(t, models.CallInitiated.Active())
	assert.True(t, models.CallConnected.Active())
	assert.False(t, models.CallDeclined.Active())
	assert.False(t, models.CallEnded.Active())
	assert.True(t, models.CallVideo.Valid())
	assert.False(t, models.CallType("hologram").Valid())
}

func TestEnvelope_PayloadStaysRaw(t *testing.T) {
	in := []byte(`{"type":"signal:offer","payload":{"sessionId":"c1","sdp":"v=0\r\n"}}`)

	var env models.Envelope
	require.NoError(t, json.Unmarshal(in, &env))

	assert.Equal(t, models.EventSignalOffer, env.Type)
	assert.JSONEq(t, `{"sessionId":"c1","sdp":"v=0\r\n"}`, string(env.Payload))
	assert.True(t, models.IsSignal(env.Type))
	assert.False(t, models.IsSignal(models.EventCallEnded))
}

func TestNewEnvelope_NilPayload(t *testing.T) {
	env, err := models.NewEnvelope(models.EventPong, nil)
	require.NoError(t, err)

	out, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(out))
}

// TestModelStructTags guards the unique indexes the storage layer relies on.
func TestModelStructTags(t *testing.T) {
	matchType := reflect.TypeOf(models.Match{})
	for _, name := range []string{"UserA", "UserB"} {
		f, ok := matchType.FieldByName(name)
		require.True(t, ok)
		assert.Contains(t, f.Tag.Get("gorm"), "uniqueIndex:idx_match_pair")
	}

	edgeType := reflect.TypeOf(models.InterestEdge{})
	for _, name := range []string{"FromID", "ToID"} {
		f, ok := edgeType.FieldByName(name)
		require.True(t, ok)
		assert.Contains(t, f.Tag.Get("gorm"), "primaryKey")
	}

	msgType := reflect.TypeOf(models.ChatMessage{})
	for _, name := range []string{"SenderID", "TempID"} {
		f, ok := msgType.FieldByName(name)
		require.True(t, ok)
		assert.Contains(t, f.Tag.Get("gorm"), "uniqueIndex:idx_sender_temp")
	}
}
