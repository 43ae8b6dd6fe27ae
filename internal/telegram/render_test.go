package telegram

import (
	"testing"

	"matchgogo/backend/internal/localization"
	"matchgogo/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLocalizer(t *testing.T) *localization.Localizer {
	t.Helper()
	l, err := localization.Default()
	require.NoError(t, err)
	return l
}

func TestRender_MatchNamesTheOtherSide(t *testing.T) {
	l := testLocalizer(t)
	env := models.MustEnvelope(models.EventMatchCreated, models.MatchCreatedPayload{
		Match: models.Match{ID: "m1", UserA: "alice", UserB: "bob"},
	})

	msg, ok := render(l, "en", 1, "bob", env)
	require.True(t, ok)
	assert.Equal(t, int64(1), msg.ChatID)
	assert.Equal(t, "💞 New match with alice!", msg.Text)
}

func TestRender_IncomingCallCarriesDeclineButton(t *testing.T) {
	l := testLocalizer(t)
	env := models.MustEnvelope(models.EventCallIncoming, models.CallEventPayload{
		SessionID:  "s1",
		CallerID:   "alice",
		ReceiverID: "bob",
		CallType:   models.CallVideo,
	})

	msg, ok := render(l, "en", 9, "bob", env)
	require.True(t, ok)
	assert.Equal(t, "📞 Incoming video call from alice.", msg.Text)

	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 1)
	button := markup.InlineKeyboard[0][0]
	assert.Equal(t, "Decline", button.Text)
	require.NotNil(t, button.CallbackData)
	assert.Equal(t, "call_decline_s1", *button.CallbackData)
}

func TestRender_CallEnded(t *testing.T) {
	l := testLocalizer(t)
	tests := []struct {
		name    string
		payload models.CallEventPayload
		want    string
	}{
		{"normal", models.CallEventPayload{Reason: models.EndReasonHangup, DurationMs: 95_000}, "📴 Call ended after 1m35s."},
		{"timeout", models.CallEventPayload{Reason: models.EndReasonTimeout}, "📵 Missed call."},
		{"disconnect", models.CallEventPayload{Reason: models.EndReasonDisconnect}, "📴 Call dropped: connection lost."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := render(l, "en", 1, "alice", models.MustEnvelope(models.EventCallEnded, tt.payload))
			require.True(t, ok)
			assert.Equal(t, tt.want, msg.Text)
		})
	}
}

func TestRender_ChatMessages(t *testing.T) {
	l := testLocalizer(t)
	chatEnv := func(msgType, content string) models.Envelope {
		return models.MustEnvelope(models.EventChatMessage, models.ChatMessagePayload{
			Message: models.ChatMessage{SenderID: "alice", RecipientID: "bob", Type: msgType, Content: content},
		})
	}

	msg, ok := render(l, "en", 1, "bob", chatEnv(models.MessageText, "hi"))
	require.True(t, ok)
	assert.Equal(t, "💬 alice: hi", msg.Text)

	msg, ok = render(l, "en", 1, "bob", chatEnv(models.MessageWink, ""))
	require.True(t, ok)
	assert.Equal(t, "😉 alice winked at you.", msg.Text)

	_, ok = render(l, "en", 1, "alice", chatEnv(models.MessageText, "hi"))
	assert.False(t, ok, "own messages are not echoed to Telegram")
}

func TestRender_SkipsSignalingAndBrokenPayloads(t *testing.T) {
	l := testLocalizer(t)

	_, ok := render(l, "en", 1, "bob", models.Envelope{Type: models.EventSignalOffer, Payload: []byte(`{"sdp":"x"}`)})
	assert.False(t, ok)

	_, ok = render(l, "en", 1, "bob", models.Envelope{Type: models.EventCallEnded, Payload: []byte(`{`)})
	assert.False(t, ok)
}
