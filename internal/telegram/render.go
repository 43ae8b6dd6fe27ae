package telegram

import (
	"encoding/json"
	"time"

	"matchgogo/backend/internal/localization"
	"matchgogo/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	declinePrefix = "call_decline_"
	setLangPrefix = "set_lang_"
)

// render turns an envelope addressed to identity into a Telegram message.
// It reports false for envelopes with no Telegram form: signaling, acks and
// the echo of the user's own chat messages.
func render(l *localization.Localizer, lang string, chatID int64, identity string, env models.Envelope) (tgbotapi.MessageConfig, bool) {
	text := func(key string, args ...any) (tgbotapi.MessageConfig, bool) {
		return tgbotapi.NewMessage(chatID, l.Format(lang, key, args...)), true
	}

	switch env.Type {
	case models.EventMatchCreated:
		var p models.MatchCreatedPayload
		if !decode(env, &p) {
			return tgbotapi.MessageConfig{}, false
		}
		return text("match_created", p.Match.Other(identity))

	case models.EventCallIncoming:
		var p models.CallEventPayload
		if !decode(env, &p) {
			return tgbotapi.MessageConfig{}, false
		}
		msg := tgbotapi.NewMessage(chatID, l.Format(lang, "call_incoming",
			l.GetString(lang, "call_type_"+string(p.CallType)), p.CallerID))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(l.GetString(lang, "call_decline_button"), declinePrefix+p.SessionID),
			),
		)
		return msg, true

	case models.EventCallAccepted:
		return text("call_accepted")

	case models.EventCallDeclined:
		return text("call_declined")

	case models.EventCallEnded:
		var p models.CallEventPayload
		if !decode(env, &p) {
			return tgbotapi.MessageConfig{}, false
		}
		switch p.Reason {
		case models.EndReasonTimeout:
			return text("call_missed")
		case models.EndReasonDisconnect:
			return text("call_dropped")
		}
		d := (time.Duration(p.DurationMs) * time.Millisecond).Round(time.Second)
		return text("call_ended", d.String())

	case models.EventChatMessage:
		var p models.ChatMessagePayload
		if !decode(env, &p) || p.Message.SenderID == identity {
			return tgbotapi.MessageConfig{}, false
		}
		switch p.Message.Type {
		case models.MessageWink:
			return text("chat_wink", p.Message.SenderID)
		case models.MessagePhoto:
			return text("chat_photo", p.Message.SenderID)
		}
		return text("chat_message", p.Message.SenderID, p.Message.Content)

	case models.EventError:
		var p models.ErrorPayload
		if !decode(env, &p) {
			return tgbotapi.MessageConfig{}, false
		}
		return text("error", p.Message)
	}
	return tgbotapi.MessageConfig{}, false
}

func decode(env models.Envelope, v any) bool {
	return len(env.Payload) > 0 && json.Unmarshal(env.Payload, v) == nil
}
