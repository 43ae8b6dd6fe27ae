package chathub

import (
	"context"
	"encoding/json"

	"matchgogo/backend/internal/apperr"
	"matchgogo/backend/internal/calls"
	"matchgogo/backend/internal/chat"
	"matchgogo/backend/internal/logging"
	"matchgogo/backend/internal/matching"
	"matchgogo/backend/internal/models"

	"go.uber.org/zap"
)

type InterestRecorder interface {
	RecordInterestWithRetry(ctx context.Context, from, to string) (matching.Result, error)
}

type CallCoordinator interface {
	Initiate(ctx context.Context, callerID, receiverID string, callType models.CallType) (calls.InitiateResult, error)
	Accept(ctx context.Context, id, by string) (models.CallSession, error)
	Decline(ctx context.Context, id, by string) (models.CallSession, error)
	End(ctx context.Context, id, by string) (models.CallSession, error)
	RelaySignal(ctx context.Context, id, from, kind string, payload json.RawMessage) (int, error)
	Bind(id, identity, connID string)
}

type ChatSender interface {
	Send(ctx context.Context, from string, out chat.Outgoing) (models.ChatMessage, error)
}

// Router decodes client requests and hands them to the engine. Replies go
// to the requesting connection only; everything addressed to identities
// goes out through the registry.
type Router struct {
	interests InterestRecorder
	calls     CallCoordinator
	chat      ChatSender
	log       *zap.Logger
}

func NewRouter(interests InterestRecorder, coord CallCoordinator, chatSender ChatSender, log *zap.Logger) *Router {
	return &Router{
		interests: interests,
		calls:     coord,
		chat:      chatSender,
		log:       logging.OrNop(log),
	}
}

type interestRequest struct {
	To string `json:"to"`
}

type initiateRequest struct {
	ReceiverID string          `json:"receiverId"`
	CallType   models.CallType `json:"callType"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

type initiatedReply struct {
	calls.InitiateResult
	Warning string `json:"warning,omitempty"`
}

func (r *Router) Dispatch(ctx context.Context, c Client, env models.Envelope) {
	identity := c.GetUserID()

	switch {
	case env.Type == models.RequestPing:
		r.reply(c, models.EventPong, nil)

	case env.Type == models.RequestInterest:
		var req interestRequest
		if !r.decode(c, env, &req) {
			return
		}
		res, err := r.interests.RecordInterestWithRetry(ctx, identity, req.To)
		if err != nil {
			r.replyError(c, env.Type, err)
			return
		}
		r.reply(c, models.EventInterestAck, res)

	case env.Type == models.RequestCallInitiate:
		var req initiateRequest
		if !r.decode(c, env, &req) {
			return
		}
		if req.CallType == "" {
			req.CallType = models.CallAudio
		}
		res, err := r.calls.Initiate(ctx, identity, req.ReceiverID, req.CallType)
		if err != nil {
			r.replyError(c, env.Type, err)
			return
		}
		r.calls.Bind(res.Session.ID, identity, c.GetConnectionID())
		out := initiatedReply{InitiateResult: res}
		if !res.DeliveryConfirmed {
			out.Warning = "receiver is offline"
		}
		r.reply(c, models.EventCallInitiated, out)

	case env.Type == models.RequestCallAccept:
		var req sessionRequest
		if !r.decode(c, env, &req) {
			return
		}
		if _, err := r.calls.Accept(ctx, req.SessionID, identity); err != nil {
			r.replyError(c, env.Type, err)
			return
		}
		r.calls.Bind(req.SessionID, identity, c.GetConnectionID())

	case env.Type == models.RequestCallDecline:
		var req sessionRequest
		if !r.decode(c, env, &req) {
			return
		}
		if _, err := r.calls.Decline(ctx, req.SessionID, identity); err != nil {
			r.replyError(c, env.Type, err)
		}

	case env.Type == models.RequestCallEnd:
		var req sessionRequest
		if !r.decode(c, env, &req) {
			return
		}
		if _, err := r.calls.End(ctx, req.SessionID, identity); err != nil {
			r.replyError(c, env.Type, err)
		}

	case models.IsSignal(env.Type):
		var req sessionRequest
		if !r.decode(c, env, &req) {
			return
		}
		n, err := r.calls.RelaySignal(ctx, req.SessionID, identity, env.Type, env.Payload)
		if err != nil {
			r.replyError(c, env.Type, err)
			return
		}
		if n == 0 {
			r.replyError(c, env.Type, apperr.ErrUnreachablePeer)
		}

	case env.Type == models.RequestChatMessage:
		var out chat.Outgoing
		if !r.decode(c, env, &out) {
			return
		}
		// The sender's own connections get the stored record as an echo.
		if _, err := r.chat.Send(ctx, identity, out); err != nil {
			r.replyError(c, env.Type, err)
		}

	default:
		r.replyError(c, env.Type, apperr.InvalidArg("unknown request type "+env.Type))
	}
}

func (r *Router) decode(c Client, env models.Envelope, v any) bool {
	if len(env.Payload) == 0 {
		r.replyError(c, env.Type, apperr.InvalidArg("missing payload"))
		return false
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		r.replyError(c, env.Type, apperr.InvalidArg("malformed payload"))
		return false
	}
	return true
}

func (r *Router) reply(c Client, eventType string, payload any) {
	env, err := models.NewEnvelope(eventType, payload)
	if err != nil {
		r.log.Error("encode reply", zap.String("type", eventType), zap.Error(err))
		return
	}
	if !c.Enqueue(env) {
		r.log.Debug("reply dropped",
			zap.String("connection", c.GetConnectionID()),
			zap.String("type", eventType))
	}
}

func (r *Router) replyError(c Client, requestType string, err error) {
	code := apperr.CodeOf(err)
	switch code {
	case apperr.CodeStorage, apperr.CodeUnknown:
		r.log.Error("request failed",
			zap.String("identity", c.GetUserID()),
			zap.String("request", requestType),
			zap.Error(err))
	default:
		r.log.Debug("request rejected",
			zap.String("identity", c.GetUserID()),
			zap.String("request", requestType),
			zap.Error(err))
	}
	r.reply(c, models.EventError, errorPayload(requestType, err))
}

func errorPayload(requestType string, err error) models.ErrorPayload {
	return models.ErrorPayload{
		Code:        string(apperr.CodeOf(err)),
		Message:     apperr.Message(err),
		RequestType: requestType,
	}
}
