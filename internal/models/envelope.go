package models

import "encoding/json"

// Outbound event types.
const (
	EventMatchCreated  = "match:created"
	EventCallIncoming  = "call:incoming"
	EventCallAccepted  = "call:accepted"
	EventCallDeclined  = "call:declined"
	EventCallEnded     = "call:ended"
	EventSignalOffer   = "signal:offer"
	EventSignalAnswer  = "signal:answer"
	EventSignalICE     = "signal:ice-candidate"
	EventChatMessage   = "chat:message"
	EventInterestAck   = "interest:recorded"
	EventCallInitiated = "call:initiated"
	EventError         = "error"
	EventPong          = "pong"
)

// Inbound request types.
const (
	RequestInterest     = "interest:record"
	RequestCallInitiate = "call:initiate"
	RequestCallAccept   = "call:accept"
	RequestCallDecline  = "call:decline"
	RequestCallEnd      = "call:end"
	RequestChatMessage  = "chat:message"
	RequestPing         = "ping"
)

// IsSignal reports whether t is one of the opaque signaling relays.
func IsSignal(t string) bool {
	return t == EventSignalOffer || t == EventSignalAnswer || t == EventSignalICE
}

// Envelope is the unit exchanged with transports. Payload stays raw so
// signaling content is relayed without being decoded.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: eventType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Payload: raw}, nil
}

// MustEnvelope is NewEnvelope for payloads built from plain structs and
// maps that cannot fail to marshal.
func MustEnvelope(eventType string, payload any) Envelope {
	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Payloads of outbound events.

type MatchCreatedPayload struct {
	Match Match `json:"match"`
}

type CallEventPayload struct {
	SessionID  string   `json:"sessionId"`
	CallerID   string   `json:"callerId"`
	ReceiverID string   `json:"receiverId"`
	CallType   CallType `json:"callType"`
	Reason     string   `json:"reason,omitempty"`
	EndedBy    string   `json:"endedBy,omitempty"`
	DurationMs int64    `json:"durationMs,omitempty"`
}

type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	RequestType string `json:"requestType,omitempty"`
}

type ChatMessagePayload struct {
	Message ChatMessage `json:"message"`
}
