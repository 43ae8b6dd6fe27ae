package models

import (
	"time"

	"gorm.io/gorm"
)

type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallConnected CallStatus = "connected"
	CallDeclined  CallStatus = "declined"
	CallEnded     CallStatus = "ended"
)

// Active reports whether the status still holds the pair's call slot.
func (s CallStatus) Active() bool {
	return s == CallInitiated || s == CallConnected
}

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallAudio || t == CallVideo
}

// End reasons recorded on terminal sessions.
const (
	EndReasonHangup     = "hangup"
	EndReasonDeclined   = "declined"
	EndReasonDisconnect = "disconnect"
	EndReasonTimeout    = "timeout"
)

// CallSession is the lifecycle record of one call negotiation.
type CallSession struct {
	ID         string     `gorm:"primaryKey;size:26" json:"id"`
	CallerID   string     `gorm:"size:64;not null;index" json:"callerId"`
	ReceiverID string     `gorm:"size:64;not null;index" json:"receiverId"`
	PairKey    string     `gorm:"size:129;not null;index:idx_call_active_pair,unique,where:status <> 'ended' AND status <> 'declined'" json:"-"`
	CallType   CallType   `gorm:"size:16;not null" json:"callType"`
	Status     CallStatus `gorm:"size:16;not null;index" json:"status"`
	EndReason  string     `gorm:"size:32" json:"endReason,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	// Duration is set only when a connected call ends.
	Duration time.Duration `json:"duration"`
}

// BeforeSave keeps PairKey in step with the participants. The partial unique
// index on it allows one active session per pair across all nodes.
func (c *CallSession) BeforeSave(tx *gorm.DB) error {
	c.PairKey = PairKey(c.CallerID, c.ReceiverID)
	return nil
}

// End moves the record to a terminal status at now.
func (c *CallSession) End(status CallStatus, reason string, now time.Time) {
	c.Status = status
	c.EndedAt = &now
	c.EndReason = reason
	if c.StartedAt != nil {
		c.Duration = now.Sub(*c.StartedAt)
	}
}

func (c *CallSession) IsParticipant(identity string) bool {
	return identity != "" && (identity == c.CallerID || identity == c.ReceiverID)
}

// Peer returns the other participant, or "" for a non-participant.
func (c *CallSession) Peer(identity string) string {
	switch identity {
	case c.CallerID:
		return c.ReceiverID
	case c.ReceiverID:
		return c.CallerID
	}
	return ""
}
