package models

import "time"

// Chat message types.
const (
	MessageText  = "text"
	MessageWink  = "wink"
	MessagePhoto = "photo"
)

// ChatMessage is a persisted chat record between two matched users.
// TempID is the client's optimistic identifier; together with SenderID it
// makes a retried send idempotent.
type ChatMessage struct {
	ID          string    `gorm:"primaryKey;size:26" json:"id"`
	TempID      string    `gorm:"size:64;not null;uniqueIndex:idx_sender_temp" json:"tempId,omitempty"`
	SenderID    string    `gorm:"size:64;not null;uniqueIndex:idx_sender_temp;index:idx_conversation" json:"senderId"`
	RecipientID string    `gorm:"size:64;not null;index:idx_conversation" json:"recipientId"`
	Type        string    `gorm:"size:32;not null" json:"type"`
	Content     string    `gorm:"type:text" json:"content"`
	SentAt      time.Time `json:"sentAt"`
	CreatedAt   time.Time `json:"createdAt"`
}
