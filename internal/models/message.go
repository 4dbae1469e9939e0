package models

import (
	"time"

	"github.com/lib/pq"
)

// Message is one accepted chat turn. Rows are append-only; replay order is
// CreatedAt and then ID.
type Message struct {
	// ID is the insertion sequence used as the replay tie-break.
	ID uint `gorm:"primaryKey" json:"-"`
	// MessageID is the public identifier (UUID).
	MessageID string `gorm:"type:text;uniqueIndex;not null" json:"message_id"`
	// SessionID references the owning session by identifier only.
	SessionID string `gorm:"type:text;not null;index:idx_session_created" json:"session_id"`
	// SenderID is one of the session participants.
	SenderID string `gorm:"type:text;not null" json:"sender_id"`
	// Content is the text actually delivered (after filtering).
	Content string `gorm:"type:text;not null" json:"content"`
	// OriginalContent is the text as submitted, kept for audit.
	OriginalContent string `gorm:"type:text;not null" json:"-"`
	// FlaggedTerms lists the terms redacted from OriginalContent.
	FlaggedTerms pq.StringArray `gorm:"type:text[]" json:"-"`
	// CreatedAt defines the order within a session.
	CreatedAt time.Time `gorm:"index:idx_session_created" json:"created_at"`
}

func (Message) TableName() string { return "messages" }
