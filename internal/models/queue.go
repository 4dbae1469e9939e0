package models

import "time"

// QueueEntry is a user waiting to be paired.
type QueueEntry struct {
	// UserID is the opaque, self-asserted user identifier. One entry per user.
	UserID string `gorm:"primaryKey;type:text" json:"user_id"`
	// EmotionTag is the matching key.
	EmotionTag string `gorm:"type:text;not null;index:idx_queue_tag_created" json:"emotion_tag"`
	// CreatedAt defines the FIFO position.
	CreatedAt time.Time `gorm:"not null;index:idx_queue_tag_created" json:"created_at"`
	// ExpiresAt is CreatedAt + queue TTL.
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
}

func (QueueEntry) TableName() string { return "match_queue" }
