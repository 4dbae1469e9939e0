package models

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionExpired SessionStatus = "expired"
	SessionEnded   SessionStatus = "ended"
)

// IsTerminal reports whether no further transition may leave this status.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionExpired || s == SessionEnded
}

// EndReason explains why a session was closed. It only selects the closing
// message shown to the participants.
type EndReason string

const (
	EndManual      EndReason = "manual"
	EndTimeout     EndReason = "timeout"
	EndPartnerLeft EndReason = "partner_left"
)

// ParseEndReason validates a client supplied reason. An empty value means manual.
func ParseEndReason(s string) (EndReason, bool) {
	switch EndReason(s) {
	case "", EndManual:
		return EndManual, true
	case EndTimeout, EndPartnerLeft:
		return EndReason(s), true
	}
	return "", false
}

// Session represents a time-boxed 1-on-1 conversation between two users who
// reported the same emotion.
type Session struct {
	// SessionID is the unique identifier of the session (UUID).
	SessionID string `gorm:"primaryKey;type:text" json:"session_id"`
	// User1ID is the user whose request completed the match.
	User1ID string `gorm:"type:text;not null;index" json:"user1_id"`
	// User2ID is the waiting user that was claimed from the queue.
	User2ID string `gorm:"type:text;not null;index" json:"user2_id"`
	// EmotionTag is the tag that produced the match.
	EmotionTag string `gorm:"type:text;not null" json:"emotion_tag"`
	// Status is one of active, expired, ended.
	Status SessionStatus `gorm:"type:text;not null;index" json:"status"`
	// CreatedAt is the pairing instant.
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is always CreatedAt + session TTL.
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	// EndedAt is stamped on the transition to a terminal status.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// EndReason is set together with EndedAt.
	EndReason EndReason `gorm:"type:text" json:"end_reason,omitempty"`
}

func (Session) TableName() string { return "chat_sessions" }

// HasParticipant reports whether userID is one of the two participants.
func (s *Session) HasParticipant(userID string) bool {
	return userID != "" && (s.User1ID == userID || s.User2ID == userID)
}

// PartnerOf returns the other participant, or "" if userID is not a participant.
func (s *Session) PartnerOf(userID string) string {
	switch userID {
	case s.User1ID:
		return s.User2ID
	case s.User2ID:
		return s.User1ID
	}
	return ""
}

// Participants returns both user IDs.
func (s *Session) Participants() []string {
	return []string{s.User1ID, s.User2ID}
}
