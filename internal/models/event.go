package models

import "time"

// Event types pushed to live clients.
const (
	EventMessage      = "message"
	EventMatchFound   = "match_found"
	EventSessionEnded = "session_ended"
	// EventError reports a failed inbound frame back to its sender only.
	EventError = "error"
)

// ChatEvent is the best-effort notification published after a durable write.
// It is never the source of truth: clients recover through history fetches.
type ChatEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id,omitempty"`
	SenderID  string    `json:"sender_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	Reason    EndReason `json:"reason,omitempty"`
	// Error is the error kind of an EventError.
	Error      string    `json:"error,omitempty"`
	EmotionTag string    `json:"emotion_tag,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	// Recipients are the user IDs the event is addressed to.
	Recipients []string `json:"recipients"`
}

// IsFor reports whether userID is a recipient of the event.
func (e ChatEvent) IsFor(userID string) bool {
	for _, r := range e.Recipients {
		if r == userID {
			return true
		}
	}
	return false
}
