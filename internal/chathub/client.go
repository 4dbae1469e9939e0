package chathub

import "moodpair/backend/internal/models"

// Client is the interface for any type of connection (e.g., WebSocket, Telegram).
// It abstracts the underlying communication mechanism, allowing the hub to manage
// different client types uniformly.
type Client interface {
	// GetUserID returns the unique identifier for the user associated with the client.
	GetUserID() string
	// GetSessionID returns the session the client is currently bound to, or "".
	GetSessionID() string
	// SetSessionID binds the client to a session. The hub calls it when a
	// match_found or session_ended event passes through.
	SetSessionID(string)

	// GetSendChannel returns the channel to which the hub sends events
	// intended for this specific client. It is a send-only channel.
	GetSendChannel() chan<- models.ChatEvent

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts down the client's connection and associated channels.
	// It must be safe to call more than once.
	Close()
}
