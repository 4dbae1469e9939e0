package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"moodpair/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// MessageSender is the slice of the engine a live connection needs.
type MessageSender interface {
	SendMessage(ctx context.Context, sessionID, senderID, text string) (*SendResult, error)
}

// InboundFrame is what a WebSocket client may send. SessionID defaults to the
// session the connection is bound to.
type InboundFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
}

// WebSocketClient implements Client over a gorilla/websocket connection.
type WebSocketClient struct {
	userID string
	conn   *websocket.Conn
	hub    *Hub
	sender MessageSender
	log    logrus.FieldLogger
	send   chan models.ChatEvent

	mu        sync.Mutex
	sessionID string
	closed    bool
}

func NewWebSocketClient(userID string, conn *websocket.Conn, hub *Hub, sender MessageSender, log logrus.FieldLogger) *WebSocketClient {
	return &WebSocketClient{
		userID: userID,
		conn:   conn,
		hub:    hub,
		sender: sender,
		log:    log.WithField("user_id", userID),
		send:   make(chan models.ChatEvent, sendBuffer),
	}
}

func (c *WebSocketClient) GetUserID() string                       { return c.userID }
func (c *WebSocketClient) GetSendChannel() chan<- models.ChatEvent { return c.send }

func (c *WebSocketClient) GetSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *WebSocketClient) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes the send channel, which stops writePump and with it the
// connection.
func (c *WebSocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("Error reading message")
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.WithError(err).Debug("Error decoding frame")
			c.reply(models.ErrInvalidInput, "malformed frame")
			continue
		}
		c.handle(frame)
	}
}

func (c *WebSocketClient) handle(frame InboundFrame) {
	if frame.Type != "" && frame.Type != models.EventMessage {
		c.reply(models.ErrInvalidInput, "unsupported frame type")
		return
	}

	sessionID := frame.SessionID
	if sessionID == "" {
		sessionID = c.GetSessionID()
	}
	if sessionID == "" {
		c.reply(models.ErrNotFound, "not in a session")
		return
	}

	// Our own event comes back through the hub; nothing to do on success.
	if _, err := c.sender.SendMessage(context.Background(), sessionID, c.userID, frame.Content); err != nil {
		c.reply(err, err.Error())
	}
}

// reply queues an error event for this connection only.
func (c *WebSocketClient) reply(kind error, detail string) {
	ev := models.ChatEvent{
		Type:       models.EventError,
		SessionID:  c.GetSessionID(),
		Error:      ErrorKind(kind),
		Content:    detail,
		Timestamp:  time.Now().UTC(),
		Recipients: []string{c.userID},
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- ev:
	default:
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.WithError(err).Debug("Error writing event")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ErrorKind names the domain error wrapped by err.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrForbidden):
		return "forbidden"
	case errors.Is(err, models.ErrGone):
		return "gone"
	case errors.Is(err, models.ErrRejected):
		return "rejected"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrTransient):
		return "unavailable"
	case errors.Is(err, models.ErrUnauthorized):
		return "unauthorized"
	}
	return "internal"
}
