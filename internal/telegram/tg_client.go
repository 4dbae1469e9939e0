package telegram

import (
	"sync"

	"moodpair/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const sendBuffer = 32

// Client implements chathub.Client for a Telegram chat.
type Client struct {
	userID string
	chatID int64
	bot    Sender
	send   chan models.ChatEvent
	log    logrus.FieldLogger

	mu        sync.Mutex
	sessionID string
	closed    bool
}

func newClient(chatID int64, bot Sender, log logrus.FieldLogger) *Client {
	userID := UserID(chatID)
	return &Client{
		userID: userID,
		chatID: chatID,
		bot:    bot,
		send:   make(chan models.ChatEvent, sendBuffer),
		log:    log.WithField("user_id", userID),
	}
}

func (c *Client) GetUserID() string                       { return c.userID }
func (c *Client) GetSendChannel() chan<- models.ChatEvent { return c.send }

func (c *Client) GetSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// Run starts the write pump. Updates are read centrally by BotService.
func (c *Client) Run() {
	go c.writePump()
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed reports whether the hub has let go of the client.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// writePump renders hub events as Telegram messages.
func (c *Client) writePump() {
	defer c.log.Debug("Telegram write pump stopped")

	for ev := range c.send {
		text := c.render(ev)
		if text == "" {
			continue
		}
		if _, err := c.bot.Send(tgbotapi.NewMessage(c.chatID, text)); err != nil {
			c.log.WithError(err).WithField("event", ev.Type).Error("Failed to send Telegram message")
		}
	}
}

func (c *Client) render(ev models.ChatEvent) string {
	switch ev.Type {
	case models.EventMessage:
		// the sender already sees what they typed
		if ev.SenderID == c.userID {
			return ""
		}
		return ev.Content
	case models.EventMatchFound, models.EventSessionEnded:
		return ev.Content
	default:
		c.log.WithField("event", ev.Type).Debug("Ignoring event")
		return ""
	}
}
