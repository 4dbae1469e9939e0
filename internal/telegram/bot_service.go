// Package telegram handles the integration with the Telegram Bot API.
// It receives updates, turns commands into engine calls and registers a
// Client per chat with the hub so that partner messages reach the chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"moodpair/backend/internal/chathub"
	"moodpair/backend/internal/localization"
	"moodpair/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// userIDPrefix keeps Telegram users apart from web users.
const userIDPrefix = "tg:"

// Sender is the part of the Bot API the service talks through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotService is responsible for receiving Telegram updates and routing them to the engine.
type BotService struct {
	BotAPI    *tgbotapi.BotAPI
	Engine    *chathub.Engine
	Hub       *chathub.Hub
	Localizer *localization.Localizer
	Language  string

	bot Sender
	log logrus.FieldLogger

	mu      sync.Mutex
	clients map[int64]*Client
}

// UserID is the engine user ID of a Telegram chat.
func UserID(chatID int64) string {
	return userIDPrefix + strconv.FormatInt(chatID, 10)
}

// NewBotService authorizes against the Bot API with token.
func NewBotService(token string, engine *chathub.Engine, hub *chathub.Hub, loc *localization.Localizer, lang string, log logrus.FieldLogger) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram authorize: %w", err)
	}
	bot.Debug = false
	log.WithField("account", bot.Self.UserName).Info("Authorized on Telegram")

	s := NewBotServiceWithSender(bot, engine, hub, loc, lang, log)
	s.BotAPI = bot
	return s, nil
}

// NewBotServiceWithSender builds a service that replies through sender.
// It has no update source; feed it with HandleUpdate or HandleText.
func NewBotServiceWithSender(sender Sender, engine *chathub.Engine, hub *chathub.Hub, loc *localization.Localizer, lang string, log logrus.FieldLogger) *BotService {
	if lang == "" {
		lang = "en"
	}
	return &BotService{
		Engine:    engine,
		Hub:       hub,
		Localizer: loc,
		Language:  lang,
		bot:       sender,
		log:       log.WithField("component", "telegram"),
		clients:   make(map[int64]*Client),
	}
}

// Run polls for updates until ctx is done.
func (s *BotService) Run(ctx context.Context) {
	if s.BotAPI == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			s.BotAPI.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			s.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate dispatches a single update.
func (s *BotService) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	if msg.Text == "" {
		s.reply(msg.Chat.ID, s.t("unsupported_message_type"))
		return
	}
	s.HandleText(ctx, msg.Chat.ID, msg.Text)
}

// HandleText handles a text message or command typed in chatID.
func (s *BotService) HandleText(ctx context.Context, chatID int64, text string) {
	c := s.getOrCreateClient(chatID)

	if !strings.HasPrefix(text, "/") {
		s.handleChatMessage(ctx, c, text)
		return
	}

	parts := strings.SplitN(text, " ", 2)
	command := strings.TrimPrefix(parts[0], "/")
	// commands in groups arrive as /cmd@botname
	if i := strings.IndexByte(command, '@'); i >= 0 {
		command = command[:i]
	}
	var args string
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}

	switch command {
	case "start", "help":
		s.reply(chatID, s.t("welcome", s.emotionList()))
	case "feel":
		s.handleFeel(ctx, c, args)
	case "cancel":
		s.handleCancel(ctx, c)
	case "stop":
		s.handleStop(ctx, c)
	case "history":
		s.handleHistory(ctx, c)
	case "time":
		s.handleTime(ctx, c)
	default:
		s.reply(chatID, s.t("welcome", s.emotionList()))
	}
}

// getOrCreateClient returns the live client of chatID, registering a new one
// with the hub when none exists or the hub dropped the previous one.
func (s *BotService) getOrCreateClient(chatID int64) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[chatID]; ok && !c.IsClosed() {
		return c
	}

	c := newClient(chatID, s.bot, s.log)
	s.clients[chatID] = c
	s.Hub.Register(c)
	c.Run()
	return c
}

// sessionOf returns the session c is in, consulting storage when the client
// has not been bound yet, e.g. after a restart.
func (s *BotService) sessionOf(ctx context.Context, c *Client) (string, error) {
	if id := c.GetSessionID(); id != "" {
		return id, nil
	}
	sess, err := s.Engine.ActiveSession(ctx, c.GetUserID())
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", nil
	}
	c.SetSessionID(sess.SessionID)
	return sess.SessionID, nil
}

func (s *BotService) handleFeel(ctx context.Context, c *Client, tag string) {
	if tag == "" {
		s.reply(c.chatID, s.t("unknown_emotion", s.emotionList()))
		return
	}

	active, err := s.Engine.ActiveSession(ctx, c.GetUserID())
	if err != nil {
		s.replyError(c, "feel", err)
		return
	}
	if active != nil {
		c.SetSessionID(active.SessionID)
		s.reply(c.chatID, s.t("already_in_chat"))
		return
	}

	res, err := s.Engine.RequestMatch(ctx, c.GetUserID(), tag)
	if errors.Is(err, models.ErrInvalidInput) {
		s.reply(c.chatID, s.t("unknown_emotion", s.emotionList()))
		return
	}
	if err != nil {
		s.replyError(c, "feel", err)
		return
	}
	// On a match both chats hear about it through the hub.
	if res.Waiting {
		s.reply(c.chatID, s.t("waiting", res.EmotionTag))
	}
}

func (s *BotService) handleCancel(ctx context.Context, c *Client) {
	if err := s.Engine.CancelMatch(ctx, c.GetUserID()); err != nil {
		s.replyError(c, "cancel", err)
		return
	}
	s.reply(c.chatID, s.t("cancelled"))
}

func (s *BotService) handleStop(ctx context.Context, c *Client) {
	sessionID, err := s.sessionOf(ctx, c)
	if err != nil {
		s.replyError(c, "stop", err)
		return
	}
	if sessionID == "" {
		s.reply(c.chatID, s.t("not_in_chat"))
		return
	}
	sess, err := s.Engine.EndConversation(ctx, sessionID, string(models.EndManual))
	if err != nil {
		s.replyError(c, "stop", err)
		return
	}
	c.SetSessionID("")
	if sess == nil {
		s.reply(c.chatID, s.t("session_gone"))
	}
}

func (s *BotService) handleHistory(ctx context.Context, c *Client) {
	sessionID, err := s.sessionOf(ctx, c)
	if err != nil {
		s.replyError(c, "history", err)
		return
	}
	if sessionID == "" {
		s.reply(c.chatID, s.t("not_in_chat"))
		return
	}
	h, err := s.Engine.FetchHistory(ctx, sessionID, c.GetUserID(), 0)
	if err != nil {
		s.replyError(c, "history", err)
		return
	}
	if len(h.Messages) == 0 {
		s.reply(c.chatID, s.t("history_empty"))
		return
	}

	you, partner := s.t("history_you"), s.t("history_partner")
	var b strings.Builder
	for i, m := range h.Messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		who := partner
		if m.IsSelf {
			who = you
		}
		fmt.Fprintf(&b, "%s: %s", who, m.Content)
	}
	s.reply(c.chatID, b.String())
}

func (s *BotService) handleTime(ctx context.Context, c *Client) {
	sessionID, err := s.sessionOf(ctx, c)
	if err != nil {
		s.replyError(c, "time", err)
		return
	}
	if sessionID == "" {
		s.reply(c.chatID, s.t("not_in_chat"))
		return
	}
	stats, err := s.Engine.SessionStats(ctx, sessionID, c.GetUserID())
	if err != nil {
		s.replyError(c, "time", err)
		return
	}
	if stats.Status != models.SessionActive {
		c.SetSessionID("")
		s.reply(c.chatID, s.t("session_gone"))
		return
	}
	// round up so the last seconds still read as one minute
	minutes := (stats.TimeLeft + 59) / 60
	s.reply(c.chatID, s.t("time_left", minutes))
}

func (s *BotService) handleChatMessage(ctx context.Context, c *Client, text string) {
	sessionID, err := s.sessionOf(ctx, c)
	if err != nil {
		s.replyError(c, "send", err)
		return
	}
	if sessionID == "" {
		s.reply(c.chatID, s.t("not_in_chat"))
		return
	}
	if _, err := s.Engine.SendMessage(ctx, sessionID, c.GetUserID(), text); err != nil {
		s.replyError(c, "send", err)
	}
}

// replyError turns an engine error into a localized answer.
func (s *BotService) replyError(c *Client, op string, err error) {
	switch {
	case errors.Is(err, models.ErrRejected), errors.Is(err, models.ErrInvalidInput):
		s.reply(c.chatID, s.t("message_rejected"))
	case errors.Is(err, models.ErrGone):
		c.SetSessionID("")
		s.reply(c.chatID, s.t("session_gone"))
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrForbidden):
		c.SetSessionID("")
		s.reply(c.chatID, s.t("not_in_chat"))
	default:
		s.log.WithError(err).WithFields(logrus.Fields{
			"op":      op,
			"user_id": c.GetUserID(),
		}).Error("Telegram command failed")
		s.reply(c.chatID, s.t("error_generic"))
	}
}

func (s *BotService) reply(chatID int64, text string) {
	if _, err := s.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		s.log.WithError(err).WithField("chat_id", chatID).Error("Failed to send Telegram reply")
	}
}

func (s *BotService) t(key string, args ...interface{}) string {
	if len(args) == 0 {
		return s.Localizer.GetString(s.Language, key)
	}
	return s.Localizer.Format(s.Language, key, args...)
}

func (s *BotService) emotionList() string {
	return strings.Join(s.Engine.Emotions(), ", ")
}
