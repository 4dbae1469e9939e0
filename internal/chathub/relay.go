package chathub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"moodpair/backend/internal/clock"
	"moodpair/backend/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	maxHistoryLimit     = 200
	defaultSessionLimit = 10
	maxSessionLimit     = 100
)

// SendResult describes an accepted message.
type SendResult struct {
	MessageID string
	Timestamp time.Time
	// Content is what was stored and delivered; it differs from the input
	// only under the redact policy.
	Content string
	Flagged bool
}

// SendMessage stores text in the session and pushes it to the participants.
// The message is durable once SendMessage returns; push is best-effort.
func (e *Engine) SendMessage(ctx context.Context, sessionID, senderID, text string) (res *SendResult, err error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := validateUserID(senderID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, invalid("message is empty")
	}

	ctx, end := e.begin(ctx, "SendMessage")
	defer end(&err)
	now := e.clock.Now()

	sess, err := e.validateMembership(ctx, sessionID, senderID)
	if err != nil {
		return nil, err
	}
	if sess, err = e.checkLiveness(ctx, sess, now); err != nil {
		return nil, err
	}

	verdict := e.filter.Check(text)
	if !verdict.Accepted {
		e.log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"reason":     verdict.Reason,
			"terms":      verdict.Terms,
		}).Info("Message rejected")
		return nil, fmt.Errorf("send message: %w: %s", models.ErrRejected, verdict.Reason)
	}

	msg := &models.Message{
		MessageID:       uuid.NewString(),
		SessionID:       sessionID,
		SenderID:        senderID,
		Content:         verdict.Sanitized,
		OriginalContent: text,
		FlaggedTerms:    verdict.Terms,
		CreatedAt:       now,
	}
	if err := e.messages.AppendMessage(ctx, msg); err != nil {
		return nil, storageErr("append message", err)
	}

	e.publish(ctx, models.ChatEvent{
		Type:       models.EventMessage,
		SessionID:  sessionID,
		MessageID:  msg.MessageID,
		SenderID:   senderID,
		Content:    msg.Content,
		Timestamp:  now,
		Recipients: sess.Participants(),
	})

	return &SendResult{
		MessageID: msg.MessageID,
		Timestamp: now,
		Content:   msg.Content,
		Flagged:   verdict.Flagged,
	}, nil
}

// HistoryMessage is a message as seen by one participant.
type HistoryMessage struct {
	MessageID string
	SenderID  string
	Content   string
	CreatedAt time.Time
	IsSelf    bool
}

// History is the replay of a session for one participant.
type History struct {
	Messages  []HistoryMessage
	Status    models.SessionStatus
	ExpiresAt time.Time
}

// FetchHistory returns the newest limit messages in ascending order. Closed
// sessions stay readable by their participants; an unknown session is
// reported as Forbidden.
func (e *Engine) FetchHistory(ctx context.Context, sessionID, userID string, limit int) (res *History, err error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.opts.HistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	ctx, end := e.begin(ctx, "FetchHistory")
	defer end(&err)

	sess, err := e.validateMembership(ctx, sessionID, userID)
	if errors.Is(err, models.ErrNotFound) {
		// Outsiders cannot tell a missing session from someone else's.
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrForbidden)
	}
	if err != nil {
		return nil, err
	}
	if sess, err = e.liveOrClosed(ctx, sess); err != nil {
		return nil, err
	}

	msgs, err := e.messages.History(ctx, sessionID, limit)
	if err != nil {
		return nil, storageErr("load history", err)
	}

	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryMessage{
			MessageID: m.MessageID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			IsSelf:    m.SenderID == userID,
		})
	}
	return &History{
		Messages:  out,
		Status:    sess.Status,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// liveOrClosed applies the lazy expiry but lets closed sessions through.
func (e *Engine) liveOrClosed(ctx context.Context, sess *models.Session) (*models.Session, error) {
	updated, err := e.checkLiveness(ctx, sess, e.clock.Now())
	if err != nil && !errors.Is(err, models.ErrGone) {
		return nil, err
	}
	return updated, nil
}

// SessionStats summarises a session for one participant.
type SessionStats struct {
	SessionID    string
	EmotionTag   string
	Status       models.SessionStatus
	PartnerID    string
	MessageCount int64
	// TimeLeft is in whole seconds, zero once closed.
	TimeLeft  int64
	CreatedAt time.Time
	ExpiresAt time.Time
	EndedAt   *time.Time
	EndReason models.EndReason
}

// SessionStats reports message count, time left and status to a participant.
func (e *Engine) SessionStats(ctx context.Context, sessionID, userID string) (res *SessionStats, err error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	ctx, end := e.begin(ctx, "SessionStats")
	defer end(&err)

	sess, err := e.validateMembership(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess, err = e.liveOrClosed(ctx, sess); err != nil {
		return nil, err
	}

	count, err := e.messages.CountMessages(ctx, sessionID)
	if err != nil {
		return nil, storageErr("count messages", err)
	}

	stats := &SessionStats{
		SessionID:    sess.SessionID,
		EmotionTag:   sess.EmotionTag,
		Status:       sess.Status,
		PartnerID:    sess.PartnerOf(userID),
		MessageCount: count,
		CreatedAt:    sess.CreatedAt,
		ExpiresAt:    sess.ExpiresAt,
		EndedAt:      sess.EndedAt,
		EndReason:    sess.EndReason,
	}
	if sess.Status == models.SessionActive {
		stats.TimeLeft = clock.Remaining(sess.ExpiresAt, e.clock.Now())
	}
	return stats, nil
}

// SubmitFeedback records how a participant felt about the conversation.
func (e *Engine) SubmitFeedback(ctx context.Context, sessionID, userID, feeling, comments string) (reportID string, err error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", err
	}
	if err := validateUserID(userID); err != nil {
		return "", err
	}
	if err := validateID("feeling", feeling, maxFeelingLen); err != nil {
		return "", err
	}
	if utf8.RuneCountInString(comments) > maxCommentsLen {
		return "", invalid("comments are longer than %d characters", maxCommentsLen)
	}

	ctx, end := e.begin(ctx, "SubmitFeedback")
	defer end(&err)

	if _, err := e.validateMembership(ctx, sessionID, userID); err != nil {
		return "", err
	}

	report := &models.Feedback{
		ReportID:   uuid.NewString(),
		SessionID:  sessionID,
		ReporterID: userID,
		Feeling:    strings.TrimSpace(feeling),
		Comments:   comments,
		CreatedAt:  e.clock.Now(),
	}
	if err := e.feedback.SaveFeedback(ctx, report); err != nil {
		return "", storageErr("save feedback", err)
	}
	return report.ReportID, nil
}

// ListSessions returns the user's sessions, newest first.
func (e *Engine) ListSessions(ctx context.Context, userID string, limit int) (list []models.Session, err error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSessionLimit
	}
	if limit > maxSessionLimit {
		limit = maxSessionLimit
	}

	ctx, end := e.begin(ctx, "ListSessions")
	defer end(&err)

	list, err = e.sessions.ListSessionsForUser(ctx, userID, limit)
	if err != nil {
		return nil, storageErr("list sessions", err)
	}
	return list, nil
}
