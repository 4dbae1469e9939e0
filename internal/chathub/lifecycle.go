package chathub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moodpair/backend/internal/clock"
	"moodpair/backend/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// validateMembership loads the session and checks userID takes part in it.
func (e *Engine) validateMembership(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	sess, err := e.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("load session", err)
	}
	if !sess.HasParticipant(userID) {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrForbidden)
	}
	return sess, nil
}

// checkLiveness returns ErrGone for terminal sessions. An active session past
// its expiry is moved to expired on the spot so no caller ever treats it as
// live, whether or not the sweep has run.
func (e *Engine) checkLiveness(ctx context.Context, sess *models.Session, now time.Time) (*models.Session, error) {
	if sess.Status.IsTerminal() {
		return sess, fmt.Errorf("session %s is %s: %w", sess.SessionID, sess.Status, models.ErrGone)
	}
	if !clock.Expired(sess.ExpiresAt, now) {
		return sess, nil
	}

	updated, changed, err := e.sessions.CloseSession(ctx, sess.SessionID, models.SessionExpired, models.EndTimeout, now)
	if err != nil {
		return nil, storageErr("expire session", err)
	}
	if changed {
		e.announceEnd(ctx, updated, now)
	}
	return updated, fmt.Errorf("session %s is %s: %w", updated.SessionID, updated.Status, models.ErrGone)
}

// ActiveSession returns the user's live session, or nil.
func (e *Engine) ActiveSession(ctx context.Context, userID string) (sess *models.Session, err error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	ctx, end := e.begin(ctx, "ActiveSession")
	defer end(&err)

	sess, err = e.sessions.ActiveSessionForUser(ctx, userID, e.clock.Now())
	if err != nil {
		return nil, storageErr("active session", err)
	}
	return sess, nil
}

// EndConversation closes the session with reason (manual when empty).
// Ending a closed session returns its current state; ending an unknown one is
// acknowledged with a nil session.
func (e *Engine) EndConversation(ctx context.Context, sessionID, reason string) (sess *models.Session, err error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	endReason, ok := models.ParseEndReason(reason)
	if !ok {
		return nil, invalid("unknown end reason %q", reason)
	}

	ctx, end := e.begin(ctx, "EndConversation", attribute.String("reason", string(endReason)))
	defer end(&err)
	now := e.clock.Now()

	current, err := e.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("end conversation", err)
	}
	if current.Status.IsTerminal() {
		return current, nil
	}

	status := models.SessionEnded
	if clock.Expired(current.ExpiresAt, now) {
		status, endReason = models.SessionExpired, models.EndTimeout
	}
	updated, changed, err := e.sessions.CloseSession(ctx, sessionID, status, endReason, now)
	if err != nil {
		return nil, storageErr("end conversation", err)
	}

	for _, id := range updated.Participants() {
		if err := e.queue.Remove(ctx, id); err != nil {
			e.log.WithError(err).WithField("user_id", id).Warn("Failed to remove user from queue")
		}
	}
	if changed {
		e.announceEnd(ctx, updated, now)
	}
	return updated, nil
}

func (e *Engine) announceEnd(ctx context.Context, sess *models.Session, now time.Time) {
	e.log.WithFields(logrus.Fields{
		"session_id": sess.SessionID,
		"status":     sess.Status,
		"reason":     sess.EndReason,
	}).Info("Session closed")

	e.publish(ctx, models.ChatEvent{
		Type:       models.EventSessionEnded,
		SessionID:  sess.SessionID,
		Reason:     sess.EndReason,
		EmotionTag: sess.EmotionTag,
		Content:    e.text("session_ended_" + string(sess.EndReason)),
		ExpiresAt:  sess.ExpiresAt,
		Timestamp:  now,
		Recipients: sess.Participants(),
	})
}
