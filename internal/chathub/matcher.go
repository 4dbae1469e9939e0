package chathub

import (
	"context"
	"errors"
	"time"

	"moodpair/backend/internal/clock"
	"moodpair/backend/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// maxClaimAttempts bounds how many stale candidates one request may skip
// before it falls back to waiting.
const maxClaimAttempts = 3

// errCandidateBusy means the claimed user turned out to be in a live session.
var errCandidateBusy = errors.New("candidate already in a session")

// MatchResult is the outcome of RequestMatch.
type MatchResult struct {
	Matched    bool
	Waiting    bool
	Session    *models.Session
	PartnerID  string
	EmotionTag string
	// ExpiresAt is the session expiry when matched, the queue entry expiry
	// when waiting.
	ExpiresAt time.Time
}

func matched(sess *models.Session, userID string) *MatchResult {
	return &MatchResult{
		Matched:    true,
		Session:    sess,
		PartnerID:  sess.PartnerOf(userID),
		EmotionTag: sess.EmotionTag,
		ExpiresAt:  sess.ExpiresAt,
	}
}

// RequestMatch pairs userID with the oldest user waiting with the same tag,
// or queues userID when nobody is waiting. A user already in a live session
// gets that session back.
func (e *Engine) RequestMatch(ctx context.Context, userID, emotionTag string) (res *MatchResult, err error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	tag, err := e.emotionTag(emotionTag)
	if err != nil {
		return nil, err
	}

	ctx, end := e.begin(ctx, "RequestMatch", attribute.String("emotion", tag))
	defer end(&err)
	now := e.clock.Now()

	active, err := e.sessions.ActiveSessionForUser(ctx, userID, now)
	if err != nil {
		return nil, storageErr("request match", err)
	}
	if active != nil {
		return matched(active, userID), nil
	}

	if _, err := e.queue.EvictExpired(ctx, now); err != nil {
		return nil, storageErr("evict queue", err)
	}

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		candidate, err := e.claim(ctx, userID, tag, now)
		if err != nil {
			return nil, storageErr("claim", err)
		}
		if candidate == nil {
			break
		}

		res, err := e.pair(ctx, userID, tag, candidate, now)
		if errors.Is(err, errCandidateBusy) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	entry, err := e.queue.Enqueue(ctx, userID, tag, now, e.opts.QueueTTL)
	if err != nil {
		return nil, storageErr("enqueue", err)
	}
	e.log.WithFields(logrus.Fields{"user_id": userID, "emotion": tag}).Debug("User queued")

	return &MatchResult{
		Waiting:    true,
		EmotionTag: tag,
		ExpiresAt:  entry.ExpiresAt,
	}, nil
}

func (e *Engine) claim(ctx context.Context, userID, tag string, now time.Time) (*models.QueueEntry, error) {
	candidate, err := e.queue.TryMatch(ctx, userID, tag, now)
	if err != nil || candidate != nil || e.opts.MatchPolicy != MatchAnyTag {
		return candidate, err
	}
	return e.queue.TryMatch(ctx, userID, "", now)
}

// pair turns a claimed entry into a session. Whatever happens, the claimed
// entry is either consumed by a session, restored to the queue, or dropped
// because its owner is already chatting.
func (e *Engine) pair(ctx context.Context, userID, tag string, candidate *models.QueueEntry, now time.Time) (*MatchResult, error) {
	sess := &models.Session{
		SessionID:  uuid.NewString(),
		User1ID:    userID,
		User2ID:    candidate.UserID,
		EmotionTag: tag,
		Status:     models.SessionActive,
		CreatedAt:  now,
		ExpiresAt:  clock.ExpiresAt(now, e.opts.SessionTTL),
	}

	err := e.sessions.CreateSession(ctx, sess)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrConflict):
		return e.resolveConflict(ctx, userID, candidate, now)
	default:
		e.requeue(ctx, candidate)
		return nil, storageErr("create session", err)
	}

	// The requester may still hold an older entry of their own.
	for _, id := range sess.Participants() {
		if err := e.queue.Remove(ctx, id); err != nil {
			e.log.WithError(err).WithField("user_id", id).Warn("Failed to remove matched user from queue")
		}
	}

	e.log.WithFields(logrus.Fields{
		"session_id": sess.SessionID,
		"emotion":    tag,
	}).Info("Match found")

	e.publish(ctx, models.ChatEvent{
		Type:       models.EventMatchFound,
		SessionID:  sess.SessionID,
		EmotionTag: sess.EmotionTag,
		Content:    e.text("match_found"),
		ExpiresAt:  sess.ExpiresAt,
		Timestamp:  now,
		Recipients: sess.Participants(),
	})
	return matched(sess, userID), nil
}

// resolveConflict runs after CreateSession refused the pair. If the requester
// is the busy one (a concurrent request of theirs won) the candidate goes
// back to the queue and the requester gets their session. Otherwise the
// candidate is busy and their stale entry stays consumed.
func (e *Engine) resolveConflict(ctx context.Context, userID string, candidate *models.QueueEntry, now time.Time) (*MatchResult, error) {
	mine, err := e.sessions.ActiveSessionForUser(ctx, userID, now)
	if err != nil {
		e.requeue(ctx, candidate)
		return nil, storageErr("create session", err)
	}
	if mine != nil {
		e.requeue(ctx, candidate)
		return matched(mine, userID), nil
	}

	e.log.WithField("user_id", candidate.UserID).Debug("Dropped queue entry of a user already in a session")
	return nil, errCandidateBusy
}

// requeue restores a claimed entry. It runs on its own deadline so that an
// operation that already timed out still gives the candidate their place back.
func (e *Engine) requeue(ctx context.Context, entry *models.QueueEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.OpTimeout)
	defer cancel()
	if err := e.queue.Requeue(ctx, entry); err != nil {
		e.log.WithError(err).WithField("user_id", entry.UserID).Error("Failed to requeue claimed entry")
	}
}

// CancelMatch removes userID from the queue. Cancelling twice is fine.
func (e *Engine) CancelMatch(ctx context.Context, userID string) (err error) {
	if err := validateUserID(userID); err != nil {
		return err
	}
	ctx, end := e.begin(ctx, "CancelMatch")
	defer end(&err)

	if err := e.queue.Remove(ctx, userID); err != nil {
		return storageErr("cancel match", err)
	}
	return nil
}
