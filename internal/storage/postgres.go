package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"moodpair/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateSession inserts s unless one of its participants is already in a
// live active session. Advisory locks on both user IDs, taken in a fixed
// order, serialise concurrent creations for the same users.
func (s *Service) CreateSession(ctx context.Context, sess *models.Session) error {
	users := []string{sess.User1ID, sess.User2ID}
	sort.Strings(users)

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range users {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", u).Error; err != nil {
				return err
			}
		}

		var busy int64
		err := tx.Model(&models.Session{}).
			Where("status = ? AND expires_at >= ? AND (user1_id IN ? OR user2_id IN ?)",
				models.SessionActive, sess.CreatedAt, users, users).
			Count(&busy).Error
		if err != nil {
			return err
		}
		if busy > 0 {
			return models.ErrConflict
		}
		return tx.Create(sess).Error
	})
}

// GetSession returns models.ErrNotFound for unknown IDs.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var sess models.Session
	if err := s.DB.WithContext(ctx).Where("session_id = ?", sessionID).First(&sess).Error; err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

// ActiveSessionForUser finds the user's newest live active session.
func (s *Service) ActiveSessionForUser(ctx context.Context, userID string, now time.Time) (*models.Session, error) {
	var sess models.Session
	err := s.DB.WithContext(ctx).
		Where("status = ? AND expires_at >= ? AND (user1_id = ? OR user2_id = ?)",
			models.SessionActive, now, userID, userID).
		Order("created_at DESC").
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// CloseSession is a conditional update: only an active row changes.
func (s *Service) CloseSession(ctx context.Context, sessionID string, status models.SessionStatus, reason models.EndReason, at time.Time) (*models.Session, bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.Session{}).
		Where("session_id = ? AND status = ?", sessionID, models.SessionActive).
		Updates(map[string]interface{}{
			"status":     status,
			"ended_at":   at,
			"end_reason": reason,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}

	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	return sess, res.RowsAffected == 1, nil
}

// ExpireDueSessions flips overdue active sessions in one statement and returns
// the changed rows.
func (s *Service) ExpireDueSessions(ctx context.Context, now time.Time) ([]models.Session, error) {
	var expired []models.Session
	err := s.DB.WithContext(ctx).Model(&expired).
		Clauses(clause.Returning{}).
		Where("status = ? AND expires_at < ?", models.SessionActive, now).
		Updates(map[string]interface{}{
			"status":     models.SessionExpired,
			"ended_at":   now,
			"end_reason": models.EndTimeout,
		}).Error
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// ListSessionsForUser returns the user's sessions, newest first.
func (s *Service) ListSessionsForUser(ctx context.Context, userID string, limit int) ([]models.Session, error) {
	var sessions []models.Session
	err := s.DB.WithContext(ctx).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// AppendMessage stores m; m.ID is filled by the database.
func (s *Service) AppendMessage(ctx context.Context, m *models.Message) error {
	return s.DB.WithContext(ctx).Create(m).Error
}

// History loads the newest limit rows and flips them into replay order.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Service) CountMessages(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Message{}).Where("session_id = ?", sessionID).Count(&n).Error
	return n, err
}

// PurgeMessagesBefore deletes messages created before cutoff.
func (s *Service) PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.Message{})
	return res.RowsAffected, res.Error
}

func (s *Service) SaveFeedback(ctx context.Context, f *models.Feedback) error {
	return s.DB.WithContext(ctx).Create(f).Error
}
