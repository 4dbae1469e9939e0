package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"moodpair/backend/internal/clock"
	"moodpair/backend/internal/models"
)

// SessionStore keeps sessions in a map. Records are copied in and out.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]models.Session)}
}

func (s *SessionStore) CreateSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.SessionID]; exists {
		return models.ErrConflict
	}
	for _, existing := range s.sessions {
		if existing.Status != models.SessionActive || clock.Expired(existing.ExpiresAt, sess.CreatedAt) {
			continue
		}
		if existing.HasParticipant(sess.User1ID) || existing.HasParticipant(sess.User2ID) {
			return models.ErrConflict
		}
	}
	s.sessions[sess.SessionID] = *sess
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &sess, nil
}

func (s *SessionStore) ActiveSessionForUser(_ context.Context, userID string, now time.Time) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.Session
	for _, sess := range s.sessions {
		if sess.Status != models.SessionActive || clock.Expired(sess.ExpiresAt, now) || !sess.HasParticipant(userID) {
			continue
		}
		if found == nil || sess.CreatedAt.After(found.CreatedAt) {
			match := sess
			found = &match
		}
	}
	return found, nil
}

func (s *SessionStore) CloseSession(_ context.Context, sessionID string, status models.SessionStatus, reason models.EndReason, at time.Time) (*models.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false, models.ErrNotFound
	}
	if sess.Status != models.SessionActive {
		return &sess, false, nil
	}

	ended := at
	sess.Status = status
	sess.EndReason = reason
	sess.EndedAt = &ended
	s.sessions[sessionID] = sess
	return &sess, true, nil
}

func (s *SessionStore) ExpireDueSessions(_ context.Context, now time.Time) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []models.Session
	for id, sess := range s.sessions {
		if sess.Status != models.SessionActive || !sess.ExpiresAt.Before(now) {
			continue
		}
		ended := now
		sess.Status = models.SessionExpired
		sess.EndReason = models.EndTimeout
		sess.EndedAt = &ended
		s.sessions[id] = sess
		expired = append(expired, sess)
	}
	return expired, nil
}

func (s *SessionStore) ListSessionsForUser(_ context.Context, userID string, limit int) ([]models.Session, error) {
	s.mu.RLock()
	var list []models.Session
	for _, sess := range s.sessions {
		if sess.HasParticipant(userID) {
			list = append(list, sess)
		}
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}
