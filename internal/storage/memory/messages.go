package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"moodpair/backend/internal/models"
)

// MessageLog is an append-only per-session log.
type MessageLog struct {
	mu       sync.RWMutex
	sessions map[string][]models.Message
	nextID   uint
}

func NewMessageLog() *MessageLog {
	return &MessageLog{sessions: make(map[string][]models.Message)}
}

func (l *MessageLog) AppendMessage(_ context.Context, m *models.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	m.ID = l.nextID
	stored := *m
	stored.FlaggedTerms = append([]string(nil), m.FlaggedTerms...)
	l.sessions[m.SessionID] = append(l.sessions[m.SessionID], stored)
	return nil
}

func (l *MessageLog) History(_ context.Context, sessionID string, limit int) ([]models.Message, error) {
	l.mu.RLock()
	msgs := append([]models.Message(nil), l.sessions[sessionID]...)
	l.mu.RUnlock()

	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (l *MessageLog) CountMessages(_ context.Context, sessionID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.sessions[sessionID])), nil
}

func (l *MessageLog) PurgeMessagesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var purged int64
	for id, msgs := range l.sessions {
		kept := msgs[:0]
		for _, m := range msgs {
			if m.CreatedAt.Before(cutoff) {
				purged++
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			delete(l.sessions, id)
			continue
		}
		l.sessions[id] = kept
	}
	return purged, nil
}

// FeedbackStore keeps reports in a slice.
type FeedbackStore struct {
	mu      sync.Mutex
	reports []models.Feedback
}

func NewFeedbackStore() *FeedbackStore {
	return &FeedbackStore{}
}

func (f *FeedbackStore) SaveFeedback(_ context.Context, fb *models.Feedback) error {
	f.mu.Lock()
	f.reports = append(f.reports, *fb)
	f.mu.Unlock()
	return nil
}

// Reports returns a copy of every saved report.
func (f *FeedbackStore) Reports() []models.Feedback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Feedback(nil), f.reports...)
}
