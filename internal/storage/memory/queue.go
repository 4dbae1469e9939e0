// Package memory holds in-process implementations of the storage ports, used
// for single-instance deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"moodpair/backend/internal/clock"
	"moodpair/backend/internal/models"
)

type queued struct {
	entry models.QueueEntry
	seq   uint64
}

// Queue is a mutex guarded matching queue. seq breaks created_at ties in
// insertion order.
type Queue struct {
	mu      sync.Mutex
	entries map[string]queued
	seq     uint64
}

func NewQueue() *Queue {
	return &Queue{entries: make(map[string]queued)}
}

func (q *Queue) TryMatch(_ context.Context, userID, emotionTag string, now time.Time) (*models.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *queued
	for id, e := range q.entries {
		if id == userID || clock.Expired(e.entry.ExpiresAt, now) {
			continue
		}
		if emotionTag != "" && e.entry.EmotionTag != emotionTag {
			continue
		}
		if best == nil || older(e, *best) {
			candidate := e
			best = &candidate
		}
	}
	if best == nil {
		return nil, nil
	}
	delete(q.entries, best.entry.UserID)
	claimed := best.entry
	return &claimed, nil
}

func older(a, b queued) bool {
	if a.entry.CreatedAt.Equal(b.entry.CreatedAt) {
		return a.seq < b.seq
	}
	return a.entry.CreatedAt.Before(b.entry.CreatedAt)
}

func (q *Queue) Enqueue(_ context.Context, userID, emotionTag string, now time.Time, ttl time.Duration) (*models.QueueEntry, error) {
	entry := models.QueueEntry{
		UserID:     userID,
		EmotionTag: emotionTag,
		CreatedAt:  now,
		ExpiresAt:  clock.ExpiresAt(now, ttl),
	}

	q.mu.Lock()
	q.seq++
	q.entries[userID] = queued{entry: entry, seq: q.seq}
	q.mu.Unlock()

	return &entry, nil
}

func (q *Queue) Requeue(_ context.Context, entry *models.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.entries[entry.UserID] = queued{entry: *entry, seq: q.seq}
	return nil
}

func (q *Queue) Remove(_ context.Context, userID string) error {
	q.mu.Lock()
	delete(q.entries, userID)
	q.mu.Unlock()
	return nil
}

func (q *Queue) EvictExpired(_ context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := 0
	for id, e := range q.entries {
		if e.entry.ExpiresAt.Before(now) {
			delete(q.entries, id)
			evicted++
		}
	}
	return evicted, nil
}

func (q *Queue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}
