package storage

import (
	"context"
	"errors"
	"time"

	"moodpair/backend/internal/clock"
	"moodpair/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresQueue keeps the matching queue in the match_queue table. A claim
// locks the candidate row with SKIP LOCKED and deletes it in the same
// transaction, so concurrent claimers never share a row.
type PostgresQueue struct {
	db *gorm.DB
}

func NewPostgresQueue(db *gorm.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

func (q *PostgresQueue) TryMatch(ctx context.Context, userID, emotionTag string, now time.Time) (*models.QueueEntry, error) {
	var claimed *models.QueueEntry

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("user_id <> ? AND expires_at >= ?", userID, now)
		if emotionTag != "" {
			query = query.Where("emotion_tag = ?", emotionTag)
		}

		var entry models.QueueEntry
		err := query.Order("created_at ASC").Limit(1).Take(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Where("user_id = ?", entry.UserID).Delete(&models.QueueEntry{}).Error; err != nil {
			return err
		}
		claimed = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (q *PostgresQueue) Enqueue(ctx context.Context, userID, emotionTag string, now time.Time, ttl time.Duration) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{
		UserID:     userID,
		EmotionTag: emotionTag,
		CreatedAt:  now,
		ExpiresAt:  clock.ExpiresAt(now, ttl),
	}
	if err := q.upsert(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (q *PostgresQueue) Requeue(ctx context.Context, entry *models.QueueEntry) error {
	restored := *entry
	return q.upsert(ctx, &restored)
}

func (q *PostgresQueue) upsert(ctx context.Context, entry *models.QueueEntry) error {
	return q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"emotion_tag", "created_at", "expires_at"}),
	}).Create(entry).Error
}

func (q *PostgresQueue) Remove(ctx context.Context, userID string) error {
	return q.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.QueueEntry{}).Error
}

func (q *PostgresQueue) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	res := q.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.QueueEntry{})
	return int(res.RowsAffected), res.Error
}

func (q *PostgresQueue) Len(ctx context.Context) (int, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&models.QueueEntry{}).Count(&n).Error
	return int(n), err
}
