package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moodpair/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Queue is the matching queue: waiting users keyed by user ID with atomic
// claim-and-remove.
type Queue interface {
	// TryMatch atomically claims the oldest unexpired entry with emotionTag
	// whose user is not userID. An empty emotionTag claims across all tags.
	// It returns nil, nil when no candidate exists.
	TryMatch(ctx context.Context, userID, emotionTag string, now time.Time) (*models.QueueEntry, error)
	// Enqueue inserts or replaces the user's entry with a fresh TTL.
	Enqueue(ctx context.Context, userID, emotionTag string, now time.Time, ttl time.Duration) (*models.QueueEntry, error)
	// Requeue restores a claimed entry with its original timestamps.
	Requeue(ctx context.Context, entry *models.QueueEntry) error
	// Remove deletes the user's entry. Absent entries are not an error.
	Remove(ctx context.Context, userID string) error
	// EvictExpired deletes entries with expires_at < now.
	EvictExpired(ctx context.Context, now time.Time) (int, error)
	Len(ctx context.Context) (int, error)
}

// SessionStore owns session records.
type SessionStore interface {
	// CreateSession fails with models.ErrConflict when a participant already
	// has a live active session.
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	// ActiveSessionForUser returns nil, nil when the user has no live session.
	ActiveSessionForUser(ctx context.Context, userID string, now time.Time) (*models.Session, error)
	// CloseSession moves an active session to a terminal status. It reports
	// whether this call made the transition and returns the current record.
	CloseSession(ctx context.Context, sessionID string, status models.SessionStatus, reason models.EndReason, at time.Time) (*models.Session, bool, error)
	// ExpireDueSessions transitions every active session with expires_at < now.
	ExpireDueSessions(ctx context.Context, now time.Time) ([]models.Session, error)
	ListSessionsForUser(ctx context.Context, userID string, limit int) ([]models.Session, error)
}

// MessageLog is the append-only, session scoped message store.
type MessageLog interface {
	AppendMessage(ctx context.Context, m *models.Message) error
	// History returns the newest limit messages in ascending replay order.
	History(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
	CountMessages(ctx context.Context, sessionID string) (int64, error)
	PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// FeedbackStore keeps post-chat reports.
type FeedbackStore interface {
	SaveFeedback(ctx context.Context, f *models.Feedback) error
}

// Broadcaster publishes best-effort notifications.
type Broadcaster interface {
	Publish(ctx context.Context, ev models.ChatEvent) error
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Service is the PostgreSQL implementation of SessionStore, MessageLog and
// FeedbackStore. Redis is optional and only used for health checks.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// Migrate creates or updates every table.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(
		&models.Session{},
		&models.Message{},
		&models.QueueEntry{},
		&models.Feedback{},
	)
}

// Ping checks PostgreSQL and, when configured, Redis.
func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return err
}
