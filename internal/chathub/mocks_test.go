package chathub_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"moodpair/backend/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockClient is a Client whose pumps are not needed for testing.
type MockClient struct {
	userID string

	mu          sync.Mutex
	sessionID   string
	closed      bool
	RecvChannel chan models.ChatEvent
}

func newMockClient(userID string, buffer int) *MockClient {
	return &MockClient{
		userID:      userID,
		RecvChannel: make(chan models.ChatEvent, buffer),
	}
}

func (c *MockClient) GetUserID() string { return c.userID }

func (c *MockClient) GetSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *MockClient) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

func (c *MockClient) GetSendChannel() chan<- models.ChatEvent { return c.RecvChannel }

func (c *MockClient) Run() {}

func (c *MockClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *MockClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// recordingBroadcaster keeps every published event.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []models.ChatEvent
}

func (b *recordingBroadcaster) Publish(_ context.Context, ev models.ChatEvent) error {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	return nil
}

func (b *recordingBroadcaster) ofType(kind string) []models.ChatEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.ChatEvent
	for _, ev := range b.events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

type failingBroadcaster struct{}

func (failingBroadcaster) Publish(context.Context, models.ChatEvent) error {
	return errors.New("redis: connection refused")
}

// MockSessionStore is a testify mock of storage.SessionStore.
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) CreateSession(ctx context.Context, s *models.Session) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockSessionStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	args := m.Called(sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockSessionStore) ActiveSessionForUser(ctx context.Context, userID string, now time.Time) (*models.Session, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockSessionStore) CloseSession(ctx context.Context, sessionID string, status models.SessionStatus, reason models.EndReason, at time.Time) (*models.Session, bool, error) {
	args := m.Called(sessionID, status, reason)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Session), args.Bool(1), args.Error(2)
}

func (m *MockSessionStore) ExpireDueSessions(ctx context.Context, now time.Time) ([]models.Session, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Session), args.Error(1)
}

func (m *MockSessionStore) ListSessionsForUser(ctx context.Context, userID string, limit int) ([]models.Session, error) {
	args := m.Called(userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Session), args.Error(1)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }
