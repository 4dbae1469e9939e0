package config_test

import (
	"testing"
	"time"

	"moodpair/backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, config.BackendMemory, cfg.StoreBackend)
	assert.Equal(t, config.BackendMemory, cfg.QueueBackend)
	assert.Equal(t, 5*time.Minute, cfg.QueueTTL)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.MessageRetention)
	assert.Equal(t, 500, cfg.MaxMessageLength)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, config.MatchSameTag, cfg.MatchPolicy)
	assert.Equal(t, "reject", cfg.FilterPolicy)
	assert.Equal(t, config.DefaultEmotions, cfg.Emotions)
	assert.False(t, cfg.UsesRedis())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MOODPAIR_QUEUE_BACKEND", "redis")
	t.Setenv("MOODPAIR_SESSION_TTL", "10m")
	t.Setenv("MOODPAIR_MATCH_POLICY", "any_tag")
	t.Setenv("MOODPAIR_EMOTIONS", "calm,tired")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.BackendRedis, cfg.QueueBackend)
	assert.Equal(t, 10*time.Minute, cfg.SessionTTL)
	assert.Equal(t, config.MatchAnyTag, cfg.MatchPolicy)
	assert.Equal(t, []string{"calm", "tired"}, cfg.Emotions)
	assert.True(t, cfg.UsesRedis())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad store", "MOODPAIR_STORE_BACKEND", "mongo"},
		{"bad queue", "MOODPAIR_QUEUE_BACKEND", "kafka"},
		{"bad match policy", "MOODPAIR_MATCH_POLICY", "random"},
		{"bad filter policy", "MOODPAIR_FILTER_POLICY", "shadow"},
		{"postgres without dsn", "MOODPAIR_STORE_BACKEND", "postgres"},
		{"unparsable duration", "MOODPAIR_QUEUE_TTL", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
