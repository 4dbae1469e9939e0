package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"moodpair/backend/internal/logger"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWithOutput(&buf, "debug", "json")

	l.WithField("session_id", "s1").Info("session created")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "session created", line["msg"])
	assert.Equal(t, "s1", line["session_id"])
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	l := logger.NewWithOutput(&bytes.Buffer{}, "chatty", "text")
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}
