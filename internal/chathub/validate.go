package chathub

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"moodpair/backend/internal/models"
)

const (
	maxUserIDLen    = 128
	maxSessionIDLen = 64
	maxTagLen       = 32
	maxFeelingLen   = 32
	maxCommentsLen  = 500
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func validateID(field, value string, max int) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s is required", field)
	}
	if utf8.RuneCountInString(value) > max {
		return invalid("%s is longer than %d characters", field, max)
	}
	return nil
}

func validateUserID(userID string) error {
	return validateID("userId", userID, maxUserIDLen)
}

func validateSessionID(sessionID string) error {
	return validateID("sessionId", sessionID, maxSessionIDLen)
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// emotionTag normalises and checks a requested tag.
func (e *Engine) emotionTag(raw string) (string, error) {
	tag := normalizeTag(raw)
	if err := validateID("emotion", tag, maxTagLen); err != nil {
		return "", err
	}
	if e.emotions != nil {
		if _, ok := e.emotions[tag]; !ok {
			return "", invalid("unknown emotion %q", raw)
		}
	}
	return tag, nil
}

// Emotions lists the accepted tags in configuration order.
func (e *Engine) Emotions() []string {
	return append([]string(nil), e.opts.Emotions...)
}
