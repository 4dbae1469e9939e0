package handler

import (
	"errors"
	"net/http"

	"moodpair/backend/internal/chathub"
	"moodpair/backend/internal/models"

	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrGone):
		return http.StatusGone
	case errors.Is(err, models.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrTransient):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error": kind, "message": detail}.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.Log.WithError(err).WithField("path", c.FullPath()).Error("Unhandled error")
		message = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   chathub.ErrorKind(err),
		"message": message,
	})
}
