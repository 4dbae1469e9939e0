package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"moodpair/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type matchRequest struct {
	UserID  string `json:"userId"`
	Emotion string `json:"emotion"`
}

type matchResponse struct {
	Matched   bool      `json:"matched"`
	Waiting   bool      `json:"waiting"`
	SessionID string    `json:"sessionId,omitempty"`
	PartnerID string    `json:"partnerId,omitempty"`
	Emotion   string    `json:"emotion"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type sendRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Message   string `json:"message"`
}

type historyMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	IsSelf    bool      `json:"isSelf"`
}

type endRequest struct {
	Reason string `json:"reason"`
}

type feedbackRequest struct {
	UserID   string `json:"userId"`
	Feeling  string `json:"feeling"`
	Comments string `json:"comments"`
}

type sessionSummary struct {
	SessionID string               `json:"sessionId"`
	PartnerID string               `json:"partnerId"`
	Emotion   string               `json:"emotion"`
	Status    models.SessionStatus `json:"status"`
	CreatedAt time.Time            `json:"createdAt"`
	ExpiresAt time.Time            `json:"expiresAt"`
	EndedAt   *time.Time           `json:"endedAt,omitempty"`
	EndReason models.EndReason     `json:"endReason,omitempty"`
}

// bindJSON decodes the body; malformed JSON is invalid input.
func (h *Handler) bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.writeError(c, fmt.Errorf("%w: malformed body: %v", models.ErrInvalidInput, err))
		return false
	}
	return true
}

func (h *Handler) queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		h.writeError(c, fmt.Errorf("%w: limit must be a non-negative integer", models.ErrInvalidInput))
		return 0, false
	}
	return limit, true
}

// RequestMatch handles POST /api/match.
func (h *Handler) RequestMatch(c *gin.Context) {
	var req matchRequest
	if !h.bindJSON(c, &req) {
		return
	}

	res, err := h.Engine.RequestMatch(c.Request.Context(), req.UserID, req.Emotion)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := matchResponse{
		Matched:   res.Matched,
		Waiting:   res.Waiting,
		PartnerID: res.PartnerID,
		Emotion:   res.EmotionTag,
		ExpiresAt: res.ExpiresAt,
	}
	if res.Session != nil {
		out.SessionID = res.Session.SessionID
	}
	c.JSON(http.StatusOK, out)
}

// CancelMatch handles DELETE /api/match?userId=.
func (h *Handler) CancelMatch(c *gin.Context) {
	if err := h.Engine.CancelMatch(c.Request.Context(), c.Query("userId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SendMessage handles POST /api/chat.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendRequest
	if !h.bindJSON(c, &req) {
		return
	}

	res, err := h.Engine.SendMessage(c.Request.Context(), req.SessionID, req.UserID, req.Message)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"messageId": res.MessageID,
		"timestamp": res.Timestamp,
		"content":   res.Content,
		"flagged":   res.Flagged,
	})
}

// FetchHistory handles GET /api/chat?sessionId=&userId=&limit=.
func (h *Handler) FetchHistory(c *gin.Context) {
	limit, ok := h.queryLimit(c)
	if !ok {
		return
	}

	hist, err := h.Engine.FetchHistory(c.Request.Context(), c.Query("sessionId"), c.Query("userId"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	messages := make([]historyMessage, 0, len(hist.Messages))
	for _, m := range hist.Messages {
		messages = append(messages, historyMessage{
			ID:        m.MessageID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			IsSelf:    m.IsSelf,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":      messages,
		"total":         len(messages),
		"sessionStatus": hist.Status,
		"expiresAt":     hist.ExpiresAt,
	})
}

// EndConversation handles POST /api/sessions/:id/end. An empty body ends
// with reason manual.
func (h *Handler) EndConversation(c *gin.Context) {
	var req endRequest
	if c.Request.ContentLength != 0 && !h.bindJSON(c, &req) {
		return
	}

	sess, err := h.Engine.EndConversation(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp := gin.H{"success": true}
	if sess != nil {
		resp["status"] = sess.Status
	}
	c.JSON(http.StatusOK, resp)
}

// SessionStats handles GET /api/sessions/:id?userId=.
func (h *Handler) SessionStats(c *gin.Context) {
	stats, err := h.Engine.SessionStats(c.Request.Context(), c.Param("id"), c.Query("userId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":    stats.SessionID,
		"emotion":      stats.EmotionTag,
		"status":       stats.Status,
		"partnerId":    stats.PartnerID,
		"messageCount": stats.MessageCount,
		"timeLeft":     stats.TimeLeft,
		"createdAt":    stats.CreatedAt,
		"expiresAt":    stats.ExpiresAt,
		"endedAt":      stats.EndedAt,
		"endReason":    stats.EndReason,
	})
}

// SubmitFeedback handles POST /api/sessions/:id/feedback.
func (h *Handler) SubmitFeedback(c *gin.Context) {
	var req feedbackRequest
	if !h.bindJSON(c, &req) {
		return
	}

	id, err := h.Engine.SubmitFeedback(c.Request.Context(), c.Param("id"), req.UserID, req.Feeling, req.Comments)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reportId": id})
}

// ListSessions handles GET /api/users/:id/sessions?limit=.
func (h *Handler) ListSessions(c *gin.Context) {
	limit, ok := h.queryLimit(c)
	if !ok {
		return
	}

	userID := c.Param("id")
	list, err := h.Engine.ListSessions(c.Request.Context(), userID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]sessionSummary, 0, len(list))
	for i := range list {
		s := &list[i]
		out = append(out, sessionSummary{
			SessionID: s.SessionID,
			PartnerID: s.PartnerOf(userID),
			Emotion:   s.EmotionTag,
			Status:    s.Status,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			EndedAt:   s.EndedAt,
			EndReason: s.EndReason,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// Cleanup handles DELETE /api/messages: one maintenance sweep.
func (h *Handler) Cleanup(c *gin.Context) {
	report, err := h.Engine.MaintenanceSweep(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"cleaned": gin.H{
			"queue":    report.QueueEvicted,
			"sessions": report.SessionsExpired,
			"messages": report.MessagesPurged,
		},
	})
}

// Health handles GET /api/health.
func (h *Handler) Health(c *gin.Context) {
	report := h.Engine.Health(c.Request.Context())

	status, code := "ok", http.StatusOK
	if !report.Healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"components": report.Components,
		"queueSize":  report.QueueSize,
		"emotions":   h.Engine.Emotions(),
		"policy":     h.Engine.Options().MatchPolicy,
		"timestamp":  time.Now().UTC(),
	})
}
