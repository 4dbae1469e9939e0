package handler

import (
	"fmt"
	"net/http"
	"strings"

	"moodpair/backend/internal/chathub"
	"moodpair/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients are served from other origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// identify resolves the caller from ?token=, a Bearer header, or a plain
// ?userId=. Identities are self-asserted; the token only proves that this
// server issued the ID.
func (h *Handler) identify(c *gin.Context) (string, error) {
	token := c.Query("token")
	if token == "" {
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if token != "" {
		if h.Tokens == nil {
			return "", fmt.Errorf("%w: tokens are not enabled", models.ErrUnauthorized)
		}
		return h.Tokens.validateAndGetAnonID(token)
	}
	if userID := c.Query("userId"); userID != "" {
		return userID, nil
	}
	return "", fmt.Errorf("%w: token or userId required", models.ErrUnauthorized)
}

// ServeWebSocket upgrades the connection and registers it with the hub.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	userID, err := h.identify(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	// Bind reconnecting users to the session they are already in.
	active, err := h.Engine.ActiveSession(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.WithError(err).Warn("Failed to upgrade connection")
		return
	}

	client := chathub.NewWebSocketClient(userID, conn, h.Hub, h.Engine, h.Log)
	if active != nil {
		client.SetSessionID(active.SessionID)
	}
	h.Hub.Register(client)
	client.Run()
}
