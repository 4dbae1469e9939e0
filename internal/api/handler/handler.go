package handler

import (
	"net/http"

	"moodpair/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler exposes the engine over HTTP and WebSocket.
type Handler struct {
	Engine *chathub.Engine
	Hub    *chathub.Hub
	Tokens *TokenIssuer
	Log    logrus.FieldLogger

	adminKey string
}

func NewHandler(engine *chathub.Engine, hub *chathub.Hub, tokens *TokenIssuer, adminKey string, log logrus.FieldLogger) *Handler {
	return &Handler{
		Engine:   engine,
		Hub:      hub,
		Tokens:   tokens,
		Log:      log,
		adminKey: adminKey,
	}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger(), cors())
	h.Register(r)
	return r
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/anonid", h.GetAnonID)
	r.GET("/ws", h.ServeWebSocket)

	api := r.Group("/api")
	api.POST("/match", h.RequestMatch)
	api.DELETE("/match", h.CancelMatch)
	api.POST("/chat", h.SendMessage)
	api.GET("/chat", h.FetchHistory)
	api.POST("/sessions/:id/end", h.EndConversation)
	api.GET("/sessions/:id", h.SessionStats)
	api.POST("/sessions/:id/feedback", h.SubmitFeedback)
	api.GET("/users/:id/sessions", h.ListSessions)
	api.DELETE("/messages", h.requireAdmin(), h.Cleanup)
	api.GET("/health", h.Health)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		h.Log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
		}).Debug("HTTP request")
	}
}
