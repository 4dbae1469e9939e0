package handler

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"moodpair/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer     = "moodpair-service"
	defaultTokenTTL = 72 * time.Hour
)

// TokenIssuer signs and checks anonymous identity tokens (HS256).
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// generateJWT signs a token carrying anonID.
func (t *TokenIssuer) generateJWT(anonID string) (string, error) {
	claims := jwt.MapClaims{
		"anon_id": anonID,
		"exp":     t.now().Add(t.ttl).Unix(),
		"iss":     tokenIssuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// validateAndGetAnonID verifies signature, expiry and issuer.
func (t *TokenIssuer) validateAndGetAnonID(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: unexpected claims", models.ErrUnauthorized)
	}
	anonID, ok := claims["anon_id"].(string)
	if !ok || anonID == "" {
		return "", fmt.Errorf("%w: anon_id claim missing", models.ErrUnauthorized)
	}
	return anonID, nil
}

// GetAnonID creates a fresh anonymous ID and returns it with its token.
func (h *Handler) GetAnonID(c *gin.Context) {
	if h.Tokens == nil {
		c.JSON(http.StatusOK, gin.H{"anon_id": uuid.NewString()})
		return
	}

	anonID := uuid.NewString()
	token, err := h.Tokens.generateJWT(anonID)
	if err != nil {
		h.Log.WithError(err).Error("Failed to create token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "anon_id": anonID})
}

// requireAdmin guards maintenance routes with the X-API-Key header. With no
// key configured the routes are closed.
func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if h.adminKey == "" || key == "" ||
			subtle.ConstantTimeCompare([]byte(key), []byte(h.adminKey)) != 1 {
			h.writeError(c, fmt.Errorf("%w: missing or invalid API key", models.ErrUnauthorized))
			return
		}
		c.Next()
	}
}
