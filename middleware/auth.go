package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kasuganosora/socialgraph/cache"
	"github.com/kasuganosora/socialgraph/config"
)

const UserIDKey = "user_id"

// ErrSessionExpired is returned when a token is valid but its session was
// revoked or timed out.
var ErrSessionExpired = errors.New("session expired")

// SessionKey is the cache key that keeps a token's session alive.
func SessionKey(token string) string {
	return "session:" + token
}

func newTokenID() string {
	return uuid.NewString()
}

// Authenticate resolves a raw token to its user id. The token must verify
// and its session must still hold the same user id.
func Authenticate(ctx context.Context, sec config.SecurityConfig, c cache.Cache, token string) (int64, error) {
	claims, err := ParseToken(token, sec.JWTSecret)
	if err != nil {
		return 0, err
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	v, err := c.Get(cacheCtx, SessionKey(token))
	if err != nil || v != strconv.FormatInt(claims.UserID, 10) {
		return 0, ErrSessionExpired
	}
	return claims.UserID, nil
}

// BearerToken extracts the token from "Authorization: Bearer <token>",
// falling back to the token query parameter used by SSE and WebSocket
// clients that cannot set headers.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// Auth validates the Bearer JWT token and checks the session cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token", "kind": "Unauthorized"})
			return
		}
		userID, err := Authenticate(ctx.Request.Context(), sec, c, strings.TrimPrefix(header, "Bearer "))
		if errors.Is(err, ErrSessionExpired) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired", "kind": "Unauthorized"})
			return
		}
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "kind": "Unauthorized"})
			return
		}

		ctx.Set(UserIDKey, userID)
		ctx.Next()
	}
}

// GetUserID retrieves the authenticated user ID from the Gin context.
func GetUserID(c *gin.Context) int64 {
	if v, exists := c.Get(UserIDKey); exists {
		return v.(int64)
	}
	return 0
}
