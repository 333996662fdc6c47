package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"attendanceportal/internal/session"
)

const (
	claimsKey  = "claims"
	sessionKey = "session"

	// SessionIDKey holds the verified session id on the gin context.
	SessionIDKey = "session_id"
)

// Restorer loads a live session by id.
type Restorer interface {
	Restore(ctx context.Context, id string) (*session.Session, error)
}

// SessionAuth enforces bearer access tokens signed with HS256 and attaches
// the session they name to the request.
func SessionAuth(signingKey, issuer string, sessions Restorer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := Parse(tokenStr, signingKey, issuer, KindAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		s, err := sessions.Restore(c.Request.Context(), claims.Subject)
		if err != nil {
			status, msg := http.StatusUnauthorized, "session ended"
			if !errors.Is(err, session.ErrNotFound) && !errors.Is(err, session.ErrExpired) {
				status, msg = http.StatusServiceUnavailable, "session store unavailable"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}
		c.Set(claimsKey, claims)
		c.Set(sessionKey, s)
		c.Set(SessionIDKey, s.ID)
		c.Next()
	}
}

// RequireRole rejects sessions whose profile has a different role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := CurrentSession(c)
		if s == nil || s.Profile.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden for role"})
			return
		}
		c.Next()
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authz[len("bearer "):])
	return token, token != ""
}

// CurrentSession returns the session attached by SessionAuth.
func CurrentSession(c *gin.Context) *session.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	s, _ := v.(*session.Session)
	return s
}
