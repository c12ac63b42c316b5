package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"wikid/internal/model"
)

const (
	userContextKey = "wikid.user"
	sessionCookie  = "wikid_session"
)

// authenticate resolves the caller's session from a bearer token or the
// session cookie. Unknown and missing tokens both continue as anonymous;
// permission checks downstream decide what anonymous may do.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			if cookie, err := c.Cookie(sessionCookie); err == nil {
				token = cookie
			}
		}

		user, err := s.svc.Authenticate(c.Request.Context(), token)
		if err != nil {
			s.logger.Error("authenticating request", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication failed"})
			return
		}
		if user != nil {
			c.Set(userContextKey, user)
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// identity returns the authenticated user, or nil for anonymous callers.
func identity(c *gin.Context) *model.User {
	if v, ok := c.Get(userContextKey); ok {
		if user, ok := v.(*model.User); ok {
			return user
		}
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
