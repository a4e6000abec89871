package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mikeiscool1/vitchat.xyz/internal/auth"
	"github.com/mikeiscool1/vitchat.xyz/internal/store"
)

const (
	// ContextKeyUser is the gin context key holding the authenticated user.
	ContextKeyUser = "user"
	// ContextKeyRequestID is the gin context key holding the request ID.
	ContextKeyRequestID = "request_id"
)

// AuthMiddleware validates the Authorization token and gates on account
// status. The header carries the raw token, no scheme prefix.
func AuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
			c.Abort()
			return
		}

		user, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			c.Abort()
			return
		}

		status, err := authService.UserStatus(c.Request.Context(), user)
		if err != nil {
			logger.Error().Err(err).Msg("failed to check user status")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			c.Abort()
			return
		}
		if !status.Allowed {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: status.Reason})
			c.Abort()
			return
		}

		c.Set(ContextKeyUser, user)
		c.Next()
	}
}

// AdminMiddleware rejects non-admin callers. It must run after
// AuthMiddleware.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentUser(c).Admin {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "admin only"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestLogger tags every request with a UUID and logs it on completion.
func RequestLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Set(ContextKeyRequestID, requestID)
		start := time.Now()

		c.Next()

		logger.Info().
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	}
}

// currentUser returns the user stored by AuthMiddleware.
func currentUser(c *gin.Context) *store.User {
	return c.MustGet(ContextKeyUser).(*store.User)
}
