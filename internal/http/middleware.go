package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"todo-api/internal/auth"
	"todo-api/internal/domain"
)

const (
	requestIDHeader = "X-Request-ID"

	ctxRequestID = "request_id"
	ctxUser      = "user"
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

func accessLogMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"request_id": c.GetString(ctxRequestID),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
		})
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}

// authMiddleware resolves the bearer token to a live user and stores it on
// the context. Every failure answers 401 with the same body.
func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			h.unauthorized(c, "missing bearer token", nil)
			return
		}
		userID, err := h.tokens.Verify(token)
		if err != nil {
			h.unauthorized(c, "token rejected", err)
			return
		}
		user, err := h.users.GetByID(c.Request.Context(), userID)
		if err != nil {
			h.unauthorized(c, "token user lookup failed", err)
			return
		}
		c.Set(ctxUser, user)
		c.Next()
	}
}

func (h *Handler) unauthorized(c *gin.Context, reason string, err error) {
	entry := h.log(c)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Debug(reason)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func currentUser(c *gin.Context) *domain.User {
	v, ok := c.Get(ctxUser)
	if !ok {
		return nil
	}
	user, _ := v.(*domain.User)
	return user
}

func (h *Handler) log(c *gin.Context) *logrus.Entry {
	return h.logger.WithField("request_id", c.GetString(ctxRequestID))
}
