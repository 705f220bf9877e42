package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"todo-api/internal/service"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	users   service.UserService
	todos   service.TodoService
	exports service.ExportService
	tokens  TokenVerifier
	db      Pinger
	logger  *logrus.Logger
}

func NewHandler(users service.UserService, todos service.TodoService, exports service.ExportService, tokens TokenVerifier, db Pinger, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	registerValidatorNames()
	return &Handler{
		users:   users,
		todos:   todos,
		exports: exports,
		tokens:  tokens,
		db:      db,
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestIDMiddleware(), accessLogMiddleware(h.logger), corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", h.health)
		api.GET("/ready", h.ready)

		authGroup := api.Group("/auth")
		authGroup.POST("/signup", h.signup)
		authGroup.POST("/login", h.login)
		authGroup.GET("/me", h.authMiddleware(), h.me)

		todos := api.Group("/todos", h.authMiddleware())
		{
			todos.GET("", h.listTodos)
			todos.POST("", h.createTodo)
			todos.GET("/overdue", h.listOverdue)
			todos.GET("/stats", h.stats)
			todos.POST("/export", h.createExport)
			todos.GET("/exports", h.listExports)
			todos.DELETE("/exports", h.deleteExports)
			todos.GET("/:id", h.getTodo)
			todos.PUT("/:id", h.updateTodo)
			todos.PATCH("/:id/toggle", h.toggleTodo)
			todos.DELETE("/:id", h.deleteTodo)
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) ready(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.log(c).WithError(err).Warn("readiness check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
