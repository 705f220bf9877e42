package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"todo-api/internal/domain"
	"todo-api/internal/service"
)

// listTodos serves GET /api/todos. A completed filter takes precedence over
// sortBy; sortBy=priority is the only non-default ordering.
func (h *Handler) listTodos(c *gin.Context) {
	user := currentUser(c)
	ctx := c.Request.Context()

	var (
		todos []domain.Todo
		err   error
	)
	switch raw, ok := c.GetQuery("completed"); {
	case ok && raw != "":
		completed, perr := strconv.ParseBool(raw)
		if perr != nil {
			validationFailed(c, map[string]string{"completed": "must be true or false"})
			return
		}
		todos, err = h.todos.ListByStatus(ctx, user.ID, completed)
	case strings.EqualFold(c.Query("sortBy"), "priority"):
		todos, err = h.todos.ListByPriority(ctx, user.ID)
	default:
		todos, err = h.todos.ListAll(ctx, user.ID)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, todosToResponse(todos))
}

func (h *Handler) listOverdue(c *gin.Context) {
	todos, err := h.todos.ListOverdue(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, todosToResponse(todos))
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.todos.Stats(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statsResponse{
		Total:     stats.Total,
		Completed: stats.Completed,
		Pending:   stats.Pending,
	})
}

func (h *Handler) getTodo(c *gin.Context) {
	id, ok := parseTodoID(c)
	if !ok {
		return
	}

	todo, err := h.todos.GetByID(c.Request.Context(), id, currentUser(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, todoToResponse(*todo))
}

func (h *Handler) createTodo(c *gin.Context) {
	var req createTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	todo, err := h.todos.Create(c.Request.Context(), currentUser(c).ID, service.CreateTodoInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		DueDate:     req.DueDate.Ptr(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, todoToResponse(*todo))
}

func (h *Handler) updateTodo(c *gin.Context) {
	id, ok := parseTodoID(c)
	if !ok {
		return
	}

	var req updateTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	todo, err := h.todos.Update(c.Request.Context(), id, currentUser(c).ID, req.toInput())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, todoToResponse(*todo))
}

func (h *Handler) toggleTodo(c *gin.Context) {
	id, ok := parseTodoID(c)
	if !ok {
		return
	}

	todo, err := h.todos.Toggle(c.Request.Context(), id, currentUser(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, todoToResponse(*todo))
}

func (h *Handler) deleteTodo(c *gin.Context) {
	id, ok := parseTodoID(c)
	if !ok {
		return
	}

	if err := h.todos.Delete(c.Request.Context(), id, currentUser(c).ID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseTodoID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid todo id"})
		return 0, false
	}
	return id, true
}
