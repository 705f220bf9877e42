package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	res, err := h.users.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.log(c).WithField("user_id", res.User.ID).Info("user registered")
	c.JSON(http.StatusOK, authToResponse(res))
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	res, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, authToResponse(res))
}

func (h *Handler) me(c *gin.Context) {
	user := h.users.CurrentUser(currentUser(c))
	c.JSON(http.StatusOK, userToResponse(user))
}
