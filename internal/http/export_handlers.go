package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const exportTimeout = 30 * time.Second

func (h *Handler) createExport(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), exportTimeout)
	defer cancel()

	exp, err := h.exports.Export(ctx, currentUser(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, exportResponse{
		Key:       exp.Key,
		Location:  exp.Location,
		URL:       exp.URL,
		Count:     exp.Count,
		CreatedAt: exp.CreatedAt,
	})
}

func (h *Handler) listExports(c *gin.Context) {
	objects, err := h.exports.ListExports(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]storageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) deleteExports(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), exportTimeout)
	defer cancel()

	deleted, err := h.exports.DeleteExports(ctx, currentUser(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
