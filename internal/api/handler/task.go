package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/timmy/adforge/internal/api/middleware"
	"github.com/timmy/adforge/internal/service"
)

// TaskHandler exposes the task ledger.
type TaskHandler struct {
	reconciler *service.Reconciler
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(reconciler *service.Reconciler) *TaskHandler {
	return &TaskHandler{reconciler: reconciler}
}

// GetTask handles GET /api/v1/tasks/:task_id. Looking a non-terminal task up
// also re-attaches its upstream subscription if this process lost it.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *TaskHandler) GetTask(c *gin.Context) {
	task, err := h.reconciler.Reattach(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		writeError(c, err)
		return
	}

	// Tasks are scoped to their owner; other users see not-found.
	if task.UserID != middleware.CurrentUser(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	c.JSON(http.StatusOK, task)
}
