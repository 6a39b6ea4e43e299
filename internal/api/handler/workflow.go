package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/adforge/internal/api/middleware"
	"github.com/timmy/adforge/internal/domain"
	"github.com/timmy/adforge/internal/service"
)

// WorkflowHandler handles scraped-ad workflow endpoints.
type WorkflowHandler struct {
	workflows *service.WorkflowService
}

// NewWorkflowHandler creates a new workflow handler.
func NewWorkflowHandler(workflows *service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows}
}

type createWorkflowRequest struct {
	Name string           `json:"name"`
	Ads  domain.JSONArray `json:"ads" binding:"required"`
}

// CreateWorkflow handles POST /api/v1/workflows.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *WorkflowHandler) CreateWorkflow(c *gin.Context) {
	var req createWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ads is required"})
		return
	}

	workflow, err := h.workflows.Create(c.Request.Context(), middleware.CurrentUser(c), req.Name, req.Ads)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, workflow)
}

// ListWorkflows handles GET /api/v1/workflows.
func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	workflows, err := h.workflows.List(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"workflows": workflows})
}

// GetWorkflow handles GET /api/v1/workflows/:id.
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	workflow, err := h.workflows.Get(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, workflow)
}
