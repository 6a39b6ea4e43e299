package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/adforge/internal/api/middleware"
	"github.com/timmy/adforge/internal/domain"
	"github.com/timmy/adforge/internal/service"
)

// ConceptHandler handles ad-concept endpoints.
type ConceptHandler struct {
	concepts *service.ConceptService
	relay    *service.StreamRelay
}

// NewConceptHandler creates a new concept handler.
// Parameters:
//   - concepts: concept service instance.
//   - relay: stream relay for live status streams.
// Returns:
//   - *ConceptHandler: initialized handler.
func NewConceptHandler(concepts *service.ConceptService, relay *service.StreamRelay) *ConceptHandler {
	return &ConceptHandler{concepts: concepts, relay: relay}
}

type submitConceptsRequest struct {
	AdIDs []string `json:"adIds" binding:"required"`
}

// SubmitConcepts handles POST /api/v1/ad-concepts.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ConceptHandler) SubmitConcepts(c *gin.Context) {
	var req submitConceptsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "adIds is required"})
		return
	}

	concepts, err := h.concepts.SubmitConcepts(c.Request.Context(), middleware.CurrentUser(c), req.AdIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"concepts": concepts})
}

// ListConcepts handles GET /api/v1/ad-concepts?adIds=a,b,c.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ConceptHandler) ListConcepts(c *gin.Context) {
	raw := c.Query("adIds")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "adIds query parameter is required"})
		return
	}
	adIDs := make([]string, 0)
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			adIDs = append(adIDs, id)
		}
	}

	concepts, err := h.concepts.ListByAdIDs(c.Request.Context(), middleware.CurrentUser(c), adIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"concepts": concepts})
}

// GetConcept handles GET /api/v1/ad-concepts/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ConceptHandler) GetConcept(c *gin.Context) {
	concept, err := h.concepts.Get(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, concept)
}

// StreamConcept handles GET /api/v1/ad-concepts/:id/stream (SSE).
// Parameters:
//   - c: Gin request context.
// Returns: none (writes an event stream).
func (h *ConceptHandler) StreamConcept(c *gin.Context) {
	userID := middleware.CurrentUser(c)
	id := c.Param("id")

	concept, err := h.concepts.Get(c.Request.Context(), userID, id)
	if err != nil {
		writeError(c, err)
		return
	}

	project := func(u service.TaskUpdate) interface{} {
		return conceptStreamEvent{
			ID:          id,
			TaskID:      u.TaskID,
			Status:      u.Status,
			ConceptJSON: u.Result,
			Error:       u.Error,
		}
	}
	streamTask(c, h.relay, conceptUpdate(concept), project, func() (service.TaskUpdate, error) {
		current, err := h.concepts.Get(c.Request.Context(), userID, id)
		if err != nil {
			return service.TaskUpdate{}, err
		}
		return conceptUpdate(current), nil
	})
}

// conceptStreamEvent is the wire shape of a concept stream event: the concept
// row id plus the task fields, with the extracted document under concept_json
// once completed.
type conceptStreamEvent struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"task_id"`
	Status      domain.Status  `json:"status"`
	ConceptJSON domain.JSONMap `json:"concept_json,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// conceptUpdate carries a concept row's current state through the stream
// plumbing.
func conceptUpdate(concept *domain.AdConcept) service.TaskUpdate {
	update := service.TaskUpdate{
		TaskID: concept.TaskID,
		Status: concept.Status,
		Error:  concept.ErrorMessage,
	}
	if concept.Status == domain.StatusCompleted {
		update.Result = concept.ConceptJSON
	}
	return update
}
