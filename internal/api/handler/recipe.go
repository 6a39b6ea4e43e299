package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/adforge/internal/api/middleware"
	"github.com/timmy/adforge/internal/domain"
	"github.com/timmy/adforge/internal/service"
)

// RecipeHandler handles ad-recipe endpoints.
type RecipeHandler struct {
	recipes *service.RecipeService
	relay   *service.StreamRelay
}

// NewRecipeHandler creates a new recipe handler.
// Parameters:
//   - recipes: recipe service instance.
//   - relay: stream relay for live status streams.
// Returns:
//   - *RecipeHandler: initialized handler.
func NewRecipeHandler(recipes *service.RecipeService, relay *service.StreamRelay) *RecipeHandler {
	return &RecipeHandler{recipes: recipes, relay: relay}
}

type createRecipeRequest struct {
	Name       string   `json:"name" binding:"required"`
	ConceptIDs []string `json:"conceptIds" binding:"required"`
	ProductID  string   `json:"productId" binding:"required"`
}

// CreateRecipe handles POST /api/v1/ad-recipes.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *RecipeHandler) CreateRecipe(c *gin.Context) {
	var req createRecipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, conceptIds and productId are required"})
		return
	}

	recipe, err := h.recipes.Create(c.Request.Context(), middleware.CurrentUser(c), req.Name, req.ConceptIDs, req.ProductID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, recipe)
}

// ListRecipes handles GET /api/v1/ad-recipes.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *RecipeHandler) ListRecipes(c *gin.Context) {
	recipes, err := h.recipes.List(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"recipes": recipes})
}

// GetRecipe handles GET /api/v1/ad-recipes/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *RecipeHandler) GetRecipe(c *gin.Context) {
	recipe, err := h.recipes.Get(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, recipe)
}

// StreamRecipe handles GET /api/v1/ad-recipes/:id/stream (SSE).
// Parameters:
//   - c: Gin request context.
// Returns: none (writes an event stream).
func (h *RecipeHandler) StreamRecipe(c *gin.Context) {
	userID := middleware.CurrentUser(c)
	id := c.Param("id")

	recipe, err := h.recipes.Get(c.Request.Context(), userID, id)
	if err != nil {
		writeError(c, err)
		return
	}

	project := func(u service.TaskUpdate) interface{} {
		return recipeStreamEvent{
			ID:         id,
			TaskID:     u.TaskID,
			Status:     u.Status,
			PromptJSON: u.Result,
			Error:      u.Error,
		}
	}
	streamTask(c, h.relay, recipeUpdate(recipe), project, func() (service.TaskUpdate, error) {
		current, err := h.recipes.Get(c.Request.Context(), userID, id)
		if err != nil {
			return service.TaskUpdate{}, err
		}
		return recipeUpdate(current), nil
	})
}

// recipeStreamEvent is the wire shape of a recipe stream event, mirroring the
// concept stream with the merged prompt document under prompt_json.
type recipeStreamEvent struct {
	ID         string         `json:"id"`
	TaskID     string         `json:"task_id"`
	Status     domain.Status  `json:"status"`
	PromptJSON domain.JSONMap `json:"prompt_json,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// recipeUpdate carries a recipe row's current state through the stream
// plumbing.
func recipeUpdate(recipe *domain.AdRecipe) service.TaskUpdate {
	update := service.TaskUpdate{
		TaskID: recipe.TaskID,
		Status: recipe.Status,
		Error:  recipe.ErrorMessage,
	}
	if recipe.Status == domain.StatusCompleted {
		update.Result = recipe.PromptJSON
	}
	return update
}
