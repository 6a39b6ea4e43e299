package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/adforge/internal/api/handler"
	"github.com/timmy/adforge/internal/api/middleware"
	"github.com/timmy/adforge/internal/config"
	"github.com/timmy/adforge/internal/logger"
	"github.com/timmy/adforge/internal/service"
)

// Services bundles everything the HTTP surface depends on.
type Services struct {
	Concepts   *service.ConceptService
	Recipes    *service.RecipeService
	Products   *service.ProductService
	Workflows  *service.WorkflowService
	Relay      *service.StreamRelay
	Reconciler *service.Reconciler
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.ServerConfig, log *logger.Logger, svcs *Services) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	conceptHandler := handler.NewConceptHandler(svcs.Concepts, svcs.Relay)
	recipeHandler := handler.NewRecipeHandler(svcs.Recipes, svcs.Relay)
	productHandler := handler.NewProductHandler(svcs.Products)
	workflowHandler := handler.NewWorkflowHandler(svcs.Workflows)
	taskHandler := handler.NewTaskHandler(svcs.Reconciler)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes, behind the gateway-injected identity
	v1 := r.Group("/api/v1")
	v1.Use(middleware.RequireUser())
	{
		// Ad concepts
		v1.POST("/ad-concepts", conceptHandler.SubmitConcepts)
		v1.GET("/ad-concepts", conceptHandler.ListConcepts)
		v1.GET("/ad-concepts/:id", conceptHandler.GetConcept)
		v1.GET("/ad-concepts/:id/stream", conceptHandler.StreamConcept)

		// Ad recipes
		v1.POST("/ad-recipes", recipeHandler.CreateRecipe)
		v1.GET("/ad-recipes", recipeHandler.ListRecipes)
		v1.GET("/ad-recipes/:id", recipeHandler.GetRecipe)
		v1.GET("/ad-recipes/:id/stream", recipeHandler.StreamRecipe)

		// Products
		v1.POST("/products", productHandler.CreateProduct)
		v1.GET("/products", productHandler.ListProducts)
		v1.GET("/products/:id", productHandler.GetProduct)

		// Workflows
		v1.POST("/workflows", workflowHandler.CreateWorkflow)
		v1.GET("/workflows", workflowHandler.ListWorkflows)
		v1.GET("/workflows/:id", workflowHandler.GetWorkflow)

		// Task ledger
		v1.GET("/tasks/:task_id", taskHandler.GetTask)
	}

	return r
}
