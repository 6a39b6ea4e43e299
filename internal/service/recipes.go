package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/timmy/adforge/internal/domain"
	"github.com/timmy/adforge/internal/logger"
	"github.com/timmy/adforge/internal/prompts"
	"github.com/timmy/adforge/internal/repository"
)

// RecipeSubmitter submits generation jobs; satisfied by *jobservice.Client.
type RecipeSubmitter interface {
	SubmitRecipeGeneration(ctx context.Context, adArchiveID, imageURL, salesURL, userID string) (string, error)
}

// RecipeService pairs completed concepts with a product into an ad recipe,
// assembles its prompt package, and submits the generation job. A recipe only
// comes into existence after the upstream accepts the job.
type RecipeService struct {
	submitter RecipeSubmitter
	products  *repository.ProductRepository
	recipes   *repository.RecipeRepository
	store     *StoreAdapter
	registry  *TaskRegistry
	relay     *StreamRelay
}

// NewRecipeService creates a new RecipeService.
// Parameters:
//   - submitter: generation job submitter.
//   - products: product repository.
//   - recipes: recipe repository for reads.
//   - store: concept/recipe store adapter.
//   - registry: task registry service.
//   - relay: stream relay owning upstream subscriptions.
// Returns:
//   - *RecipeService: initialized service.
func NewRecipeService(
	submitter RecipeSubmitter,
	products *repository.ProductRepository,
	recipes *repository.RecipeRepository,
	store *StoreAdapter,
	registry *TaskRegistry,
	relay *StreamRelay,
) *RecipeService {
	return &RecipeService{
		submitter: submitter,
		products:  products,
		recipes:   recipes,
		store:     store,
		registry:  registry,
		relay:     relay,
	}
}

// Create validates the concept/product pairing, assembles the prompt package,
// submits the generation job, and persists the pending recipe. Every
// referenced concept must be owned by the user and completed; the product
// must be owned by the user.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: requesting user.
//   - name: display name for the recipe.
//   - conceptIDs: completed concept row ids.
//   - productID: product row id.
// Returns:
//   - *domain.AdRecipe: the created pending recipe.
//   - error: ErrInvalidInput, ErrNotFound, ErrForbidden, ErrConceptNotReady,
//     upstream submit errors, or store errors.
func (s *RecipeService) Create(ctx context.Context, userID, name string, conceptIDs []string, productID string) (*domain.AdRecipe, error) {
	if userID == "" {
		return nil, invalidInput("user id is required")
	}
	if name == "" {
		return nil, invalidInput("recipe name is required")
	}
	if len(conceptIDs) == 0 {
		return nil, invalidInput("at least one concept id is required")
	}
	seen := make(map[string]struct{}, len(conceptIDs))
	for _, id := range conceptIDs {
		if id == "" {
			return nil, invalidInput("concept id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return nil, invalidInput("duplicate concept id %s", id)
		}
		seen[id] = struct{}{}
	}
	if productID == "" {
		return nil, invalidInput("product id is required")
	}

	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("product %s", productID)
		}
		return nil, err
	}
	if product.UserID != userID {
		return nil, ErrForbidden
	}

	concepts, err := s.store.ListConceptsByIDs(ctx, conceptIDs)
	if err != nil {
		return nil, err
	}
	if len(concepts) != len(conceptIDs) {
		found := make(map[string]struct{}, len(concepts))
		for _, c := range concepts {
			found[c.ID] = struct{}{}
		}
		for _, id := range conceptIDs {
			if _, ok := found[id]; !ok {
				return nil, notFound("concept %s", id)
			}
		}
	}
	for _, c := range concepts {
		if c.UserID != userID {
			return nil, ErrForbidden
		}
		if c.Status != domain.StatusCompleted {
			return nil, ErrConceptNotReady
		}
	}

	promptJSON := assemblePrompt(product, concepts, conceptIDs)

	// The first concept's source creative anchors the generation job.
	anchor := concepts[0]
	taskID, err := s.submitter.SubmitRecipeGeneration(ctx, anchor.AdArchiveID, anchor.ImageURL, product.SalesURL, userID)
	if err != nil {
		logger.CtxError(ctx, "Recipe generation submit failed: product_id=%s, error=%v", productID, err)
		return nil, err
	}

	// Task row first, as with concepts: startup reconciliation walks tasks.
	recipeID := uuid.New().String()
	if _, err := s.registry.Register(ctx, &domain.Task{
		TaskID:      taskID,
		UserID:      userID,
		SubjectKind: domain.SubjectAdRecipe,
		ConceptIDs:  domain.StringArray(conceptIDs),
		ProductID:   productID,
		EntityID:    recipeID,
		Status:      domain.StatusPending,
	}); err != nil {
		return nil, err
	}

	recipe, err := s.store.CreateRecipe(ctx, recipeID, userID, name, conceptIDs, productID, taskID, promptJSON)
	if err != nil {
		return nil, err
	}

	s.relay.EnsureSubscription(taskID)
	logger.CtxInfo(ctx, "Recipe generation submitted: task_id=%s, recipe_id=%s", taskID, recipe.ID)
	return recipe, nil
}

// assemblePrompt builds the recipe's prompt document from the product and its
// source concepts.
func assemblePrompt(product *domain.Product, concepts []domain.AdConcept, conceptIDs []string) domain.JSONMap {
	conceptDocs := make([]interface{}, 0, len(concepts))
	for _, c := range concepts {
		conceptDocs = append(conceptDocs, map[string]interface{}{
			"concept_id":    c.ID,
			"ad_archive_id": c.AdArchiveID,
			"concept_json":  map[string]interface{}(c.ConceptJSON),
		})
	}
	return domain.JSONMap{
		"system_prompt": prompts.RecipeSystemPrompt,
		"user_prompt":   prompts.BuildRecipeUserPrompt(product.Name, product.SalesURL),
		"product": map[string]interface{}{
			"id":           product.ID,
			"name":         product.Name,
			"sales_url":    product.SalesURL,
			"details_json": map[string]interface{}(product.DetailsJSON),
		},
		"concepts":    conceptDocs,
		"concept_ids": conceptIDs,
	}
}

// List returns the user's recipes, newest first.
func (s *RecipeService) List(ctx context.Context, userID string) ([]domain.AdRecipe, error) {
	if userID == "" {
		return nil, invalidInput("user id is required")
	}
	return s.recipes.ListByUser(ctx, userID)
}

// Get returns a single recipe owned by the user.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: requesting user.
//   - id: recipe row id.
// Returns:
//   - *domain.AdRecipe: the recipe.
//   - error: ErrNotFound, ErrForbidden, or store errors.
func (s *RecipeService) Get(ctx context.Context, userID, id string) (*domain.AdRecipe, error) {
	recipe, err := s.recipes.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("recipe %s", id)
		}
		return nil, err
	}
	if recipe.UserID != userID {
		return nil, ErrForbidden
	}
	return recipe, nil
}
