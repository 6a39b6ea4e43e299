package service

import (
	"context"
	"time"

	"github.com/timmy/adforge/internal/domain"
	"github.com/timmy/adforge/internal/logger"
	"github.com/timmy/adforge/internal/repository"
)

// StoreAdapter persists concept and recipe entities and resolves them by
// id-set for downstream consumers. All terminal writes go through the
// repositories' conditional-update path; a write that loses a finalization
// race is logged and swallowed, never raised.
type StoreAdapter struct {
	concepts *repository.ConceptRepository
	recipes  *repository.RecipeRepository
}

// NewStoreAdapter creates a new StoreAdapter.
// Parameters:
//   - concepts: concept repository.
//   - recipes: recipe repository.
// Returns:
//   - *StoreAdapter: initialized adapter.
func NewStoreAdapter(concepts *repository.ConceptRepository, recipes *repository.RecipeRepository) *StoreAdapter {
	return &StoreAdapter{concepts: concepts, recipes: recipes}
}

// CreatePendingConcept creates a concept row in pending state with an empty
// concept document, so the UI has something to reference before the
// extraction job completes. The id comes from the caller, which registers the
// driving task under it before creating the row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: concept row id, already carried by the registered task.
//   - adArchiveID: external ad archive identifier.
//   - imageURL: resolved (possibly archived) creative image URL.
//   - taskID: external task driving this concept.
//   - userID: owning user.
// Returns:
//   - *domain.AdConcept: the created row.
//   - error: non-nil if the insert fails.
func (a *StoreAdapter) CreatePendingConcept(ctx context.Context, id, adArchiveID, imageURL, taskID, userID string) (*domain.AdConcept, error) {
	now := time.Now().UTC()
	concept := &domain.AdConcept{
		ID:          id,
		UserID:      userID,
		AdArchiveID: adArchiveID,
		ImageURL:    imageURL,
		TaskID:      taskID,
		ConceptJSON: domain.JSONMap{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.concepts.CreatePending(ctx, concept); err != nil {
		return nil, err
	}
	return concept, nil
}

// CompleteConcept transitions a concept to completed with its extracted
// document. If the row is already terminal the attempt is logged and the
// stored row returned unchanged.
func (a *StoreAdapter) CompleteConcept(ctx context.Context, id string, conceptJSON domain.JSONMap) (*domain.AdConcept, error) {
	concept, applied, err := a.concepts.Complete(ctx, id, conceptJSON)
	if err != nil {
		return nil, err
	}
	if !applied {
		logger.CtxWarn(ctx, "Concept already terminal, complete skipped: concept_id=%s, status=%s", id, concept.Status)
	}
	return concept, nil
}

// FailConcept transitions a concept to failed. Same terminal guard as
// CompleteConcept.
func (a *StoreAdapter) FailConcept(ctx context.Context, id string, errMsg string) (*domain.AdConcept, error) {
	concept, applied, err := a.concepts.Fail(ctx, id, errMsg)
	if err != nil {
		return nil, err
	}
	if !applied {
		logger.CtxWarn(ctx, "Concept already terminal, fail skipped: concept_id=%s, status=%s", id, concept.Status)
	}
	return concept, nil
}

// ListConceptsByIDs resolves concepts by id-set, preserving request order and
// omitting ids not found.
func (a *StoreAdapter) ListConceptsByIDs(ctx context.Context, ids []string) ([]domain.AdConcept, error) {
	return a.concepts.ListByIDs(ctx, ids)
}

// CreateRecipe creates a recipe row in pending state with the assembled
// prompt document, linked to the generation task driving it. As with
// concepts, the id comes from the caller and the task row precedes this one.
func (a *StoreAdapter) CreateRecipe(ctx context.Context, id, userID, name string, conceptIDs []string, productID, taskID string, promptJSON domain.JSONMap) (*domain.AdRecipe, error) {
	now := time.Now().UTC()
	recipe := &domain.AdRecipe{
		ID:         id,
		UserID:     userID,
		Name:       name,
		ConceptIDs: domain.StringArray(conceptIDs),
		ProductID:  productID,
		TaskID:     taskID,
		Status:     domain.StatusPending,
		PromptJSON: promptJSON,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.recipes.Create(ctx, recipe); err != nil {
		return nil, err
	}
	return recipe, nil
}

// MarkProcessing advances the entity a task drives from pending to
// processing. Terminal and already-processing rows are left unchanged.
func (a *StoreAdapter) MarkProcessing(ctx context.Context, task *domain.Task) error {
	switch task.SubjectKind {
	case domain.SubjectAdConcept:
		return a.concepts.MarkProcessing(ctx, task.EntityID)
	case domain.SubjectAdRecipe:
		return a.recipes.MarkProcessing(ctx, task.EntityID)
	}
	return nil
}

// CompleteRecipe merges the generated payload into the recipe's assembled
// prompt document (under the "generated" key) and transitions it to
// completed. The merge source is re-read from the store, but the write itself
// stays on the conditional-update path, so a racing finalizer cannot apply a
// second merge. Terminal guard as with concepts.
func (a *StoreAdapter) CompleteRecipe(ctx context.Context, id string, generated domain.JSONMap) (*domain.AdRecipe, error) {
	current, err := a.recipes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := make(domain.JSONMap, len(current.PromptJSON)+1)
	for k, v := range current.PromptJSON {
		merged[k] = v
	}
	merged["generated"] = map[string]interface{}(generated)

	recipe, applied, err := a.recipes.Complete(ctx, id, merged)
	if err != nil {
		return nil, err
	}
	if !applied {
		logger.CtxWarn(ctx, "Recipe already terminal, complete skipped: recipe_id=%s, status=%s", id, recipe.Status)
	}
	return recipe, nil
}

// FailRecipe transitions a recipe to failed. Terminal guard as with concepts.
func (a *StoreAdapter) FailRecipe(ctx context.Context, id string, errMsg string) (*domain.AdRecipe, error) {
	recipe, applied, err := a.recipes.Fail(ctx, id, errMsg)
	if err != nil {
		return nil, err
	}
	if !applied {
		logger.CtxWarn(ctx, "Recipe already terminal, fail skipped: recipe_id=%s, status=%s", id, recipe.Status)
	}
	return recipe, nil
}
