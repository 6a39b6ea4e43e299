package repository

import (
	"context"
	"time"

	"github.com/timmy/adforge/internal/domain"
	"gorm.io/gorm"
)

// RecipeRepository handles ad recipe data operations.
type RecipeRepository struct {
	db *gorm.DB
}

// NewRecipeRepository creates a new RecipeRepository.
func NewRecipeRepository(db *gorm.DB) *RecipeRepository {
	return &RecipeRepository{db: db}
}

// Create inserts a new recipe row.
func (r *RecipeRepository) Create(ctx context.Context, recipe *domain.AdRecipe) error {
	return r.db.WithContext(ctx).Create(recipe).Error
}

// GetByID retrieves a recipe by its ID.
func (r *RecipeRepository) GetByID(ctx context.Context, id string) (*domain.AdRecipe, error) {
	var recipe domain.AdRecipe
	if err := r.db.WithContext(ctx).First(&recipe, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &recipe, nil
}

// GetByTaskID retrieves the recipe driven by a given task.
func (r *RecipeRepository) GetByTaskID(ctx context.Context, taskID string) (*domain.AdRecipe, error) {
	var recipe domain.AdRecipe
	if err := r.db.WithContext(ctx).First(&recipe, "task_id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &recipe, nil
}

// ListByUser retrieves all recipes owned by a user, newest first.
func (r *RecipeRepository) ListByUser(ctx context.Context, userID string) ([]domain.AdRecipe, error) {
	var recipes []domain.AdRecipe
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&recipes).Error; err != nil {
		return nil, err
	}
	return recipes, nil
}

// Complete merges the generated payload into the recipe's prompt document and
// transitions it to completed. Conditioned on the stored status being
// non-terminal; the loser of a finalization race gets applied=false.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: recipe row ID.
//   - promptJSON: full prompt document (assembled sources + generated payload).
// Returns:
//   - *domain.AdRecipe: the stored record after the attempt.
//   - bool: true if this call's write took effect.
//   - error: non-nil only on store failure.
func (r *RecipeRepository) Complete(ctx context.Context, id string, promptJSON domain.JSONMap) (*domain.AdRecipe, bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.AdRecipe{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(map[string]interface{}{
			"status":      domain.StatusCompleted,
			"prompt_json": promptJSON,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	recipe, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return recipe, res.RowsAffected > 0, nil
}

// Fail transitions a recipe to failed with an error message. Same terminal
// guard as Complete.
func (r *RecipeRepository) Fail(ctx context.Context, id string, errMsg string) (*domain.AdRecipe, bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.AdRecipe{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(map[string]interface{}{
			"status":        domain.StatusFailed,
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	recipe, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return recipe, res.RowsAffected > 0, nil
}

// MarkProcessing advances a pending recipe to processing.
func (r *RecipeRepository) MarkProcessing(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.AdRecipe{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]interface{}{
			"status":     domain.StatusProcessing,
			"updated_at": time.Now().UTC(),
		}).Error
}
