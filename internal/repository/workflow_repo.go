package repository

import (
	"context"

	"github.com/timmy/adforge/internal/domain"
	"gorm.io/gorm"
)

// WorkflowRepository handles scraped-ad workflow data operations.
type WorkflowRepository struct {
	db *gorm.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Create inserts a new workflow record.
func (r *WorkflowRepository) Create(ctx context.Context, workflow *domain.Workflow) error {
	return r.db.WithContext(ctx).Create(workflow).Error
}

// GetByID retrieves a workflow by its ID.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*domain.Workflow, error) {
	var workflow domain.Workflow
	if err := r.db.WithContext(ctx).First(&workflow, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &workflow, nil
}

// ListByUser retrieves all workflows owned by a user, newest first.
func (r *WorkflowRepository) ListByUser(ctx context.Context, userID string) ([]domain.Workflow, error) {
	var workflows []domain.Workflow
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&workflows).Error; err != nil {
		return nil, err
	}
	return workflows, nil
}

// FindAd resolves a scraped ad by archive id across all of a user's
// workflows, newest workflow first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owning user.
//   - adArchiveID: external ad archive identifier.
// Returns:
//   - *domain.ScrapedAd: the ad entry if any workflow contains it.
//   - bool: true if found.
//   - error: non-nil if the query fails.
func (r *WorkflowRepository) FindAd(ctx context.Context, userID, adArchiveID string) (*domain.ScrapedAd, bool, error) {
	workflows, err := r.ListByUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	for i := range workflows {
		if ad, ok := workflows[i].FindAd(adArchiveID); ok {
			return ad, true, nil
		}
	}
	return nil, false, nil
}
