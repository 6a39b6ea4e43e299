package repository

import (
	"context"
	"time"

	"github.com/timmy/adforge/internal/domain"
	"gorm.io/gorm"
)

// ConceptRepository handles ad concept data operations.
type ConceptRepository struct {
	db *gorm.DB
}

// NewConceptRepository creates a new ConceptRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ConceptRepository: repository instance bound to db.
func NewConceptRepository(db *gorm.DB) *ConceptRepository {
	return &ConceptRepository{db: db}
}

// CreatePending inserts a new concept row in pending state.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - concept: concept record to persist; ConceptJSON defaults to an empty object.
// Returns:
//   - error: non-nil if the insert fails.
func (r *ConceptRepository) CreatePending(ctx context.Context, concept *domain.AdConcept) error {
	concept.Status = domain.StatusPending
	if concept.ConceptJSON == nil {
		concept.ConceptJSON = domain.JSONMap{}
	}
	return r.db.WithContext(ctx).Create(concept).Error
}

// GetByID retrieves a concept by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: concept row ID.
// Returns:
//   - *domain.AdConcept: concept record if found.
//   - error: non-nil if lookup fails (gorm.ErrRecordNotFound when absent).
func (r *ConceptRepository) GetByID(ctx context.Context, id string) (*domain.AdConcept, error) {
	var concept domain.AdConcept
	if err := r.db.WithContext(ctx).First(&concept, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &concept, nil
}

// GetByTaskID retrieves the concept driven by a given task.
func (r *ConceptRepository) GetByTaskID(ctx context.Context, taskID string) (*domain.AdConcept, error) {
	var concept domain.AdConcept
	if err := r.db.WithContext(ctx).First(&concept, "task_id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &concept, nil
}

// ListByIDs retrieves concepts matching the requested ids, in request order.
// Ids not found are omitted rather than erroring.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ids: concept row IDs, in the order the caller wants them back.
// Returns:
//   - []domain.AdConcept: found concepts reindexed to request order.
//   - error: non-nil if the query fails.
func (r *ConceptRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.AdConcept, error) {
	if len(ids) == 0 {
		return []domain.AdConcept{}, nil
	}
	var concepts []domain.AdConcept
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&concepts).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]domain.AdConcept, len(concepts))
	for _, c := range concepts {
		byID[c.ID] = c
	}
	ordered := make([]domain.AdConcept, 0, len(concepts))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

// ListByAdArchiveIDs retrieves the latest concept per requested ad archive id
// for one user, in request order; ad ids with no concept are omitted.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owning user.
//   - adArchiveIDs: external ad archive identifiers, in request order.
// Returns:
//   - []domain.AdConcept: latest concept rows reindexed to request order.
//   - error: non-nil if the query fails.
func (r *ConceptRepository) ListByAdArchiveIDs(ctx context.Context, userID string, adArchiveIDs []string) ([]domain.AdConcept, error) {
	if len(adArchiveIDs) == 0 {
		return []domain.AdConcept{}, nil
	}
	var concepts []domain.AdConcept
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND ad_archive_id IN ?", userID, adArchiveIDs).
		Order("created_at ASC").
		Find(&concepts).Error; err != nil {
		return nil, err
	}

	// Resubmission creates a fresh row per ad; the ascending scan leaves the
	// newest row in the map.
	latest := make(map[string]domain.AdConcept, len(concepts))
	for _, c := range concepts {
		latest[c.AdArchiveID] = c
	}
	ordered := make([]domain.AdConcept, 0, len(latest))
	for _, adID := range adArchiveIDs {
		if c, ok := latest[adID]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

// Complete transitions a concept to completed and stores its extracted
// document. Conditioned on the stored status being non-terminal, same
// discipline as TaskRepository.UpdateStatus.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: concept row ID.
//   - conceptJSON: extracted creative concept document.
// Returns:
//   - *domain.AdConcept: the stored record after the attempt.
//   - bool: true if this call's write took effect; false means the row was
//     already terminal (callers log this, they do not raise it).
//   - error: non-nil only on store failure.
func (r *ConceptRepository) Complete(ctx context.Context, id string, conceptJSON domain.JSONMap) (*domain.AdConcept, bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.AdConcept{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(map[string]interface{}{
			"status":       domain.StatusCompleted,
			"concept_json": conceptJSON,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	concept, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return concept, res.RowsAffected > 0, nil
}

// Fail transitions a concept to failed with an error message. Same terminal
// guard as Complete.
func (r *ConceptRepository) Fail(ctx context.Context, id string, errMsg string) (*domain.AdConcept, bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.AdConcept{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(map[string]interface{}{
			"status":        domain.StatusFailed,
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	concept, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return concept, res.RowsAffected > 0, nil
}

// MarkProcessing advances a pending concept to processing. Terminal rows and
// rows already processing are left unchanged.
func (r *ConceptRepository) MarkProcessing(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.AdConcept{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]interface{}{
			"status":     domain.StatusProcessing,
			"updated_at": time.Now().UTC(),
		}).Error
}
