package repository

import (
	"context"
	"time"

	"github.com/timmy/adforge/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// terminalStatuses guards every conditional write; a row already in one of
// these states is never modified again.
var terminalStatuses = []domain.Status{domain.StatusCompleted, domain.StatusFailed}

// TaskRepository handles task registry persistence.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *TaskRepository: repository instance bound to db.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Register inserts a pending task record. Idempotent on task_id: a second call
// with the same task_id leaves the existing row unchanged and returns it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - task: task record to persist; Status is forced to pending on insert.
// Returns:
//   - *domain.Task: the stored record (existing one on repeat registration).
//   - error: non-nil if the insert or the readback fails.
func (r *TaskRepository) Register(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	task.Status = domain.StatusPending
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		DoNothing: true,
	}).Create(task).Error; err != nil {
		return nil, err
	}
	// Read back by task_id so repeat registrations observe the original row.
	return r.GetByTaskID(ctx, task.TaskID)
}

// GetByTaskID retrieves a task by its external task ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - taskID: external task identifier.
// Returns:
//   - *domain.Task: task record if found.
//   - error: non-nil if lookup fails (gorm.ErrRecordNotFound when absent).
func (r *TaskRepository) GetByTaskID(ctx context.Context, taskID string) (*domain.Task, error) {
	var task domain.Task
	if err := r.db.WithContext(ctx).First(&task, "task_id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// ListByStatus retrieves tasks in a given status, ordered by created_at
// ascending. Used to find all pending tasks needing stream resubscription
// after a restart.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - status: task status to filter by.
// Returns:
//   - []domain.Task: matching task records.
//   - error: non-nil if the query fails.
func (r *TaskRepository) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateStatus transitions a task's status. The write is conditioned on the
// current stored status being non-terminal (a single guarded UPDATE, not a
// read-then-write), so racing finalizers collapse to one effective writer and
// the loser's call is a no-op that returns the already-stored record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - taskID: external task identifier.
//   - status: status to transition to.
//   - result: result payload; persisted only when status is completed.
//   - errMsg: error text; persisted only when status is failed.
// Returns:
//   - *domain.Task: the stored record after the attempt.
//   - bool: true if this call's write took effect.
//   - error: non-nil only on store failure, never on a terminal no-op.
func (r *TaskRepository) UpdateStatus(ctx context.Context, taskID string, status domain.Status, result domain.JSONMap, errMsg string) (*domain.Task, bool, error) {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	switch status {
	case domain.StatusCompleted:
		updates["result_payload"] = result
	case domain.StatusFailed:
		updates["error_message"] = errMsg
	}

	res := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("task_id = ? AND status NOT IN ?", taskID, terminalStatuses).
		Updates(updates)
	if res.Error != nil {
		return nil, false, res.Error
	}

	task, err := r.GetByTaskID(ctx, taskID)
	if err != nil {
		return nil, false, err
	}
	return task, res.RowsAffected > 0, nil
}
