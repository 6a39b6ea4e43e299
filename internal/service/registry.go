package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/timmy/adforge/internal/domain"
	"github.com/timmy/adforge/internal/logger"
	"github.com/timmy/adforge/internal/repository"
)

// TaskRegistry is the record of every job ever submitted by this backend.
// The entity store is the single source of truth; the registry is a thin
// service over it so all writes go through the conditional-update path.
type TaskRegistry struct {
	tasks *repository.TaskRepository
}

// NewTaskRegistry creates a new TaskRegistry.
func NewTaskRegistry(tasks *repository.TaskRepository) *TaskRegistry {
	return &TaskRegistry{tasks: tasks}
}

// Register records a pending task. Idempotent on task_id: calling again with
// the same task_id returns the existing record unchanged.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - task: task to record; LocalID is generated when empty.
// Returns:
//   - *domain.Task: the stored record.
//   - error: non-nil if the store write fails.
func (r *TaskRegistry) Register(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	if task.LocalID == "" {
		task.LocalID = uuid.New().String()
	}
	stored, err := r.tasks.Register(ctx, task)
	if err != nil {
		return nil, err
	}
	if stored.LocalID != task.LocalID {
		logger.CtxDebug(ctx, "Task already registered: task_id=%s", task.TaskID)
	}
	return stored, nil
}

// UpdateStatus transitions a task's status, enforcing the terminal-state
// invariant. A transition attempted from a terminal state is a no-op that
// returns the existing record; races between the stream and reconciliation
// pollers are expected, so this never errors for that case.
func (r *TaskRegistry) UpdateStatus(ctx context.Context, taskID string, status domain.Status, result domain.JSONMap, errMsg string) (*domain.Task, error) {
	task, applied, err := r.tasks.UpdateStatus(ctx, taskID, status, result, errMsg)
	if err != nil {
		return nil, err
	}
	if !applied {
		logger.CtxDebug(ctx, "Task already terminal, update skipped: task_id=%s, status=%s, attempted=%s",
			taskID, task.Status, status)
	}
	return task, nil
}

// Get retrieves a task by its external task id.
func (r *TaskRegistry) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	return r.tasks.GetByTaskID(ctx, taskID)
}

// ListByStatus retrieves tasks in a given status, ordered by created_at
// ascending.
func (r *TaskRegistry) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Task, error) {
	return r.tasks.ListByStatus(ctx, status)
}
