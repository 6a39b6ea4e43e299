package service

import (
	"context"

	"github.com/timmy/adforge/internal/domain"
	"github.com/timmy/adforge/internal/jobservice"
	"github.com/timmy/adforge/internal/logger"
)

// StatusPoller is the polling fallback to the status stream; satisfied by
// *jobservice.Client.
type StatusPoller interface {
	FetchStatus(ctx context.Context, taskID string) (*jobservice.StatusEvent, error)
	FetchResult(ctx context.Context, taskID string) (map[string]interface{}, error)
}

// Reconciler repairs the gap between stored task state and live upstream
// subscriptions: on startup it resumes every non-terminal task (finalizing
// directly when the upstream already reached a terminal state, resubscribing
// otherwise), and on demand it re-attaches a task whose subscription was lost
// (crash, redeploy) while the task is still in flight.
type Reconciler struct {
	registry *TaskRegistry
	relay    *StreamRelay
	poller   StatusPoller
}

// NewReconciler creates a new Reconciler.
// Parameters:
//   - registry: task registry service.
//   - relay: stream relay owning upstream subscriptions.
//   - poller: status polling fallback, nil to always resubscribe.
// Returns:
//   - *Reconciler: initialized reconciler.
func NewReconciler(registry *TaskRegistry, relay *StreamRelay, poller StatusPoller) *Reconciler {
	return &Reconciler{registry: registry, relay: relay, poller: poller}
}

// ResumePending resumes every stored task still in a non-terminal state.
// Called once at startup. Tasks the upstream has already finished are
// finalized from a one-shot status poll; the rest get a fresh relay
// subscription which picks the stream back up from the service's current
// state.
// Parameters:
//   - ctx: context for the store reads and status polls.
// Returns:
//   - int: number of tasks resumed (finalized or resubscribed).
//   - error: store error listing tasks.
func (r *Reconciler) ResumePending(ctx context.Context) (int, error) {
	ctx = logger.WithField(ctx, logger.FieldComponent, "reconciler")

	resumed := 0
	for _, status := range []domain.Status{domain.StatusPending, domain.StatusProcessing} {
		tasks, err := r.registry.ListByStatus(ctx, status)
		if err != nil {
			return resumed, err
		}
		for i := range tasks {
			r.resume(ctx, &tasks[i])
			resumed++
		}
	}
	if resumed > 0 {
		logger.CtxInfo(ctx, "Startup reconciliation resumed %d in-flight task(s)", resumed)
	}
	return resumed, nil
}

// resume finalizes a task whose upstream outcome is already known, or
// resubscribes to its stream when it is still running. Poll failures fall
// back to resubscription; the stream carries the same information.
func (r *Reconciler) resume(ctx context.Context, task *domain.Task) {
	ctx = logger.SetTaskID(ctx, task.TaskID)

	if r.poller != nil {
		ev, err := r.poller.FetchStatus(ctx, task.TaskID)
		if err != nil {
			logger.CtxWarn(ctx, "Status poll failed, falling back to stream: error=%v", err)
		} else if ev.Terminal() {
			r.finalizeFromPoll(ctx, task, ev)
			return
		}
	}

	r.relay.EnsureSubscription(task.TaskID)
	logger.CtxInfo(ctx, "Resumed in-flight task: status=%s, kind=%s", task.Status, task.SubjectKind)
}

// finalizeFromPoll applies a polled terminal outcome through the same
// conditional-write path the relay uses. A completed status with no inline
// result pulls the full result first.
func (r *Reconciler) finalizeFromPoll(ctx context.Context, task *domain.Task, ev *jobservice.StatusEvent) {
	outcome := *ev
	if outcome.Status == string(domain.StatusCompleted) && len(outcome.Result) == 0 {
		result, err := r.poller.FetchResult(ctx, task.TaskID)
		if err != nil {
			logger.CtxWarn(ctx, "Result fetch failed, falling back to stream: error=%v", err)
			r.relay.EnsureSubscription(task.TaskID)
			return
		}
		outcome.Result = result
	}

	status := domain.Status(outcome.Status)
	if !status.Valid() {
		logger.CtxWarn(ctx, "Polled status %q unknown, falling back to stream", outcome.Status)
		r.relay.EnsureSubscription(task.TaskID)
		return
	}
	if err := r.relay.apply(ctx, task, status, outcome); err != nil {
		logger.CtxError(ctx, "Failed to finalize polled task, left in last known state: error=%v", err)
		return
	}
	logger.CtxInfo(ctx, "Finalized task from status poll: status=%s, kind=%s", status, task.SubjectKind)
}

// Reattach ensures a stored non-terminal task has a live subscription, used
// when a client asks about a task this process has no relay entry for.
// Terminal tasks are left alone.
// Parameters:
//   - ctx: context for the store read.
//   - taskID: external task identifier.
// Returns:
//   - *domain.Task: current stored task.
//   - error: store error or record-not-found.
func (r *Reconciler) Reattach(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := r.registry.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.Status.Terminal() && !r.relay.Active(task.TaskID) {
		logger.CtxInfo(ctx, "Reattaching lost subscription: task_id=%s, status=%s", task.TaskID, task.Status)
		r.relay.EnsureSubscription(task.TaskID)
	}
	return task, nil
}
