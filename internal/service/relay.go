package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/timmy/adforge/internal/domain"
	"github.com/timmy/adforge/internal/jobservice"
	"github.com/timmy/adforge/internal/logger"
)

// StatusStreamer opens a task's status stream; satisfied by
// *jobservice.Client.
type StatusStreamer interface {
	StreamStatus(ctx context.Context, taskID string, onEvent func(jobservice.StatusEvent) error) error
}

// TaskUpdate is the normalized event republished to local subscribers of a
// task's stream.
type TaskUpdate struct {
	TaskID string         `json:"task_id"`
	Status domain.Status  `json:"status"`
	Result domain.JSONMap `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// errStoreApply marks an event-application failure caused by the entity
// store. The in-flight task is left in its last known state in that case,
// never guessed at.
var errStoreApply = errors.New("store apply failed")

// StreamRelay maintains one independent upstream subscription per active
// task, applies events to the registry and entity store in receive order, and
// fans normalized updates out to local subscribers (browser SSE handlers).
// Subscriptions are deduped by task_id and closed only on a terminal event or
// process shutdown; dropping the last local subscriber does not tear down the
// upstream connection, since other views or future reloads may still care
// about the terminal outcome.
type StreamRelay struct {
	streamer StatusStreamer
	registry *TaskRegistry
	store    *StoreAdapter

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]*relaySubscription
}

type relaySubscription struct {
	listeners map[chan TaskUpdate]struct{}
}

// NewStreamRelay creates a new StreamRelay. Subscriptions run on the relay's
// own root context, detached from any request.
// Parameters:
//   - streamer: upstream status stream opener.
//   - registry: task registry service.
//   - store: concept/recipe store adapter.
// Returns:
//   - *StreamRelay: initialized relay.
func NewStreamRelay(streamer StatusStreamer, registry *TaskRegistry, store *StoreAdapter) *StreamRelay {
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamRelay{
		streamer: streamer,
		registry: registry,
		store:    store,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string]*relaySubscription),
	}
}

// Shutdown cancels every active upstream subscription. In-flight tasks keep
// their last known status; a later restart resumes them via the reconciler.
func (r *StreamRelay) Shutdown() {
	r.cancel()
}

// EnsureSubscription starts the upstream subscription for a task if one is
// not already active in this process. Safe to call repeatedly; duplicate
// calls are no-ops.
// Parameters:
//   - taskID: external task identifier.
func (r *StreamRelay) EnsureSubscription(taskID string) {
	if taskID == "" {
		return
	}
	r.mu.Lock()
	if _, ok := r.subs[taskID]; ok {
		r.mu.Unlock()
		return
	}
	r.subs[taskID] = &relaySubscription{listeners: make(map[chan TaskUpdate]struct{})}
	r.mu.Unlock()

	go r.run(taskID)
}

// Subscribe registers a local listener for a task's updates and ensures the
// upstream subscription is active. The returned cancel removes only this
// listener; the upstream subscription stays alive until a terminal event.
// The channel is closed when the upstream subscription ends.
// Parameters:
//   - taskID: external task identifier.
// Returns:
//   - <-chan TaskUpdate: buffered update channel (already closed if the
//     subscription has ended).
//   - func(): listener teardown.
func (r *StreamRelay) Subscribe(taskID string) (<-chan TaskUpdate, func()) {
	r.EnsureSubscription(taskID)

	ch := make(chan TaskUpdate, 8)
	r.mu.Lock()
	sub, ok := r.subs[taskID]
	if !ok {
		// Subscription already finished between Ensure and here.
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	sub.listeners[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if sub, ok := r.subs[taskID]; ok {
			delete(sub.listeners, ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

// Active reports whether an upstream subscription for the task is currently
// running in this process.
func (r *StreamRelay) Active(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[taskID]
	return ok
}

func (r *StreamRelay) run(taskID string) {
	ctx := logger.WithFields(r.ctx, logger.Fields{
		logger.FieldComponent: "stream_relay",
		logger.FieldTaskID:    taskID,
	})
	defer r.teardown(taskID)

	task, err := r.registry.Get(ctx, taskID)
	if err != nil {
		logger.CtxError(ctx, "Relay cannot load task, dropping subscription: error=%v", err)
		return
	}
	if task.Status.Terminal() {
		r.broadcast(taskID, TaskUpdate{
			TaskID: taskID,
			Status: task.Status,
			Result: task.ResultPayload,
			Error:  task.ErrorMessage,
		})
		return
	}

	// Within one subscription events apply strictly in receive order; a
	// regression (an event ranked below the last applied status) is
	// discarded and logged, not applied.
	lastRank := statusRank(task.Status)
	streamErr := r.streamer.StreamStatus(ctx, taskID, func(ev jobservice.StatusEvent) error {
		status := domain.Status(ev.Status)
		if !status.Valid() {
			logger.CtxWarn(ctx, "Skipping event with unknown status %q", ev.Status)
			return nil
		}
		rank := statusRank(status)
		if rank < lastRank {
			logger.CtxWarn(ctx, "Discarding out-of-order status regression: %s", status)
			return nil
		}
		lastRank = rank
		return r.apply(ctx, task, status, ev)
	})

	switch {
	case streamErr == nil:
		// Terminal event processed; subscription closes.
	case errors.Is(streamErr, context.Canceled):
		logger.CtxInfo(ctx, "Relay subscription canceled")
	case errors.Is(streamErr, errStoreApply):
		logger.CtxError(ctx, "Relay stopped on store failure, task left in last known state: error=%v", streamErr)
	default:
		reason := streamErr.Error()
		if errors.Is(streamErr, jobservice.ErrStreamClosedPrematurely) {
			reason = jobservice.ReasonStreamClosedPrematurely
		}
		logger.CtxWarn(ctx, "Relay stream failed, marking task failed: reason=%s", reason)
		r.finalizeFailure(ctx, task, reason)
	}
}

// apply drives one event through the two-step commit: task registry first,
// then (on terminal events) the owning entity. Both writes are conditioned on
// the stored status being non-terminal, so re-running either after a restart
// is safe.
func (r *StreamRelay) apply(ctx context.Context, task *domain.Task, status domain.Status, ev jobservice.StatusEvent) error {
	switch status {
	case domain.StatusPending, domain.StatusProcessing:
		if _, err := r.registry.UpdateStatus(ctx, task.TaskID, status, nil, ""); err != nil {
			return fmt.Errorf("%w: %v", errStoreApply, err)
		}
		if status == domain.StatusProcessing {
			if err := r.store.MarkProcessing(ctx, task); err != nil {
				logger.CtxWarn(ctx, "Failed to mark entity processing: entity_id=%s, error=%v", task.EntityID, err)
			}
		}
		r.broadcast(task.TaskID, TaskUpdate{TaskID: task.TaskID, Status: status})

	case domain.StatusCompleted:
		result := domain.JSONMap(ev.Result)
		if _, err := r.registry.UpdateStatus(ctx, task.TaskID, domain.StatusCompleted, result, ""); err != nil {
			return fmt.Errorf("%w: %v", errStoreApply, err)
		}
		if err := r.completeEntity(ctx, task, result); err != nil {
			return fmt.Errorf("%w: %v", errStoreApply, err)
		}
		r.broadcast(task.TaskID, TaskUpdate{TaskID: task.TaskID, Status: domain.StatusCompleted, Result: result})

	case domain.StatusFailed:
		msg := ev.Error
		if msg == "" {
			msg = "task failed"
		}
		if _, err := r.registry.UpdateStatus(ctx, task.TaskID, domain.StatusFailed, nil, msg); err != nil {
			return fmt.Errorf("%w: %v", errStoreApply, err)
		}
		if err := r.failEntity(ctx, task, msg); err != nil {
			return fmt.Errorf("%w: %v", errStoreApply, err)
		}
		r.broadcast(task.TaskID, TaskUpdate{TaskID: task.TaskID, Status: domain.StatusFailed, Error: msg})
	}
	return nil
}

func (r *StreamRelay) completeEntity(ctx context.Context, task *domain.Task, result domain.JSONMap) error {
	switch task.SubjectKind {
	case domain.SubjectAdConcept:
		_, err := r.store.CompleteConcept(ctx, task.EntityID, result)
		return err
	case domain.SubjectAdRecipe:
		_, err := r.store.CompleteRecipe(ctx, task.EntityID, result)
		return err
	}
	return nil
}

func (r *StreamRelay) failEntity(ctx context.Context, task *domain.Task, msg string) error {
	switch task.SubjectKind {
	case domain.SubjectAdConcept:
		_, err := r.store.FailConcept(ctx, task.EntityID, msg)
		return err
	case domain.SubjectAdRecipe:
		_, err := r.store.FailRecipe(ctx, task.EntityID, msg)
		return err
	}
	return nil
}

// finalizeFailure marks both the task and its owning entity failed. All
// writes are conditional, so if something else already finalized the task
// this collapses to a no-op.
func (r *StreamRelay) finalizeFailure(ctx context.Context, task *domain.Task, reason string) {
	if _, err := r.registry.UpdateStatus(ctx, task.TaskID, domain.StatusFailed, nil, reason); err != nil {
		logger.CtxError(ctx, "Failed to mark task failed: error=%v", err)
		return
	}
	if err := r.failEntity(ctx, task, reason); err != nil {
		logger.CtxError(ctx, "Failed to mark entity failed: entity_id=%s, error=%v", task.EntityID, err)
		return
	}
	r.broadcast(task.TaskID, TaskUpdate{TaskID: task.TaskID, Status: domain.StatusFailed, Error: reason})
}

// broadcast fans an update out to local listeners. Sends never block; a
// listener with a full buffer misses the update and catches up from the
// store on its next snapshot read.
func (r *StreamRelay) broadcast(taskID string, update TaskUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[taskID]
	if !ok {
		return
	}
	for ch := range sub.listeners {
		select {
		case ch <- update:
		default:
			logger.Warn("Dropping task update, subscriber buffer full: task_id=%s", taskID)
		}
	}
}

// teardown removes the subscription and closes all listener channels.
func (r *StreamRelay) teardown(taskID string) {
	r.mu.Lock()
	sub, ok := r.subs[taskID]
	delete(r.subs, taskID)
	r.mu.Unlock()
	if !ok {
		return
	}
	for ch := range sub.listeners {
		close(ch)
	}
}

// statusRank orders lifecycle states for the in-subscription regression
// guard.
func statusRank(s domain.Status) int {
	switch s {
	case domain.StatusPending:
		return 0
	case domain.StatusProcessing:
		return 1
	case domain.StatusCompleted, domain.StatusFailed:
		return 2
	}
	return 0
}
