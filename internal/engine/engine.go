// Package engine runs one worker per active task, sequences pipeline
// stages, and drives every task to exactly one terminal status.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avoronova/content-analyzer/internal/domain"
	errpkg "github.com/avoronova/content-analyzer/internal/errors"
	"github.com/avoronova/content-analyzer/internal/metrics"
	"github.com/avoronova/content-analyzer/internal/repository"
	"github.com/avoronova/content-analyzer/internal/stage"
)

// Cleaner releases a task's artifact on terminal transitions. Satisfied by
// reclaimer.Reclaimer.
type Cleaner interface {
	CleanupTask(ctx context.Context, task *domain.Task) error
}

// Engine dispatches and supervises task workers.
type Engine struct {
	repo      repository.TaskRepo
	cleaner   Cleaner
	sequences map[domain.TaskKind][]stage.Stage
	logger    *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

// New creates an Engine. The sequences map fixes the supported pipeline
// shapes; the engine never composes stages dynamically.
func New(repo repository.TaskRepo, cleaner Cleaner, sequences map[domain.TaskKind][]stage.Stage, logger *slog.Logger) *Engine {
	ctx, cancelFunc := context.WithCancel(context.Background())
	return &Engine{
		repo:       repo,
		cleaner:    cleaner,
		sequences:  sequences,
		logger:     logger,
		ctx:        ctx,
		cancelFunc: cancelFunc,
		active:     make(map[uuid.UUID]struct{}),
	}
}

// Submit dispatches a worker for the task unless one is already bound to
// it. Re-submission of an in-flight task is a no-op, which enforces
// at-most-one concurrent execution per task id.
func (e *Engine) Submit(taskID uuid.UUID) error {
	e.mu.Lock()
	if _, running := e.active[taskID]; running {
		e.mu.Unlock()
		e.logger.Debug("task already has an active worker", "task_id", taskID)
		return nil
	}
	e.active[taskID] = struct{}{}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.active, taskID)
			e.mu.Unlock()
		}()
		e.run(taskID)
	}()

	return nil
}

// Resubmit re-dispatches all queued tasks, used at startup to pick up work
// interrupted by a previous run.
func (e *Engine) Resubmit(ctx context.Context) error {
	active, err := e.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active tasks: %w", err)
	}

	requeued := 0
	for _, task := range active {
		if task.Status != domain.StatusQueued {
			continue
		}
		if err := e.Submit(task.ID); err != nil {
			e.logger.Error("failed to resubmit task", "task_id", task.ID, "error", err)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		e.logger.Info("resubmitted interrupted tasks", "count", requeued)
	}
	return nil
}

func (e *Engine) run(taskID uuid.UUID) {
	ctx := e.ctx

	task, err := e.repo.Get(ctx, taskID)
	if err != nil {
		e.logger.Error("worker could not load task", "task_id", taskID, "error", err)
		return
	}

	// Dispatch checks cancellation before transitioning to running so work
	// already deemed unwanted never starts.
	if e.repo.IsCancelled(taskID) {
		e.finish(ctx, task, domain.StatusCancelled, "")
		return
	}

	if err := e.repo.SetStatus(ctx, taskID, domain.StatusRunning, ""); err != nil {
		e.logger.Error("failed to mark task running", "task_id", taskID, "error", err)
		return
	}

	e.logger.Info("task started", "task_id", taskID, "kind", task.Kind)

	sequence, ok := e.sequences[task.Kind]
	if !ok {
		e.finish(ctx, task, domain.StatusFailed, fmt.Sprintf("no pipeline for kind %q", task.Kind))
		return
	}

	job := &stage.Job{
		TaskID:       task.ID,
		Kind:         task.Kind,
		SourceURL:    task.SourceURL,
		ArtifactPath: task.ArtifactPath,
	}
	cancelCheck := func() bool { return e.repo.IsCancelled(taskID) }

	for _, st := range sequence {
		if cancelCheck() {
			e.finish(ctx, task, domain.StatusCancelled, "")
			return
		}

		start := time.Now()
		err := st.Run(ctx, job, cancelCheck)
		metrics.StageDuration.WithLabelValues(st.Name()).Observe(time.Since(start).Seconds())

		e.syncArtifact(ctx, task, job)

		if err != nil {
			// Shutdown aborts the stage through the base context; the task
			// stays running on disk and is demoted to queued on restart.
			if errors.Is(err, context.Canceled) && e.ctx.Err() != nil && !cancelCheck() {
				e.logger.Warn("worker interrupted by shutdown", "task_id", taskID, "stage", st.Name())
				return
			}

			if e.isCancellation(err, taskID) {
				e.logger.Info("task cancelled during stage", "task_id", taskID, "stage", st.Name())
				e.finish(ctx, task, domain.StatusCancelled, "")
				return
			}

			e.logger.Error("stage failed", "task_id", taskID, "stage", st.Name(), "error", err)
			e.finish(ctx, task, domain.StatusFailed, fmt.Sprintf("%s: %v", st.Name(), err))
			return
		}
	}

	if job.ResultPath != "" {
		if err := e.repo.SetResult(ctx, taskID, job.ResultPath); err != nil {
			e.logger.Error("failed to record result path", "task_id", taskID, "error", err)
		}
	}

	e.finish(ctx, task, domain.StatusSucceeded, "")
}

// isCancellation classifies a stage error. A deadline expiry that raced
// with a cancellation request counts as cancelled, not failed: the caller
// asked for the work to stop and it did.
func (e *Engine) isCancellation(err error, taskID uuid.UUID) bool {
	if errpkg.IsCancellation(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) && e.repo.IsCancelled(taskID) {
		return true
	}
	return false
}

func (e *Engine) syncArtifact(ctx context.Context, task *domain.Task, job *stage.Job) {
	if job.ArtifactPath == task.ArtifactPath {
		return
	}
	if err := e.repo.SetArtifact(ctx, task.ID, job.ArtifactPath); err != nil {
		e.logger.Error("failed to record artifact path", "task_id", task.ID, "error", err)
		return
	}
	task.ArtifactPath = job.ArtifactPath
}

// finish applies the terminal transition and triggers immediate cleanup
// exactly once for it.
func (e *Engine) finish(ctx context.Context, task *domain.Task, status domain.TaskStatus, detail string) {
	if err := e.repo.SetStatus(ctx, task.ID, status, detail); err != nil {
		e.logger.Error("failed to set terminal status",
			"task_id", task.ID,
			"status", status,
			"error", err,
		)
		return
	}

	switch status {
	case domain.StatusSucceeded:
		metrics.TasksSucceeded.Inc()
	case domain.StatusFailed:
		metrics.TasksFailed.Inc()
	case domain.StatusCancelled:
		metrics.TasksCancelled.Inc()
	}

	current, err := e.repo.Get(ctx, task.ID)
	if err != nil {
		e.logger.Error("failed to reload task for cleanup", "task_id", task.ID, "error", err)
		return
	}
	if err := e.cleaner.CleanupTask(ctx, current); err != nil {
		e.logger.Error("immediate cleanup failed", "task_id", task.ID, "error", err)
	}

	e.logger.Info("task finished", "task_id", task.ID, "status", status)
}

// Stop waits for all in-flight workers. If the context expires first, the
// base context is cancelled to abort the remaining stage calls.
func (e *Engine) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancelFunc()
		e.logger.Info("engine stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn("engine stop timed out, aborting workers")
		e.cancelFunc()
		<-done
		return ctx.Err()
	}
}
