package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avoronova/content-analyzer/internal/cancel"
	"github.com/avoronova/content-analyzer/internal/domain"
	errpkg "github.com/avoronova/content-analyzer/internal/errors"
)

// TaskStore provides in-memory and file-based storage for tasks. All
// mutations are atomic with respect to concurrent readers, and terminal
// statuses are never overwritten.
type TaskStore struct {
	mu     sync.RWMutex
	tasks  map[uuid.UUID]*domain.Task
	tokens map[uuid.UUID]*cancel.Token

	// fileMu serializes state-file writes; concurrent persists share one
	// temp-file name and must land in snapshot order.
	fileMu sync.Mutex
	file   string
}

// NewTaskStore creates a new TaskStore and loads tasks from the state file
// if it exists. Tasks found in "running" state are demoted to "queued" so
// the engine can re-dispatch them after a crash.
func NewTaskStore(filePath string) (*TaskStore, error) {
	store := &TaskStore{
		tasks:  make(map[uuid.UUID]*domain.Task),
		tokens: make(map[uuid.UUID]*cancel.Token),
		file:   filepath.Clean(filePath),
	}

	if err := store.restoreTasks(); err != nil {
		return nil, fmt.Errorf("failed to load state from file: %w", err)
	}

	slog.Info("task store initialized", "file_path", store.file, "tasks_count", len(store.tasks))
	return store, nil
}

func (s *TaskStore) restoreTasks() error {
	data, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("state file does not exist, starting with empty state", "file_path", s.file)
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if len(data) == 0 {
		slog.Warn("state file is empty")
		return nil
	}

	var tasks []*domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return fmt.Errorf("failed to unmarshal state file: %w", err)
	}

	for _, task := range tasks {
		if task.Status == domain.StatusRunning {
			task.Status = domain.StatusQueued
			task.UpdatedAt = time.Now()
		}
		s.tasks[task.ID] = task
		if !task.Status.Terminal() {
			s.tokens[task.ID] = cancel.NewToken()
		}
	}

	slog.Info("state loaded from file", "tasks_count", len(tasks), "file_path", s.file)
	return nil
}

func (s *TaskStore) persistTasks() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	// Copy task values, not pointers: the marshal below runs outside s.mu
	// and must not read structs that concurrent mutations are writing.
	s.mu.RLock()
	tasks := make([]*domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		snapshot := *task
		tasks = append(tasks, &snapshot)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	tempFile := s.file + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempFile, s.file); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	slog.Debug("state saved to file", "tasks_count", len(tasks), "file_path", s.file)
	return nil
}

// Create adds a new task in "queued" status, mints its cancellation token,
// and persists the state file.
func (s *TaskStore) Create(ctx context.Context, owner string, kind domain.TaskKind, sourceURL, artifactPath string) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	task := &domain.Task{
		ID:           uuid.New(),
		OwnerID:      owner,
		Kind:         kind,
		Status:       domain.StatusQueued,
		SourceURL:    sourceURL,
		ArtifactPath: artifactPath,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.tokens[task.ID] = cancel.NewToken()
	s.mu.Unlock()

	if err := s.persistTasks(); err != nil {
		return nil, fmt.Errorf("failed to save state after creating task: %w", err)
	}

	slog.Debug("task created and saved", "task_id", task.ID, "kind", kind)
	snapshot := *task
	return &snapshot, nil
}

// Get retrieves a copy of a task by ID.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	task, exists := s.tasks[id]
	var snapshot domain.Task
	if exists {
		snapshot = *task
	}
	s.mu.RUnlock()

	if !exists {
		return nil, errpkg.ErrTaskNotFound
	}
	return &snapshot, nil
}

// SetStatus transitions a task and persists the change. Attempting to
// mutate a task that is already terminal returns ErrTaskTerminal so callers
// can detect the race between their request and the task's completion.
// ErrorDetail is kept only for failed tasks.
func (s *TaskStore) SetStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, detail string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	task, exists := s.tasks[id]
	if !exists {
		s.mu.Unlock()
		return errpkg.ErrTaskNotFound
	}
	if task.Status.Terminal() {
		s.mu.Unlock()
		return errpkg.ErrTaskTerminal
	}

	task.Status = status
	if status == domain.StatusFailed {
		task.ErrorDetail = detail
	} else {
		task.ErrorDetail = ""
	}
	task.UpdatedAt = time.Now()
	if status.Terminal() {
		delete(s.tokens, id)
	}
	s.mu.Unlock()

	if err := s.persistTasks(); err != nil {
		return fmt.Errorf("failed to save state after updating task: %w", err)
	}

	slog.Debug("task status updated", "task_id", id, "status", status)
	return nil
}

// SetArtifact records the task's working-directory artifact filename.
func (s *TaskStore) SetArtifact(ctx context.Context, id uuid.UUID, artifactPath string) error {
	return s.update(ctx, id, func(task *domain.Task) {
		task.ArtifactPath = artifactPath
	})
}

// SetResult records the location of the task's persisted analysis result.
func (s *TaskStore) SetResult(ctx context.Context, id uuid.UUID, resultPath string) error {
	return s.update(ctx, id, func(task *domain.Task) {
		task.ResultPath = resultPath
	})
}

func (s *TaskStore) update(ctx context.Context, id uuid.UUID, apply func(*domain.Task)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	task, exists := s.tasks[id]
	if !exists {
		s.mu.Unlock()
		return errpkg.ErrTaskNotFound
	}
	apply(task)
	task.UpdatedAt = time.Now()
	s.mu.Unlock()

	if err := s.persistTasks(); err != nil {
		return fmt.Errorf("failed to save state after updating task: %w", err)
	}
	return nil
}

// ListActive returns all tasks that have not reached a terminal status.
func (s *TaskStore) ListActive(ctx context.Context) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var active []*domain.Task
	for _, task := range s.tasks {
		if !task.Status.Terminal() {
			snapshot := *task
			active = append(active, &snapshot)
		}
	}
	s.mu.RUnlock()

	return active, nil
}

// ListTerminalOlderThan returns terminal tasks whose last transition is
// older than the given age.
func (s *TaskStore) ListTerminalOlderThan(ctx context.Context, age time.Duration) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-age)

	s.mu.RLock()
	var expired []*domain.Task
	for _, task := range s.tasks {
		if task.Status.Terminal() && task.UpdatedAt.Before(cutoff) {
			snapshot := *task
			expired = append(expired, &snapshot)
		}
	}
	s.mu.RUnlock()

	return expired, nil
}

// Delete removes a task record and its token, then persists the state file.
func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.tasks[id]; !exists {
		s.mu.Unlock()
		return errpkg.ErrTaskNotFound
	}
	delete(s.tasks, id)
	delete(s.tokens, id)
	s.mu.Unlock()

	if err := s.persistTasks(); err != nil {
		return fmt.Errorf("failed to save state after deleting task: %w", err)
	}

	slog.Debug("task deleted", "task_id", id)
	return nil
}

// RequestCancel sets the task's abort flag. The flag only becomes effective
// at the worker's next checkpoint; it never stops execution directly.
// Cancelling an already-terminal task returns ErrTaskTerminal since the
// caller's intent is already satisfied.
func (s *TaskStore) RequestCancel(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	task, exists := s.tasks[id]
	var token *cancel.Token
	var terminal bool
	if exists {
		terminal = task.Status.Terminal()
		token = s.tokens[id]
	}
	s.mu.RUnlock()

	if !exists {
		return errpkg.ErrTaskNotFound
	}
	if terminal || token == nil {
		return errpkg.ErrTaskTerminal
	}

	token.Cancel()
	slog.Info("cancellation requested", "task_id", id)
	return nil
}

// IsCancelled reports whether cancellation was requested for the task.
// Unknown or already-terminal tasks report false.
func (s *TaskStore) IsCancelled(id uuid.UUID) bool {
	s.mu.RLock()
	token := s.tokens[id]
	s.mu.RUnlock()

	return token != nil && token.Cancelled()
}
