// Package service is the boundary facade consumed by the web layer:
// creation, status, cancellation, and cleanup introspection.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/avoronova/content-analyzer/internal/domain"
	"github.com/avoronova/content-analyzer/internal/engine"
	errpkg "github.com/avoronova/content-analyzer/internal/errors"
	"github.com/avoronova/content-analyzer/internal/metrics"
	"github.com/avoronova/content-analyzer/internal/reclaimer"
	"github.com/avoronova/content-analyzer/internal/repository"
	"github.com/avoronova/content-analyzer/internal/storage"
	"github.com/avoronova/content-analyzer/internal/validation"
)

// TaskService wires the task store, the execution engine, and the
// reclaimer behind the boundary operations.
type TaskService struct {
	repo            repository.TaskRepo
	engine          *engine.Engine
	reclaimer       *reclaimer.Reclaimer
	intake          *storage.FileStorage
	maxUploadSize   int64
	retentionWindow time.Duration
	orphanThreshold time.Duration
	logger          *slog.Logger
}

// NewTaskService creates the boundary facade.
func NewTaskService(
	repo repository.TaskRepo,
	eng *engine.Engine,
	rec *reclaimer.Reclaimer,
	intake *storage.FileStorage,
	maxUploadSize int64,
	retentionWindow, orphanThreshold time.Duration,
	logger *slog.Logger,
) *TaskService {
	return &TaskService{
		repo:            repo,
		engine:          eng,
		reclaimer:       rec,
		intake:          intake,
		maxUploadSize:   maxUploadSize,
		retentionWindow: retentionWindow,
		orphanThreshold: orphanThreshold,
		logger:          logger,
	}
}

// CreateTask validates the source for the requested kind, records the task,
// and dispatches its worker.
func (s *TaskService) CreateTask(ctx context.Context, req *domain.CreateTaskRequest) (*domain.Task, error) {
	kind := domain.TaskKind(req.Kind)
	if !domain.ValidKind(kind) {
		return nil, fmt.Errorf("%w: unknown kind %q", errpkg.ErrInvalidSource, req.Kind)
	}

	var sourceURL, artifactPath string
	switch kind {
	case domain.KindVideoURL:
		if err := validation.ValidateSourceURL(req.Source); err != nil {
			return nil, fmt.Errorf("%w: %v", errpkg.ErrInvalidSource, err)
		}
		sourceURL = req.Source
	default:
		filename := filepath.Base(req.Source)
		if filename != req.Source || filename == "." || filename == "/" {
			return nil, fmt.Errorf("%w: invalid intake filename %q", errpkg.ErrInvalidSource, req.Source)
		}
		if !s.intake.FileExists(filename) {
			return nil, fmt.Errorf("%w: intake file %q not found", errpkg.ErrInvalidSource, filename)
		}
		artifactPath = filename
	}

	task, err := s.repo.Create(ctx, req.OwnerID, kind, sourceURL, artifactPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	metrics.TasksCreated.Inc()

	if err := s.engine.Submit(task.ID); err != nil {
		return nil, fmt.Errorf("failed to dispatch task: %w", err)
	}

	s.logger.Info("task created",
		"task_id", task.ID,
		"owner_id", task.OwnerID,
		"kind", task.Kind,
	)
	return task, nil
}

// GetTask returns the task if it exists and belongs to the owner. An empty
// ownerID skips the ownership check (privileged callers).
func (s *TaskService) GetTask(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Task, error) {
	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && task.OwnerID != ownerID {
		return nil, errpkg.ErrTaskNotFound
	}
	return task, nil
}

// CancelTask requests cooperative cancellation. Already-terminal tasks
// report ErrTaskTerminal so the caller can distinguish the race from a
// missing task.
func (s *TaskService) CancelTask(ctx context.Context, ownerID string, id uuid.UUID) error {
	if _, err := s.GetTask(ctx, ownerID, id); err != nil {
		return err
	}
	return s.repo.RequestCancel(ctx, id)
}

// SaveUpload stores an intake file under a collision-free name and returns
// the name to reference as a task source.
func (s *TaskService) SaveUpload(ctx context.Context, filename string, src io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	base := filepath.Base(filename)
	if base != filename || base == "." || base == "/" {
		return "", fmt.Errorf("%w: invalid upload filename %q", errpkg.ErrInvalidSource, filename)
	}

	stored := uuid.New().String() + "_" + base
	limited := io.LimitReader(src, s.maxUploadSize+1)
	written, err := s.intake.CopyFile(limited, stored)
	if err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	if written > s.maxUploadSize {
		if rmErr := s.intake.Remove(stored); rmErr != nil {
			s.logger.Warn("failed to remove oversized upload", "filename", stored, "error", rmErr)
		}
		return "", fmt.Errorf("%w: upload exceeds %d bytes", errpkg.ErrInvalidSource, s.maxUploadSize)
	}

	s.logger.Info("upload stored", "filename", stored, "bytes", written)
	return stored, nil
}

// CleanupStats reports the current working-area contents.
func (s *TaskService) CleanupStats(ctx context.Context) (*reclaimer.Stats, error) {
	return s.reclaimer.Stats(ctx)
}

// TriggerSweep runs a manual reclamation pass. Non-positive windows fall
// back to the configured defaults.
func (s *TaskService) TriggerSweep(ctx context.Context, retentionWindow, orphanThreshold time.Duration) (*reclaimer.SweepReport, error) {
	if retentionWindow <= 0 {
		retentionWindow = s.retentionWindow
	}
	if orphanThreshold <= 0 {
		orphanThreshold = s.orphanThreshold
	}
	return s.reclaimer.Sweep(ctx, retentionWindow, orphanThreshold)
}
