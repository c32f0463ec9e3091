package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/avoronova/content-analyzer/internal/domain"
)

// TaskRepo defines the interface for task storage operations. The store
// also owns every task's cancellation token; other components only observe
// the flag or request a set through it.
type TaskRepo interface {
	Create(ctx context.Context, owner string, kind domain.TaskKind, sourceURL, artifactPath string) (*domain.Task, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	SetStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, detail string) error
	SetArtifact(ctx context.Context, id uuid.UUID, artifactPath string) error
	SetResult(ctx context.Context, id uuid.UUID, resultPath string) error
	ListActive(ctx context.Context) ([]*domain.Task, error)
	ListTerminalOlderThan(ctx context.Context, age time.Duration) ([]*domain.Task, error)
	Delete(ctx context.Context, id uuid.UUID) error

	RequestCancel(ctx context.Context, id uuid.UUID) error
	IsCancelled(id uuid.UUID) bool
}
