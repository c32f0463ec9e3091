package domain

import (
	"time"

	"github.com/google/uuid"
)

// CreateTaskRequest represents the request body for creating a new Task.
// Source is an intake filename for upload kinds and a remote URL for
// video_url tasks.
type CreateTaskRequest struct {
	OwnerID string `json:"owner_id" validate:"required"`
	Kind    string `json:"kind" validate:"required,oneof=document video_upload video_url"`
	Source  string `json:"source" validate:"required"`
}

// TaskStatusResponse is the polled view of a task's progress.
type TaskStatusResponse struct {
	ID          uuid.UUID  `json:"task_id"`
	Kind        TaskKind   `json:"kind"`
	Status      TaskStatus `json:"status"`
	ErrorDetail string     `json:"error_detail,omitempty"`
	ResultRef   string     `json:"result_ref,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewTaskStatusResponse maps a Task to its polled representation.
func NewTaskStatusResponse(t *Task) TaskStatusResponse {
	return TaskStatusResponse{
		ID:          t.ID,
		Kind:        t.Kind,
		Status:      t.Status,
		ErrorDetail: t.ErrorDetail,
		ResultRef:   t.ResultPath,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// SweepRequest optionally overrides the configured reclamation windows for
// a manual sweep.
type SweepRequest struct {
	RetentionHours int `json:"retention_hours" validate:"omitempty,min=0"`
	OrphanHours    int `json:"orphan_hours" validate:"omitempty,min=0"`
}
