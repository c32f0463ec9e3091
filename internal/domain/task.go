package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskKind selects which pipeline stage sequence a task runs.
type TaskKind string

const (
	KindDocument    TaskKind = "document"
	KindVideoUpload TaskKind = "video_upload"
	KindVideoURL    TaskKind = "video_url"
)

// ValidKind reports whether k is one of the supported task kinds.
func ValidKind(k TaskKind) bool {
	switch k {
	case KindDocument, KindVideoUpload, KindVideoURL:
		return true
	}
	return false
}

// TaskStatus represents the current state of a Task.
type TaskStatus string

const (
	StatusQueued    TaskStatus = "queued"
	StatusRunning   TaskStatus = "running"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether s is a final status. Terminal statuses are
// immutable once set.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is one unit of end-to-end content processing requested by a caller.
// ArtifactPath is the bare filename of the task's artifact inside the
// working directory; empty until acquisition completes for reference tasks
// and after cleanup.
type Task struct {
	ID           uuid.UUID  `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Kind         TaskKind   `json:"kind"`
	Status       TaskStatus `json:"status"`
	SourceURL    string     `json:"source_url,omitempty"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
	ResultPath   string     `json:"result_path,omitempty"`
	ErrorDetail  string     `json:"error_detail,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
