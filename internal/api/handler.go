package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/avoronova/content-analyzer/internal/domain"
	errpkg "github.com/avoronova/content-analyzer/internal/errors"
	"github.com/avoronova/content-analyzer/internal/reclaimer"
)

// ownerHeader carries the requesting principal, forwarded by the
// authenticating layer in front of this service.
const ownerHeader = "X-Owner-ID"

// TaskServiceI defines the interface for task-related business logic.
type TaskServiceI interface {
	CreateTask(ctx context.Context, req *domain.CreateTaskRequest) (*domain.Task, error)
	GetTask(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Task, error)
	CancelTask(ctx context.Context, ownerID string, id uuid.UUID) error
	SaveUpload(ctx context.Context, filename string, src io.Reader) (string, error)
	CleanupStats(ctx context.Context) (*reclaimer.Stats, error)
	TriggerSweep(ctx context.Context, retentionWindow, orphanThreshold time.Duration) (*reclaimer.SweepReport, error)
}

// TaskHandler handles HTTP requests for tasks and cleanup introspection.
type TaskHandler struct {
	taskService TaskServiceI
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewTaskHandler creates a new TaskHandler with the provided service and logger.
func NewTaskHandler(taskService TaskServiceI, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		validator:   validator.New(),
		logger:      logger,
	}
}

// CreateTask handles the HTTP POST /tasks request to create a new task.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.taskService.CreateTask(ctx, &req)
	if err != nil {
		if errors.Is(err, errpkg.ErrInvalidSource) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create task", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"task_id": task.ID,
	})
}

// GetTask handles the HTTP GET /tasks/{taskID} request polled for progress.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	task, err := h.taskService.GetTask(ctx, r.Header.Get(ownerHeader), taskID)
	if err != nil {
		if errors.Is(err, errpkg.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("failed to get task", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, domain.NewTaskStatusResponse(task))
}

// CancelTask handles the HTTP POST /tasks/{taskID}/cancel request. The
// response distinguishes a task that already reached a terminal status from
// a missing one.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	err := h.taskService.CancelTask(ctx, r.Header.Get(ownerHeader), taskID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"result": "ok"})
	case errors.Is(err, errpkg.ErrTaskTerminal):
		writeJSON(w, http.StatusConflict, map[string]string{"result": "already-terminal"})
	case errors.Is(err, errpkg.ErrTaskNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"result": "not-found"})
	default:
		h.logger.Error("failed to cancel task", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// Upload handles the HTTP PUT /uploads/{filename} intake request.
func (h *TaskHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer r.Body.Close()

	filename := chi.URLParam(r, "filename")
	stored, err := h.taskService.SaveUpload(ctx, filename, r.Body)
	if err != nil {
		if errors.Is(err, errpkg.ErrInvalidSource) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to store upload", "filename", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"source": stored})
}

// CleanupStatus handles the HTTP GET /cleanup/status request.
func (h *TaskHandler) CleanupStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.taskService.CleanupStats(r.Context())
	if err != nil {
		h.logger.Error("failed to collect cleanup stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// TriggerCleanup handles the HTTP POST /cleanup/files request, a privileged
// manual sweep. Window overrides in the body are optional.
func (h *TaskHandler) TriggerCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.SweepRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := h.validator.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	report, err := h.taskService.TriggerSweep(ctx,
		time.Duration(req.RetentionHours)*time.Hour,
		time.Duration(req.OrphanHours)*time.Hour,
	)
	if err != nil {
		h.logger.Error("manual sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func parseTaskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task ID")
		return uuid.Nil, false
	}
	return taskID, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
