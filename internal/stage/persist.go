package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avoronova/content-analyzer/internal/analyzer"
	"github.com/avoronova/content-analyzer/internal/domain"
	errpkg "github.com/avoronova/content-analyzer/internal/errors"
	"github.com/avoronova/content-analyzer/internal/storage"
)

// Persistence writes the analysis result into the results directory, which
// lives outside the working area so the sweep never touches it.
type Persistence struct {
	results *storage.FileStorage
	logger  *slog.Logger
}

type resultDocument struct {
	TaskID      uuid.UUID        `json:"task_id"`
	Kind        domain.TaskKind  `json:"kind"`
	Analysis    *analyzer.Result `json:"analysis"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// NewPersistence creates the persistence stage.
func NewPersistence(results *storage.FileStorage, logger *slog.Logger) *Persistence {
	return &Persistence{results: results, logger: logger}
}

func (p *Persistence) Name() string { return "persist" }

// Run stores the result document and records its filename on the job.
func (p *Persistence) Run(ctx context.Context, job *Job, cancelled func() bool) error {
	if cancelled() {
		return fmt.Errorf("persistence aborted: %w", errpkg.ErrCancelled)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("persistence aborted: %w", err)
	}
	if job.Analysis == nil {
		return fmt.Errorf("no analysis result to persist")
	}

	doc := resultDocument{
		TaskID:      job.TaskID,
		Kind:        job.Kind,
		Analysis:    job.Analysis,
		GeneratedAt: time.Now(),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	filename := job.TaskID.String() + ".json"
	if err := p.results.WriteFile(filename, data); err != nil {
		return fmt.Errorf("write result file: %w", err)
	}

	p.logger.Debug("result persisted", "task_id", job.TaskID, "result_path", filename)
	job.ResultPath = filename
	return nil
}
