package stage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/avoronova/content-analyzer/internal/analyzer"
	errpkg "github.com/avoronova/content-analyzer/internal/errors"
	"github.com/avoronova/content-analyzer/internal/storage"
)

// maxDocumentBytes caps how much of a document artifact is fed to the
// model when no transcript exists.
const maxDocumentBytes = 1 << 20

// AnalysisClient produces a structured analysis for a piece of text.
// Satisfied by analyzer.Analyzer.
type AnalysisClient interface {
	Analyze(ctx context.Context, text string) (*analyzer.Result, error)
}

// Analysis runs the AI analysis over the transcript, or over the document
// artifact's text for document tasks.
type Analysis struct {
	files   *storage.FileStorage
	client  AnalysisClient
	timeout time.Duration
	logger  *slog.Logger
}

// NewAnalysis creates the analysis stage.
func NewAnalysis(files *storage.FileStorage, client AnalysisClient, timeout time.Duration, logger *slog.Logger) *Analysis {
	return &Analysis{
		files:   files,
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

func (a *Analysis) Name() string { return "analyze" }

// Run sends the task's text to the analysis client. Retry policy lives in
// the client, which knows which of its errors are transient.
func (a *Analysis) Run(ctx context.Context, job *Job, cancelled func() bool) error {
	if cancelled() {
		return fmt.Errorf("analysis aborted: %w", errpkg.ErrCancelled)
	}

	text := job.Transcript
	if text == "" {
		extracted, err := a.readDocumentText(job.ArtifactPath)
		if err != nil {
			return fmt.Errorf("extract document text: %w", err)
		}
		text = extracted
	}
	if utf8.RuneCountInString(text) < 20 {
		return fmt.Errorf("not enough text to analyze: %d characters", len(text))
	}

	callCtx, cancelCall := context.WithTimeout(ctx, a.timeout)
	defer cancelCall()

	start := time.Now()
	result, err := a.client.Analyze(callCtx, text)

	if cancelled() {
		return fmt.Errorf("analysis aborted: %w", errpkg.ErrCancelled)
	}
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	a.logger.Debug("analysis finished",
		"task_id", job.TaskID,
		"duration", time.Since(start),
		"topics", len(result.Topics),
	)

	job.Analysis = result
	return nil
}

func (a *Analysis) readDocumentText(filename string) (string, error) {
	file, err := a.files.OpenFile(filename)
	if err != nil {
		return "", err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxDocumentBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
