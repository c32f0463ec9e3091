package stage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	errpkg "github.com/avoronova/content-analyzer/internal/errors"
	"github.com/avoronova/content-analyzer/internal/storage"
)

// TranscriptionClient converts a media stream into text. Satisfied by
// transcriber.Client.
type TranscriptionClient interface {
	Transcribe(ctx context.Context, media io.Reader, filename string) (string, error)
}

// Transcription sends the acquired artifact to the external speech-to-text
// service and stores the transcript on the job.
type Transcription struct {
	files      *storage.FileStorage
	client     TranscriptionClient
	retryMax   int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewTranscription creates the transcription stage.
func NewTranscription(files *storage.FileStorage, client TranscriptionClient, retryMax int, retryDelay time.Duration, logger *slog.Logger) *Transcription {
	return &Transcription{
		files:      files,
		client:     client,
		retryMax:   retryMax,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (t *Transcription) Name() string { return "transcribe" }

// Run transcribes the artifact, retrying transient service errors up to the
// stage bound. The file is reopened per attempt since the reader is consumed.
func (t *Transcription) Run(ctx context.Context, job *Job, cancelled func() bool) error {
	if cancelled() {
		return fmt.Errorf("transcription aborted: %w", errpkg.ErrCancelled)
	}

	var lastErr error
	for attempt := 0; attempt <= t.retryMax; attempt++ {
		text, err := t.transcribeOnce(ctx, job)
		if cancelled() {
			return fmt.Errorf("transcription aborted: %w", errpkg.ErrCancelled)
		}
		if err == nil {
			job.Transcript = text
			return nil
		}
		lastErr = err

		t.logger.Warn("transcription attempt failed",
			"task_id", job.TaskID,
			"attempt", attempt+1,
			"error", err,
		)

		if attempt == t.retryMax {
			break
		}

		select {
		case <-time.After(t.retryDelay):
		case <-ctx.Done():
			return fmt.Errorf("transcription aborted: %w", ctx.Err())
		}
	}

	return fmt.Errorf("transcription failed after %d attempts: %w", t.retryMax+1, lastErr)
}

func (t *Transcription) transcribeOnce(ctx context.Context, job *Job) (string, error) {
	file, err := t.files.OpenFile(job.ArtifactPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	text, err := t.client.Transcribe(ctx, file, job.ArtifactPath)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("transcription produced no text")
	}
	return text, nil
}
