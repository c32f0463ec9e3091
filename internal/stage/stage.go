// Package stage defines the pipeline stage contract and its concrete
// implementations: acquisition, transcription, analysis, persistence.
//
// Every stage receives a zero-argument cancellation probe and must consult
// it before and after each blocking external call. A stage that observes
// the probe abandons its in-flight work and returns errors.ErrCancelled so
// the engine can distinguish a cancelled task from a failed one. Transient
// errors are retried inside the stage up to a stage-defined bound; once a
// stage returns an error the engine never retries it.
package stage

import (
	"context"

	"github.com/google/uuid"

	"github.com/avoronova/content-analyzer/internal/analyzer"
	"github.com/avoronova/content-analyzer/internal/domain"
)

// Job carries the data flowing through a task's stage sequence. Each stage
// reads the fields produced by earlier stages and fills in its own.
type Job struct {
	TaskID       uuid.UUID
	Kind         domain.TaskKind
	SourceURL    string
	ArtifactPath string
	Transcript   string
	Analysis     *analyzer.Result
	ResultPath   string
}

// Stage is one ordered step of a task's pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, job *Job, cancelled func() bool) error
}

// Sequences maps each task kind to its ordered stage subset.
func Sequences(acquire, transcribe, analyze, persist Stage) map[domain.TaskKind][]Stage {
	return map[domain.TaskKind][]Stage{
		domain.KindDocument:    {acquire, analyze, persist},
		domain.KindVideoUpload: {acquire, transcribe, analyze, persist},
		domain.KindVideoURL:    {acquire, transcribe, analyze, persist},
	}
}
