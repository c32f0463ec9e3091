// Package reclaimer reconciles storage state with task state: immediate
// artifact cleanup on terminal transitions plus a periodic sweep of the
// working area and expired task records.
package reclaimer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avoronova/content-analyzer/internal/domain"
	"github.com/avoronova/content-analyzer/internal/metrics"
	"github.com/avoronova/content-analyzer/internal/repository"
	"github.com/avoronova/content-analyzer/internal/storage"
)

// sweepDeleteLimit bounds how many files a sweep deletes concurrently.
const sweepDeleteLimit = 4

// Stats describes the current contents of the working area.
type Stats struct {
	FileCount   int   `json:"file_count"`
	TotalSize   int64 `json:"total_size"`
	OrphanCount int   `json:"orphan_count"`
	OrphanSize  int64 `json:"orphan_size"`
}

// SweepReport summarizes one reclamation pass.
type SweepReport struct {
	RemovedCount int   `json:"removed_count"`
	FreedSize    int64 `json:"freed_size"`
	ExpiredTasks int   `json:"expired_tasks"`
}

// Reclaimer deletes task artifacts and expired records. Deletion failures
// during a sweep are logged and skipped per item so one bad file never
// aborts the rest of the pass.
type Reclaimer struct {
	repo            repository.TaskRepo
	files           *storage.FileStorage
	sweepInterval   time.Duration
	retentionWindow time.Duration
	orphanThreshold time.Duration
	logger          *slog.Logger
}

// New creates a Reclaimer over the working-area storage.
func New(repo repository.TaskRepo, files *storage.FileStorage, sweepInterval, retentionWindow, orphanThreshold time.Duration, logger *slog.Logger) *Reclaimer {
	return &Reclaimer{
		repo:            repo,
		files:           files,
		sweepInterval:   sweepInterval,
		retentionWindow: retentionWindow,
		orphanThreshold: orphanThreshold,
		logger:          logger,
	}
}

// CleanupTask deletes the task's artifact and clears the pointer. Deleting
// an already-absent artifact is a success so terminal-transition retries
// stay safe.
func (r *Reclaimer) CleanupTask(ctx context.Context, task *domain.Task) error {
	if task.ArtifactPath == "" {
		return nil
	}

	size, _ := r.files.FileSize(task.ArtifactPath)
	if err := r.files.Remove(task.ArtifactPath); err != nil {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}

	if err := r.repo.SetArtifact(ctx, task.ID, ""); err != nil {
		return fmt.Errorf("failed to clear artifact pointer: %w", err)
	}

	r.logger.Info("artifact cleaned up",
		"task_id", task.ID,
		"artifact", task.ArtifactPath,
		"bytes", size,
	)
	return nil
}

// Stats reports the working-area file counts and sizes, split into files
// referenced by a non-terminal task and orphans.
func (r *Reclaimer) Stats(ctx context.Context) (*Stats, error) {
	entries, err := r.files.Entries()
	if err != nil {
		return nil, fmt.Errorf("failed to list working area: %w", err)
	}

	referenced, err := r.activeArtifacts(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, entry := range entries {
		stats.FileCount++
		stats.TotalSize += entry.Size
		if !referenced[entry.Name] {
			stats.OrphanCount++
			stats.OrphanSize += entry.Size
		}
	}
	return stats, nil
}

// Sweep expires terminal tasks older than the retention window and removes
// orphaned working-area files older than the orphan threshold. Files
// referenced by a non-terminal task are never deleted, however old they
// look, since acquisition of large media can legitimately run long.
func (r *Reclaimer) Sweep(ctx context.Context, retentionWindow, orphanThreshold time.Duration) (*SweepReport, error) {
	report := &SweepReport{}

	expired, err := r.repo.ListTerminalOlderThan(ctx, retentionWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired tasks: %w", err)
	}

	for _, task := range expired {
		if task.ArtifactPath != "" {
			size, _ := r.files.FileSize(task.ArtifactPath)
			if err := r.files.Remove(task.ArtifactPath); err != nil {
				r.logger.Warn("failed to remove residual artifact",
					"task_id", task.ID,
					"artifact", task.ArtifactPath,
					"error", err,
				)
			} else {
				report.RemovedCount++
				report.FreedSize += size
			}
		}
		if err := r.repo.Delete(ctx, task.ID); err != nil {
			r.logger.Warn("failed to expire task record", "task_id", task.ID, "error", err)
			continue
		}
		report.ExpiredTasks++
	}

	referenced, err := r.activeArtifacts(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := r.files.Entries()
	if err != nil {
		return nil, fmt.Errorf("failed to list working area: %w", err)
	}

	cutoff := time.Now().Add(-orphanThreshold)
	var removed, freed atomic.Int64

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(sweepDeleteLimit)

	for _, entry := range entries {
		if referenced[entry.Name] {
			continue
		}
		if entry.ModTime.After(cutoff) {
			continue
		}

		entry := entry
		g.Go(func() error {
			if err := r.files.Remove(entry.Name); err != nil {
				// per-item isolation: log and keep sweeping
				r.logger.Warn("failed to remove orphan file", "filename", entry.Name, "error", err)
				return nil
			}
			removed.Add(1)
			freed.Add(entry.Size)
			r.logger.Info("orphan file removed",
				"filename", entry.Name,
				"bytes", entry.Size,
				"age", time.Since(entry.ModTime),
			)
			return nil
		})
	}
	_ = g.Wait()

	report.RemovedCount += int(removed.Load())
	report.FreedSize += freed.Load()

	metrics.SweepFilesRemoved.Add(float64(report.RemovedCount))
	metrics.SweepBytesFreed.Add(float64(report.FreedSize))
	metrics.SweepTasksExpired.Add(float64(report.ExpiredTasks))

	r.logger.Info("sweep completed",
		"removed_files", report.RemovedCount,
		"freed_bytes", report.FreedSize,
		"expired_tasks", report.ExpiredTasks,
	)
	return report, nil
}

// Run performs the periodic sweep at the configured interval until the
// context is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	r.logger.Info("reclaimer started",
		"interval", r.sweepInterval,
		"retention_window", r.retentionWindow,
		"orphan_threshold", r.orphanThreshold,
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reclaimer shutting down")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx, r.retentionWindow, r.orphanThreshold); err != nil {
				r.logger.Error("periodic sweep failed", "error", err)
			}
		}
	}
}

func (r *Reclaimer) activeArtifacts(ctx context.Context) (map[string]bool, error) {
	active, err := r.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tasks: %w", err)
	}

	referenced := make(map[string]bool, len(active))
	for _, task := range active {
		if task.ArtifactPath != "" {
			referenced[task.ArtifactPath] = true
		}
	}
	return referenced, nil
}
