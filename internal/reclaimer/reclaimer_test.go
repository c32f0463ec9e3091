package reclaimer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avoronova/content-analyzer/internal/domain"
	errpkg "github.com/avoronova/content-analyzer/internal/errors"
	"github.com/avoronova/content-analyzer/internal/repository"
	"github.com/avoronova/content-analyzer/internal/storage"
)

func newTestReclaimer(t *testing.T) (*Reclaimer, *repository.TaskStore, *storage.FileStorage) {
	t.Helper()
	dir, err := os.MkdirTemp("", "reclaimer_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := repository.NewTaskStore(filepath.Join(dir, "tasks.json"))
	if err != nil {
		t.Fatalf("NewTaskStore error: %v", err)
	}

	workDir := filepath.Join(dir, "work")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		t.Fatalf("failed to create work dir: %v", err)
	}
	files := storage.NewFileStorage(workDir)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, files, time.Hour, time.Hour, time.Hour, logger), store, files
}

func ageFile(t *testing.T, files *storage.FileStorage, name string, age time.Duration) {
	t.Helper()
	old := time.Now().Add(-age)
	if err := os.Chtimes(files.Path(name), old, old); err != nil {
		t.Fatalf("failed to age file %s: %v", name, err)
	}
}

func TestCleanupTask_RemovesArtifactAndClearsPointer(t *testing.T) {
	rec, store, files := newTestReclaimer(t)

	ctx := context.Background()
	if err := files.WriteFile("clip.mp4", []byte("media")); err != nil {
		t.Fatalf("failed to seed artifact: %v", err)
	}
	task, err := store.Create(ctx, "owner1", domain.KindVideoUpload, "", "clip.mp4")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if err := rec.CleanupTask(ctx, task); err != nil {
		t.Fatalf("CleanupTask error: %v", err)
	}

	if files.FileExists("clip.mp4") {
		t.Errorf("artifact still present after cleanup")
	}
	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.ArtifactPath != "" {
		t.Errorf("artifact pointer not cleared, got %q", got.ArtifactPath)
	}
}

func TestCleanupTask_Idempotent(t *testing.T) {
	rec, store, _ := newTestReclaimer(t)

	ctx := context.Background()
	task, err := store.Create(ctx, "owner1", domain.KindVideoUpload, "", "missing.mp4")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	// artifact never existed on disk; both calls must still succeed
	if err := rec.CleanupTask(ctx, task); err != nil {
		t.Fatalf("first CleanupTask error: %v", err)
	}
	if err := rec.CleanupTask(ctx, task); err != nil {
		t.Fatalf("second CleanupTask error: %v", err)
	}
}

func TestCleanupTask_NoArtifact(t *testing.T) {
	rec, store, _ := newTestReclaimer(t)

	ctx := context.Background()
	task, err := store.Create(ctx, "owner1", domain.KindVideoURL, "https://example.com/a.mp4", "")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if err := rec.CleanupTask(ctx, task); err != nil {
		t.Fatalf("CleanupTask error: %v", err)
	}
}

func TestSweep_RemovesAgedOrphans(t *testing.T) {
	rec, _, files := newTestReclaimer(t)
	ctx := context.Background()

	if err := files.WriteFile("old-orphan.mp4", []byte("stale media bytes")); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}
	ageFile(t, files, "old-orphan.mp4", 48*time.Hour)

	if err := files.WriteFile("fresh-orphan.mp4", []byte("recent")); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}

	report, err := rec.Sweep(ctx, time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}

	if report.RemovedCount != 1 {
		t.Errorf("expected 1 removed file, got %d", report.RemovedCount)
	}
	if report.FreedSize != int64(len("stale media bytes")) {
		t.Errorf("expected %d freed bytes, got %d", len("stale media bytes"), report.FreedSize)
	}
	if files.FileExists("old-orphan.mp4") {
		t.Errorf("aged orphan survived the sweep")
	}
	if !files.FileExists("fresh-orphan.mp4") {
		t.Errorf("fresh orphan was deleted before its threshold")
	}
}

func TestSweep_NeverDeletesActiveTaskFiles(t *testing.T) {
	rec, store, files := newTestReclaimer(t)
	ctx := context.Background()

	// a long acquisition can legitimately leave an old-looking file behind
	if err := files.WriteFile("active.mp4", []byte("large download in progress")); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}
	ageFile(t, files, "active.mp4", 72*time.Hour)

	task, err := store.Create(ctx, "owner1", domain.KindVideoURL, "https://example.com/a.mp4", "active.mp4")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := store.SetStatus(ctx, task.ID, domain.StatusRunning, ""); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}

	report, err := rec.Sweep(ctx, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}

	if report.RemovedCount != 0 {
		t.Errorf("expected no removals, got %d", report.RemovedCount)
	}
	if !files.FileExists("active.mp4") {
		t.Errorf("file referenced by a running task was deleted")
	}
}

func TestSweep_ExpiresOldTerminalTasks(t *testing.T) {
	rec, store, files := newTestReclaimer(t)
	ctx := context.Background()

	expired, err := store.Create(ctx, "owner1", domain.KindDocument, "", "residual.txt")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := files.WriteFile("residual.txt", []byte("leftover")); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}
	if err := store.SetStatus(ctx, expired.ID, domain.StatusFailed, "boom"); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}

	recent, err := store.Create(ctx, "owner1", domain.KindDocument, "", "")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := store.SetStatus(ctx, recent.ID, domain.StatusSucceeded, ""); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}

	// retention of zero expires every terminal task transitioned before now
	report, err := rec.Sweep(ctx, 0, time.Hour)
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}

	if report.ExpiredTasks != 2 {
		t.Errorf("expected 2 expired tasks, got %d", report.ExpiredTasks)
	}
	if _, err := store.Get(ctx, expired.ID); err != errpkg.ErrTaskNotFound {
		t.Errorf("expected expired record gone, got %v", err)
	}
	if files.FileExists("residual.txt") {
		t.Errorf("residual artifact survived record expiry")
	}
}

func TestStats_SplitsReferencedAndOrphans(t *testing.T) {
	rec, store, files := newTestReclaimer(t)
	ctx := context.Background()

	if err := files.WriteFile("referenced.mp4", []byte("1234567890")); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}
	if err := files.WriteFile("orphan.bin", []byte("12345")); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}
	if _, err := store.Create(ctx, "owner1", domain.KindVideoUpload, "", "referenced.mp4"); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	stats, err := rec.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}

	if stats.FileCount != 2 {
		t.Errorf("expected 2 files, got %d", stats.FileCount)
	}
	if stats.TotalSize != 15 {
		t.Errorf("expected total size 15, got %d", stats.TotalSize)
	}
	if stats.OrphanCount != 1 {
		t.Errorf("expected 1 orphan, got %d", stats.OrphanCount)
	}
	if stats.OrphanSize != 5 {
		t.Errorf("expected orphan size 5, got %d", stats.OrphanSize)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	rec, _, _ := newTestReclaimer(t)

	ctx, cancelRun := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	cancelRun()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after context cancellation")
	}
}
