package stage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/avoronova/content-analyzer/internal/domain"
	errpkg "github.com/avoronova/content-analyzer/internal/errors"
	"github.com/avoronova/content-analyzer/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStorage(t *testing.T) *storage.FileStorage {
	t.Helper()
	dir, err := os.MkdirTemp("", "stage_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return storage.NewFileStorage(dir)
}

func never() bool { return false }

func TestAcquisition_VerifyIntakeArtifact(t *testing.T) {
	files := testStorage(t)
	if err := files.WriteFile("report.txt", []byte("uploaded content")); err != nil {
		t.Fatalf("failed to seed artifact: %v", err)
	}

	stage := NewAcquisition(files, 5*time.Second, 1<<20, 0, time.Millisecond, testLogger())
	job := &Job{TaskID: uuid.New(), Kind: domain.KindDocument, ArtifactPath: "report.txt"}

	if err := stage.Run(context.Background(), job, never); err != nil {
		t.Fatalf("Run error: %v", err)
	}
}

func TestAcquisition_IntakeArtifactMissing(t *testing.T) {
	files := testStorage(t)
	stage := NewAcquisition(files, 5*time.Second, 1<<20, 0, time.Millisecond, testLogger())
	job := &Job{TaskID: uuid.New(), Kind: domain.KindVideoUpload, ArtifactPath: "gone.mp4"}

	if err := stage.Run(context.Background(), job, never); err == nil {
		t.Fatalf("expected error for missing intake artifact")
	}
}

func TestAcquisition_IntakeArtifactEmpty(t *testing.T) {
	files := testStorage(t)
	if err := files.WriteFile("empty.txt", nil); err != nil {
		t.Fatalf("failed to seed artifact: %v", err)
	}

	stage := NewAcquisition(files, 5*time.Second, 1<<20, 0, time.Millisecond, testLogger())
	job := &Job{TaskID: uuid.New(), Kind: domain.KindDocument, ArtifactPath: "empty.txt"}

	if err := stage.Run(context.Background(), job, never); err == nil {
		t.Fatalf("expected error for empty intake artifact")
	}
}

func TestAcquisition_DownloadSuccess(t *testing.T) {
	content := strings.Repeat("video-bytes ", 1000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, content)
	}))
	defer server.Close()

	files := testStorage(t)
	stage := NewAcquisition(files, 5*time.Second, 1<<20, 0, time.Millisecond, testLogger())

	taskID := uuid.New()
	job := &Job{TaskID: taskID, Kind: domain.KindVideoURL, SourceURL: server.URL + "/clip.mp4"}

	if err := stage.Run(context.Background(), job, never); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	want := taskID.String() + ".mp4"
	if job.ArtifactPath != want {
		t.Errorf("expected artifact %q, got %q", want, job.ArtifactPath)
	}

	size, err := files.FileSize(job.ArtifactPath)
	if err != nil {
		t.Fatalf("downloaded artifact missing: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("expected %d bytes, got %d", len(content), size)
	}
}

func TestAcquisition_DownloadRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, "finally")
	}))
	defer server.Close()

	files := testStorage(t)
	stage := NewAcquisition(files, 5*time.Second, 1<<20, 3, time.Millisecond, testLogger())
	job := &Job{TaskID: uuid.New(), Kind: domain.KindVideoURL, SourceURL: server.URL + "/clip.mp4"}

	if err := stage.Run(context.Background(), job, never); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}
}

func TestAcquisition_DownloadExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	files := testStorage(t)
	stage := NewAcquisition(files, 5*time.Second, 1<<20, 1, time.Millisecond, testLogger())
	job := &Job{TaskID: uuid.New(), Kind: domain.KindVideoURL, SourceURL: server.URL + "/clip.mp4"}

	err := stage.Run(context.Background(), job, never)
	if err == nil {
		t.Fatalf("expected error after exhausted retries")
	}
	if errpkg.IsCancellation(err) {
		t.Errorf("retry exhaustion must not look like cancellation: %v", err)
	}
}

func TestAcquisition_CancelDuringTransfer(t *testing.T) {
	// Streams slowly so the copy loop observes the flag mid-transfer.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		chunk := make([]byte, 32*1024)
		for i := 0; i < 100; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer server.Close()

	files := testStorage(t)
	stage := NewAcquisition(files, 30*time.Second, 1<<30, 0, time.Millisecond, testLogger())

	taskID := uuid.New()
	job := &Job{TaskID: taskID, Kind: domain.KindVideoURL, SourceURL: server.URL + "/clip.mp4"}

	var flag atomic.Bool
	go func() {
		time.Sleep(20 * time.Millisecond)
		flag.Store(true)
	}()

	err := stage.Run(context.Background(), job, flag.Load)
	if !errors.Is(err, errpkg.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	// the partial artifact must be gone
	if files.FileExists(taskID.String() + ".mp4") {
		t.Errorf("partial artifact was not removed after cancellation")
	}
}

func TestAcquisition_SizeLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 64*1024))
	}))
	defer server.Close()

	files := testStorage(t)
	stage := NewAcquisition(files, 5*time.Second, 1024, 0, time.Millisecond, testLogger())

	taskID := uuid.New()
	job := &Job{TaskID: taskID, Kind: domain.KindVideoURL, SourceURL: server.URL + "/big.bin"}

	if err := stage.Run(context.Background(), job, never); err == nil {
		t.Fatalf("expected size limit error")
	}
	if files.FileExists(taskID.String() + ".bin") {
		t.Errorf("oversized partial artifact was not removed")
	}
}

func TestAcquisition_CancelledBeforeStart(t *testing.T) {
	files := testStorage(t)
	stage := NewAcquisition(files, 5*time.Second, 1<<20, 0, time.Millisecond, testLogger())
	job := &Job{TaskID: uuid.New(), Kind: domain.KindVideoURL, SourceURL: "https://example.com/clip.mp4"}

	err := stage.Run(context.Background(), job, func() bool { return true })
	if !errors.Is(err, errpkg.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestRemoteExt(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://example.com/clip.mp4", ".mp4"},
		{"https://example.com/clip", ".bin"},
		{"https://example.com/archive.tar.verylongext", ".bin"},
		// the extension comes from the path, never the query string
		{"https://example.com/video.php?f=a.mp4", ".php"},
		{"https://example.com/clip.mp4?sig=abc.def", ".mp4"},
		{"https://example.com/stream?format=.mp4", ".bin"},
		{"://bad-url", ".bin"},
	}
	for _, tc := range cases {
		if got := remoteExt(tc.url); got != tc.want {
			t.Errorf("remoteExt(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}
