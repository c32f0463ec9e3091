package stage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/avoronova/content-analyzer/internal/domain"
	errpkg "github.com/avoronova/content-analyzer/internal/errors"
	"github.com/avoronova/content-analyzer/internal/storage"
)

// Acquisition makes the task's artifact available in the working directory.
// Upload kinds only verify the intake file; video_url tasks download the
// remote source with a cancel-checked copy loop.
type Acquisition struct {
	files      *storage.FileStorage
	httpClient *http.Client
	maxSize    int64
	retryMax   int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewAcquisition creates the acquisition stage.
func NewAcquisition(files *storage.FileStorage, timeout time.Duration, maxSize int64, retryMax int, retryDelay time.Duration, logger *slog.Logger) *Acquisition {
	return &Acquisition{
		files: files,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxSize:    maxSize,
		retryMax:   retryMax,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (a *Acquisition) Name() string { return "acquire" }

// Run verifies or downloads the artifact and records its filename on the job.
func (a *Acquisition) Run(ctx context.Context, job *Job, cancelled func() bool) error {
	if cancelled() {
		return fmt.Errorf("acquisition aborted: %w", errpkg.ErrCancelled)
	}

	if job.Kind != domain.KindVideoURL {
		size, err := a.files.FileSize(job.ArtifactPath)
		if err != nil {
			return fmt.Errorf("intake artifact missing: %w", err)
		}
		if size == 0 {
			return fmt.Errorf("intake artifact is empty: %s", job.ArtifactPath)
		}
		return nil
	}

	filename := job.TaskID.String() + remoteExt(job.SourceURL)

	var lastErr error
	for attempt := 0; attempt <= a.retryMax; attempt++ {
		err := a.download(ctx, job.SourceURL, filename, cancelled)
		if err == nil {
			job.ArtifactPath = filename
			return nil
		}
		if errpkg.IsCancellation(err) {
			return err
		}
		lastErr = err

		a.logger.Warn("download attempt failed",
			"task_id", job.TaskID,
			"attempt", attempt+1,
			"error", err,
		)

		if attempt == a.retryMax {
			break
		}

		select {
		case <-time.After(a.retryDelay):
		case <-ctx.Done():
			return fmt.Errorf("acquisition aborted: %w", ctx.Err())
		}
		if cancelled() {
			return fmt.Errorf("acquisition aborted: %w", errpkg.ErrCancelled)
		}
	}

	return fmt.Errorf("download failed after %d attempts: %w", a.retryMax+1, lastErr)
}

func (a *Acquisition) download(ctx context.Context, url, filename string, cancelled func() bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	file, err := a.files.CreateFile(filename)
	if err != nil {
		return fmt.Errorf("create artifact file: %w", err)
	}

	bytesRead, err := a.copyWithCancel(ctx, file, resp.Body, cancelled)
	closeErr := file.Close()
	if err != nil {
		// a partial artifact is useless, remove it right away
		if rmErr := a.files.Remove(filename); rmErr != nil {
			a.logger.Warn("failed to remove partial artifact", "filename", filename, "error", rmErr)
		}
		return err
	}
	if closeErr != nil {
		return fmt.Errorf("close artifact file: %w", closeErr)
	}

	a.logger.Debug("artifact downloaded", "filename", filename, "bytes", bytesRead)
	return nil
}

func (a *Acquisition) copyWithCancel(ctx context.Context, dst io.Writer, src io.Reader, cancelled func() bool) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64

	for {
		if cancelled() {
			return total, fmt.Errorf("transfer aborted: %w", errpkg.ErrCancelled)
		}

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
			nr, err := src.Read(buf)
			if nr > 0 {
				nw, werr := dst.Write(buf[0:nr])
				if nw > 0 {
					total += int64(nw)
				}
				if werr != nil {
					return total, werr
				}
				if nr != nw {
					return total, io.ErrShortWrite
				}
				if total > a.maxSize {
					return total, fmt.Errorf("artifact size exceeds limit: %d bytes", a.maxSize)
				}
			}
			if err != nil {
				if err == io.EOF {
					return total, nil
				}
				return total, err
			}
		}
	}
}

func remoteExt(rawURL string) string {
	var ext string
	if u, err := url.Parse(rawURL); err == nil {
		ext = path.Ext(u.Path)
	}
	if ext == "" || len(ext) > 8 {
		return ".bin"
	}
	return ext
}
