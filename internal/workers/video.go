package workers

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/docpipe/internal/convert"
	"github.com/you/docpipe/internal/files"
	"github.com/you/docpipe/internal/queue"
)

// Sources above this size are stored as-is.
const maxOptimizableSize = 500 * 1024 * 1024

type VideoStore interface {
	SetVersionDuration(ctx context.Context, versionID string, seconds int) error
	SetVersionVideo(ctx context.Context, versionID, file string) error
}

type VideoFileStore interface {
	GetURL(ctx context.Context, storageType, data string) (string, error)
	PutStream(ctx context.Context, req files.PutRequest, body io.Reader) (*files.PutResult, error)
}

type MediaTools interface {
	Probe(ctx context.Context, path string) (*convert.MediaInfo, error)
	Encode(ctx context.Context, inputPath, outputPath string, info *convert.MediaInfo) error
}

// VideoOptimization downloads the source into a scoped temp directory,
// probes it, re-encodes under the size threshold and uploads the result.
// The temp directory goes away on every exit path.
type VideoOptimization struct {
	Store VideoStore
	Files VideoFileStore
	Media MediaTools
	HTTP  *http.Client
	Log   *zap.Logger
}

func (w *VideoOptimization) Process(ctx context.Context, job *queue.Job) error {
	p, err := queue.Payload[queue.VideoOptimizationPayload](job)
	if err != nil {
		return queue.Terminal(err)
	}
	log := w.Log.With(zap.String("job", job.ID), zap.String("version", p.DocumentVersionID))
	log.Info("starting video optimization")

	fileURL, err := w.Files.GetURL(ctx, "S3_PATH", p.VideoURL)
	if err != nil {
		return err
	}

	_ = job.ReportProgress(ctx, 5, "Downloading video...")
	tempDir, err := os.MkdirTemp("", "video_")
	if err != nil {
		return errors.Wrap(err, "create temp dir")
	}
	defer func() {
		if rmErr := os.RemoveAll(tempDir); rmErr != nil {
			log.Warn("remove temp dir", zap.String("dir", tempDir), zap.Error(rmErr))
		}
	}()

	inputPath := filepath.Join(tempDir, "input.mp4")
	outputPath := filepath.Join(tempDir, "output.mp4")
	if err := w.download(ctx, fileURL, inputPath); err != nil {
		return err
	}

	_ = job.ReportProgress(ctx, 20, "Analyzing video...")
	info, err := w.Media.Probe(ctx, inputPath)
	if err != nil {
		return err
	}
	if err := w.Store.SetVersionDuration(ctx, p.DocumentVersionID, info.Duration); err != nil {
		return err
	}

	if p.FileSize > maxOptimizableSize {
		log.Info("file too large, skipping optimization",
			zap.Int64("size_mb", p.FileSize/1024/1024))
		_ = job.ReportProgress(ctx, 100, "File too large, skipped optimization")
		return nil
	}

	_ = job.ReportProgress(ctx, 30, "Optimizing video...")
	if err := w.Media.Encode(ctx, inputPath, outputPath, info); err != nil {
		return err
	}

	_ = job.ReportProgress(ctx, 70, "Uploading optimized video...")
	out, err := os.Open(outputPath)
	if err != nil {
		return errors.Wrap(err, "open encoded video")
	}
	defer out.Close()
	put, err := w.Files.PutStream(ctx, files.PutRequest{
		Name:        "optimized.mp4",
		ContentType: "video/mp4",
		TeamID:      p.TeamID,
		DocID:       p.DocID,
	}, out)
	if err != nil {
		return err
	}
	if err := w.Store.SetVersionVideo(ctx, p.DocumentVersionID, put.Data); err != nil {
		return err
	}

	_ = job.ReportProgress(ctx, 100, "Complete")
	log.Info("video optimization complete", zap.Int("duration_s", info.Duration))
	return nil
}

func (w *VideoOptimization) download(ctx context.Context, url, path string) error {
	client := w.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build download request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "fetch video")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("fetch video: status %d", resp.StatusCode)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create download file")
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return errors.Wrap(err, "write download file")
	}
	return nil
}

func NewVideoOptimizationWorker(q *queue.Queue, conn *r.Client, w *VideoOptimization) *queue.Worker {
	return queue.NewWorker(q, conn, w.Process, queue.WorkerOptions{Concurrency: 2})
}
