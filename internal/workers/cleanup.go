package workers

import (
	"context"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/docpipe/internal/jobstore"
	"github.com/you/docpipe/internal/queue"
)

type BlobStore interface {
	BlobsForCleanup(ctx context.Context) ([]jobstore.CleanupBlob, error)
	RemoveBlob(ctx context.Context, blob jobstore.CleanupBlob) error
}

type BlobDeleter interface {
	Delete(ctx context.Context, blobURL string) error
}

// Cleanup deletes expired temporary blobs. One bad blob never stops the
// batch; it stays listed and the next run retries it.
type Cleanup struct {
	Store BlobStore
	Files BlobDeleter
	Log   *zap.Logger
}

// Run processes every due blob and reports how many were deleted and how
// many failed.
func (w *Cleanup) Run(ctx context.Context) (deleted, failed int, err error) {
	blobs, err := w.Store.BlobsForCleanup(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, b := range blobs {
		if err := w.Files.Delete(ctx, b.BlobURL); err != nil {
			w.Log.Warn("delete blob", zap.String("blob", b.BlobURL), zap.Error(err))
			failed++
			continue
		}
		if err := w.Store.RemoveBlob(ctx, b); err != nil {
			w.Log.Warn("unlist blob", zap.String("blob", b.BlobURL), zap.Error(err))
			failed++
			continue
		}
		deleted++
	}
	return deleted, failed, nil
}

func (w *Cleanup) Process(ctx context.Context, job *queue.Job) error {
	log := w.Log.With(zap.String("job", job.ID))
	log.Info("starting blob cleanup")

	deleted, failed, err := w.Run(ctx)
	if err != nil {
		return err
	}
	_ = job.ReportProgress(ctx, 100, "Cleanup complete")
	log.Info("blob cleanup complete", zap.Int("deleted", deleted), zap.Int("failed", failed))
	return nil
}

func NewCleanupWorker(q *queue.Queue, conn *r.Client, w *Cleanup) *queue.Worker {
	return queue.NewWorker(q, conn, w.Process, queue.WorkerOptions{Concurrency: 1})
}

// ScheduleDaily enqueues a cleanup run at 02:00 UTC every day until ctx
// ends. The job id carries the date so retention of yesterday's run never
// blocks today's enqueue.
func (w *Cleanup) ScheduleDaily(ctx context.Context, q *queue.Queue) {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 2, 0, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
		}
		id := "daily-cleanup:" + next.Format("2006-01-02")
		if _, err := q.Enqueue(ctx, id, []byte("{}"), queue.EnqueueOptions{}); err != nil {
			w.Log.Error("enqueue daily cleanup", zap.Error(err))
		}
	}
}
