package workers

import (
	"context"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/docpipe/internal/jobstore"
	"github.com/you/docpipe/internal/queue"
)

type ExportStore interface {
	UpdateExport(ctx context.Context, id string, patch func(*jobstore.ExportRecord)) error
}

// ExportVisits hands the heavy export off to the internal API and keeps
// the polled export record in sync, so the dashboard sees the failure
// even when the job exhausts its retries.
type ExportVisits struct {
	API   JobPoster
	Store ExportStore
	Log   *zap.Logger
}

func (w *ExportVisits) Process(ctx context.Context, job *queue.Job) error {
	p, err := queue.Payload[queue.ExportVisitsPayload](job)
	if err != nil {
		return queue.Terminal(err)
	}
	log := w.Log.With(
		zap.String("job", job.ID),
		zap.String("export", p.ExportID),
		zap.String("resource", p.ResourceID),
	)
	log.Info("starting visits export", zap.String("type", p.Type))
	_ = job.ReportProgress(ctx, 10, "Preparing export...")

	resp, err := w.API.PostJob(ctx, "/api/jobs/process-export", p)
	if err == nil && !resp.OK() {
		err = errors.Errorf("export processing failed with status %d", resp.Status)
	}
	if err != nil {
		reason := err.Error()
		if uerr := w.Store.UpdateExport(ctx, p.ExportID, func(rec *jobstore.ExportRecord) {
			rec.Status = "FAILED"
			rec.Error = reason
		}); uerr != nil {
			log.Warn("update export record", zap.Error(uerr))
		}
		return err
	}

	_ = job.ReportProgress(ctx, 100, "Export complete")
	log.Info("visits export complete")
	return nil
}

func NewExportVisitsWorker(q *queue.Queue, conn *r.Client, w *ExportVisits) *queue.Worker {
	return queue.NewWorker(q, conn, w.Process, queue.WorkerOptions{Concurrency: 3})
}
