// Package workers holds the job handlers, one per queue. Each handler
// depends on narrow interfaces so it can be exercised without the real
// stores and services behind them.
package workers

import (
	"context"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/docpipe/internal/convert"
	"github.com/you/docpipe/internal/files"
	"github.com/you/docpipe/internal/queue"
	"github.com/you/docpipe/internal/storage"
)

type ConversionStore interface {
	GetTeam(ctx context.Context, id string) (*storage.Team, error)
	GetConversionSource(ctx context.Context, documentID, teamID, versionID string) (*storage.ConversionSource, error)
	SetVersionFile(ctx context.Context, versionID, file, fileType, storageType string) (int, error)
}

type OfficeConverter interface {
	Convert(ctx context.Context, fileURL string) ([]byte, error)
}

type TaskConverter interface {
	Convert(ctx context.Context, req convert.TaskRequest) ([]byte, error)
}

// PDFEnqueuer chains the converted document into pdf-to-image.
type PDFEnqueuer interface {
	Enqueue(ctx context.Context, id string, payload queue.PDFToImagePayload, opts queue.EnqueueOptions) (string, error)
}

// FileConversion turns office/CAD/Keynote uploads into PDFs and chains
// rasterization. Its progress spans 0-40 of the pipeline.
type FileConversion struct {
	Store    ConversionStore
	Files    files.Store
	Office   OfficeConverter
	Tasks    TaskConverter
	PDFQueue PDFEnqueuer
	Log      *zap.Logger
}

func (w *FileConversion) Process(ctx context.Context, job *queue.Job) error {
	p, err := queue.Payload[queue.FileConversionPayload](job)
	if err != nil {
		return queue.Terminal(err)
	}
	log := w.Log.With(
		zap.String("job", job.ID),
		zap.String("document", p.DocumentID),
		zap.String("version", p.DocumentVersionID),
		zap.String("team", p.TeamID),
	)
	log.Info("starting conversion", zap.String("type", string(p.ConversionType)))
	_ = job.ReportProgress(ctx, 0, "Initializing...")

	if _, err := w.Store.GetTeam(ctx, p.TeamID); err != nil {
		if err == storage.ErrNotFound {
			log.Error("team not found")
			return queue.Terminal(errors.New("team not found"))
		}
		return err
	}

	src, err := w.Store.GetConversionSource(ctx, p.DocumentID, p.TeamID, p.DocumentVersionID)
	if err != nil {
		if err == storage.ErrNotFound {
			log.Error("document or version not found")
			return queue.Terminal(errors.New("document or version not found"))
		}
		return err
	}
	if src.OriginalFile == "" {
		return queue.Terminal(errors.New("no original file available for conversion"))
	}
	if src.ContentType == "" {
		return queue.Terminal(errors.New("no content type available for conversion"))
	}

	_ = job.ReportProgress(ctx, 10, "Retrieving file...")
	fileURL, err := w.Files.GetURL(ctx, src.StorageType, src.OriginalFile)
	if err != nil {
		return err
	}

	_ = job.ReportProgress(ctx, 20, "Converting document...")
	var pdf []byte
	switch p.ConversionType {
	case queue.ConversionOffice:
		pdf, err = w.Office.Convert(ctx, fileURL)
	case queue.ConversionCAD, queue.ConversionKeynote:
		pdf, err = w.Tasks.Convert(ctx, convert.TaskRequest{
			FileURL:     fileURL,
			Filename:    src.DocumentName,
			InputFormat: convert.ExtensionForContentType(src.ContentType),
			Kind:        string(p.ConversionType),
		})
	default:
		return queue.Terminal(errors.Errorf("unknown conversion type: %s", p.ConversionType))
	}
	if err != nil {
		return err
	}
	log.Info("conversion complete", zap.Int("bytes", len(pdf)))

	_ = job.ReportProgress(ctx, 30, "Saving converted file...")
	put, err := w.Files.Put(ctx, files.PutRequest{
		Name:        src.DocumentName + ".pdf",
		ContentType: "application/pdf",
		TeamID:      p.TeamID,
		DocID:       p.DocumentID,
		Data:        pdf,
	})
	if err != nil {
		return err
	}

	_ = job.ReportProgress(ctx, 40, "Initiating document processing...")
	versionNumber, err := w.Store.SetVersionFile(ctx, p.DocumentVersionID, put.Data, "pdf", put.StorageType)
	if err != nil {
		return err
	}

	// Deterministic id makes the chained enqueue idempotent across
	// conversion retries.
	_, err = w.PDFQueue.Enqueue(ctx, "pdf-"+p.DocumentVersionID, queue.PDFToImagePayload{
		DocumentID:        p.DocumentID,
		DocumentVersionID: p.DocumentVersionID,
		TeamID:            p.TeamID,
		VersionNumber:     versionNumber,
	}, queue.EnqueueOptions{
		Tags: []string{
			"team_" + p.TeamID,
			"document_" + p.DocumentID,
			"version:" + p.DocumentVersionID,
		},
	})
	if err != nil {
		return err
	}
	log.Info("queued pdf rasterization")
	return nil
}

func NewFileConversionWorker(q *queue.Queue, conn *r.Client, w *FileConversion) *queue.Worker {
	return queue.NewWorker(q, conn, w.Process, queue.WorkerOptions{Concurrency: 3})
}
