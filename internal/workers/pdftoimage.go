package workers

import (
	"context"
	"fmt"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/docpipe/internal/convert"
	"github.com/you/docpipe/internal/queue"
	"github.com/you/docpipe/internal/storage"
)

type PDFStore interface {
	GetVersionFile(ctx context.Context, versionID string) (*storage.VersionFile, error)
	EnableVersionPages(ctx context.Context, versionID string, numPages int) error
	DemoteSiblingVersions(ctx context.Context, documentID string, keepVersionNumber int) error
}

type FileURLResolver interface {
	GetURL(ctx context.Context, storageType, data string) (string, error)
}

type PageService interface {
	PageCount(ctx context.Context, fileURL string) (int, error)
	RenderPage(ctx context.Context, req convert.RenderPageRequest) (string, error)
}

// CacheRevalidator invalidates the public link cache after pages flip on.
// Failures here are logged and swallowed.
type CacheRevalidator interface {
	Revalidate(ctx context.Context, documentID string) error
}

// PDFToImage rasterizes a converted PDF page by page. Page conversion
// maps linearly onto the 20-90 progress range.
type PDFToImage struct {
	Store      PDFStore
	Files      FileURLResolver
	Pages      PageService
	Revalidate CacheRevalidator
	Log        *zap.Logger
}

func (w *PDFToImage) Process(ctx context.Context, job *queue.Job) error {
	p, err := queue.Payload[queue.PDFToImagePayload](job)
	if err != nil {
		return queue.Terminal(err)
	}
	log := w.Log.With(
		zap.String("job", job.ID),
		zap.String("document", p.DocumentID),
		zap.String("version", p.DocumentVersionID),
	)
	log.Info("starting rasterization")
	_ = job.ReportProgress(ctx, 0, "Initializing...")

	version, err := w.Store.GetVersionFile(ctx, p.DocumentVersionID)
	if err != nil {
		if err == storage.ErrNotFound {
			log.Error("document version not found")
			return queue.Terminal(err)
		}
		return err
	}

	_ = job.ReportProgress(ctx, 10, "Retrieving file...")
	signedURL, err := w.Files.GetURL(ctx, version.StorageType, version.File)
	if err != nil {
		return err
	}

	numPages := version.NumPages
	if numPages <= 1 {
		numPages, err = w.Pages.PageCount(ctx, signedURL)
		if err != nil {
			return err
		}
		log.Info("page count resolved", zap.Int("pages", numPages))
	}

	_ = job.ReportProgress(ctx, 20, "Converting document...")
	for page := 1; page <= numPages; page++ {
		pageID, err := w.Pages.RenderPage(ctx, convert.RenderPageRequest{
			DocumentVersionID: p.DocumentVersionID,
			PageNumber:        page,
			URL:               signedURL,
			TeamID:            p.TeamID,
		})
		if err != nil {
			if err == convert.ErrBlocked {
				// Unprocessable document: stop here, skip the remaining
				// pages, and do not burn retries.
				log.Error("document blocked", zap.Int("page", page))
				return queue.Terminal(err)
			}
			log.Error("page conversion failed",
				zap.Int("page", page), zap.Int("pages", numPages), zap.Error(err))
			return err
		}
		log.Debug("page converted", zap.Int("page", page), zap.String("page_id", pageID))
		_ = job.ReportProgress(ctx, 20+(page*70)/numPages,
			fmt.Sprintf("%d / %d pages processed", page, numPages))
	}

	_ = job.ReportProgress(ctx, 90, "Enabling pages...")
	if err := w.Store.EnableVersionPages(ctx, p.DocumentVersionID, numPages); err != nil {
		return err
	}
	if p.VersionNumber > 0 {
		if err := w.Store.DemoteSiblingVersions(ctx, p.DocumentID, p.VersionNumber); err != nil {
			return err
		}
	}

	_ = job.ReportProgress(ctx, 95, "Revalidating link...")
	if w.Revalidate != nil {
		if err := w.Revalidate.Revalidate(ctx, p.DocumentID); err != nil {
			log.Warn("cache revalidation failed", zap.Error(err))
		}
	}

	_ = job.ReportProgress(ctx, 100, "Processing complete")
	log.Info("rasterization complete", zap.Int("pages", numPages))
	return nil
}

func NewPDFToImageWorker(q *queue.Queue, conn *r.Client, w *PDFToImage) *queue.Worker {
	// Five concurrent jobs plus a start-rate cap to protect the page
	// rendering service.
	return queue.NewWorker(q, conn, w.Process, queue.WorkerOptions{Concurrency: 5, RatePerSecond: 10})
}
