package workers

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/you/docpipe/internal/convert"
	"github.com/you/docpipe/internal/queue"
	"github.com/you/docpipe/internal/storage"
)

type fakePDFStore struct {
	version      *storage.VersionFile
	enabledPages int
	demoted      []int
}

func (f *fakePDFStore) GetVersionFile(_ context.Context, _ string) (*storage.VersionFile, error) {
	if f.version == nil {
		return nil, storage.ErrNotFound
	}
	return f.version, nil
}

func (f *fakePDFStore) EnableVersionPages(_ context.Context, _ string, numPages int) error {
	f.enabledPages = numPages
	return nil
}

func (f *fakePDFStore) DemoteSiblingVersions(_ context.Context, _ string, keep int) error {
	f.demoted = append(f.demoted, keep)
	return nil
}

type fakePages struct {
	count    int
	countErr error
	counted  int
	rendered []int
	failPage int
	failWith error
}

func (f *fakePages) PageCount(_ context.Context, _ string) (int, error) {
	f.counted++
	return f.count, f.countErr
}

func (f *fakePages) RenderPage(_ context.Context, req convert.RenderPageRequest) (string, error) {
	if f.failPage > 0 && req.PageNumber == f.failPage {
		return "", f.failWith
	}
	f.rendered = append(f.rendered, req.PageNumber)
	return "page-id", nil
}

type fakeRevalidator struct {
	calls int
	err   error
}

func (f *fakeRevalidator) Revalidate(_ context.Context, _ string) error {
	f.calls++
	return f.err
}

func TestPDFToImage(t *testing.T) {
	ctx := context.Background()
	payload := queue.PDFToImagePayload{
		DocumentID:        "d1",
		DocumentVersionID: "v1",
		TeamID:            "t1",
		VersionNumber:     3,
	}

	t.Run("renders every page and enables the version", func(t *testing.T) {
		store := &fakePDFStore{version: &storage.VersionFile{File: "f", StorageType: "S3_PATH", NumPages: 4}}
		pages := &fakePages{}
		reval := &fakeRevalidator{}
		w := &PDFToImage{Store: store, Files: &fakeFiles{}, Pages: pages, Revalidate: reval, Log: zap.NewNop()}

		job := mustJob(t, "pdf-v1", payload)
		if err := w.Process(ctx, job); err != nil {
			t.Fatalf("process: %v", err)
		}
		if len(pages.rendered) != 4 {
			t.Errorf("expected 4 renders, got %v", pages.rendered)
		}
		if pages.counted != 0 {
			t.Error("page count should not be re-resolved when known")
		}
		if store.enabledPages != 4 {
			t.Errorf("pages not enabled: %d", store.enabledPages)
		}
		if len(store.demoted) != 1 || store.demoted[0] != 3 {
			t.Errorf("siblings not demoted around version 3: %v", store.demoted)
		}
		if reval.calls != 1 {
			t.Errorf("expected one revalidation, got %d", reval.calls)
		}
		if pct, _ := job.Progress(); pct != 100 {
			t.Errorf("expected progress 100, got %d", pct)
		}
	})

	t.Run("resolves the page count when the version does not know it", func(t *testing.T) {
		store := &fakePDFStore{version: &storage.VersionFile{File: "f", NumPages: 0}}
		pages := &fakePages{count: 2}
		w := &PDFToImage{Store: store, Files: &fakeFiles{}, Pages: pages, Log: zap.NewNop()}

		if err := w.Process(ctx, mustJob(t, "pdf-v1", payload)); err != nil {
			t.Fatalf("process: %v", err)
		}
		if pages.counted != 1 || len(pages.rendered) != 2 {
			t.Errorf("count=%d rendered=%v", pages.counted, pages.rendered)
		}
	})

	t.Run("blocked document aborts the remaining pages terminally", func(t *testing.T) {
		store := &fakePDFStore{version: &storage.VersionFile{File: "f", NumPages: 5}}
		pages := &fakePages{failPage: 3, failWith: convert.ErrBlocked}
		w := &PDFToImage{Store: store, Files: &fakeFiles{}, Pages: pages, Log: zap.NewNop()}

		err := w.Process(ctx, mustJob(t, "pdf-v1", payload))
		if !queue.IsTerminal(err) {
			t.Fatalf("expected terminal error, got %v", err)
		}
		if len(pages.rendered) != 2 {
			t.Errorf("rendering should stop at the blocked page, got %v", pages.rendered)
		}
		if store.enabledPages != 0 {
			t.Error("version must not be enabled after a blocked page")
		}
	})

	t.Run("transient render failure stays retryable", func(t *testing.T) {
		store := &fakePDFStore{version: &storage.VersionFile{File: "f", NumPages: 2}}
		pages := &fakePages{failPage: 2, failWith: errTransient}
		w := &PDFToImage{Store: store, Files: &fakeFiles{}, Pages: pages, Log: zap.NewNop()}

		err := w.Process(ctx, mustJob(t, "pdf-v1", payload))
		if err == nil || queue.IsTerminal(err) {
			t.Fatalf("expected retryable error, got %v", err)
		}
	})

	t.Run("missing version fails terminally", func(t *testing.T) {
		w := &PDFToImage{Store: &fakePDFStore{}, Files: &fakeFiles{}, Pages: &fakePages{}, Log: zap.NewNop()}
		if err := w.Process(ctx, mustJob(t, "pdf-v1", payload)); !queue.IsTerminal(err) {
			t.Fatalf("expected terminal error, got %v", err)
		}
	})

	t.Run("revalidation failure does not fail the job", func(t *testing.T) {
		store := &fakePDFStore{version: &storage.VersionFile{File: "f", NumPages: 1}}
		pages := &fakePages{count: 1}
		w := &PDFToImage{Store: store, Files: &fakeFiles{}, Pages: pages,
			Revalidate: &fakeRevalidator{err: errTransient}, Log: zap.NewNop()}

		if err := w.Process(ctx, mustJob(t, "pdf-v1", payload)); err != nil {
			t.Fatalf("revalidation must be best-effort: %v", err)
		}
	})
}
