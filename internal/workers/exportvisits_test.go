package workers

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/you/docpipe/internal/intapi"
	"github.com/you/docpipe/internal/jobstore"
	"github.com/you/docpipe/internal/queue"
)

type fakeExportStore struct {
	records map[string]*jobstore.ExportRecord
}

func (f *fakeExportStore) UpdateExport(_ context.Context, id string, patch func(*jobstore.ExportRecord)) error {
	if f.records == nil {
		f.records = make(map[string]*jobstore.ExportRecord)
	}
	rec, ok := f.records[id]
	if !ok {
		rec = &jobstore.ExportRecord{ID: id}
		f.records[id] = rec
	}
	patch(rec)
	return nil
}

func TestExportVisits(t *testing.T) {
	ctx := context.Background()
	payload := queue.ExportVisitsPayload{
		Type:       "dataroom",
		TeamID:     "t1",
		ResourceID: "dr1",
		UserID:     "u1",
		ExportID:   "exp1",
	}

	t.Run("hands the export to the internal api", func(t *testing.T) {
		api := &fakeAPI{}
		store := &fakeExportStore{}
		w := &ExportVisits{API: api, Store: store, Log: zap.NewNop()}

		job := mustJob(t, "export-exp1", payload)
		if err := w.Process(ctx, job); err != nil {
			t.Fatalf("process: %v", err)
		}
		if api.calls[0].Path != "/api/jobs/process-export" {
			t.Errorf("bad path: %s", api.calls[0].Path)
		}
		if pct, _ := job.Progress(); pct != 100 {
			t.Errorf("expected progress 100, got %d", pct)
		}
		if len(store.records) != 0 {
			t.Errorf("success must not touch the export record: %+v", store.records)
		}
	})

	t.Run("failure is mirrored into the export record", func(t *testing.T) {
		api := &fakeAPI{responses: map[string]*intapi.Response{
			"/api/jobs/process-export": {Status: 500, Body: "exporter down"},
		}}
		store := &fakeExportStore{}
		w := &ExportVisits{API: api, Store: store, Log: zap.NewNop()}

		if err := w.Process(ctx, mustJob(t, "export-exp1", payload)); err == nil {
			t.Fatal("expected error")
		}
		rec := store.records["exp1"]
		if rec == nil || rec.Status != "FAILED" || rec.Error == "" {
			t.Errorf("export record not marked failed: %+v", rec)
		}
	})

	t.Run("transport failure is mirrored too", func(t *testing.T) {
		api := &fakeAPI{errs: map[string]error{"/api/jobs/process-export": errTransient}}
		store := &fakeExportStore{}
		w := &ExportVisits{API: api, Store: store, Log: zap.NewNop()}

		if err := w.Process(ctx, mustJob(t, "export-exp1", payload)); err == nil {
			t.Fatal("expected error")
		}
		if rec := store.records["exp1"]; rec == nil || rec.Status != "FAILED" {
			t.Errorf("export record not marked failed: %+v", rec)
		}
	})
}
