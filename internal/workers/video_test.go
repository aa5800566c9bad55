package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/you/docpipe/internal/convert"
	"github.com/you/docpipe/internal/queue"
)

type fakeVideoStore struct {
	duration int
	file     string
}

func (f *fakeVideoStore) SetVersionDuration(_ context.Context, _ string, seconds int) error {
	f.duration = seconds
	return nil
}

func (f *fakeVideoStore) SetVersionVideo(_ context.Context, _, file string) error {
	f.file = file
	return nil
}

type fakeMedia struct {
	info     *convert.MediaInfo
	probeErr error
	encoded  bool
}

func (f *fakeMedia) Probe(_ context.Context, _ string) (*convert.MediaInfo, error) {
	return f.info, f.probeErr
}

func (f *fakeMedia) Encode(_ context.Context, _, outputPath string, _ *convert.MediaInfo) error {
	f.encoded = true
	return os.WriteFile(outputPath, []byte("encoded"), 0o644)
}

func TestVideoOptimization(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("raw-video-bytes"))
	}))
	defer srv.Close()

	payload := queue.VideoOptimizationPayload{
		VideoURL:          "videos/v1.mp4",
		TeamID:            "t1",
		DocID:             "d1",
		DocumentVersionID: "v1",
		FileSize:          10 * 1024 * 1024,
	}

	t.Run("downloads, encodes and uploads the rendition", func(t *testing.T) {
		store := &fakeVideoStore{}
		fs := &fakeFiles{url: srv.URL}
		media := &fakeMedia{info: &convert.MediaInfo{Width: 3840, Height: 2160, FPS: 30, Duration: 95}}
		w := &VideoOptimization{Store: store, Files: fs, Media: media, Log: zap.NewNop()}

		job := mustJob(t, "video-v1", payload)
		if err := w.Process(ctx, job); err != nil {
			t.Fatalf("process: %v", err)
		}
		if store.duration != 95 {
			t.Errorf("duration not persisted: %d", store.duration)
		}
		if !media.encoded {
			t.Error("encode not invoked")
		}
		if len(fs.puts) != 1 || fs.puts[0].ContentType != "video/mp4" {
			t.Errorf("bad upload: %+v", fs.puts)
		}
		if store.file == "" {
			t.Error("version not pointed at the optimized file")
		}
		if pct, _ := job.Progress(); pct != 100 {
			t.Errorf("expected progress 100, got %d", pct)
		}
	})

	t.Run("oversized sources keep the original file", func(t *testing.T) {
		store := &fakeVideoStore{}
		media := &fakeMedia{info: &convert.MediaInfo{Width: 1920, Duration: 30}}
		w := &VideoOptimization{Store: store, Files: &fakeFiles{url: srv.URL}, Media: media, Log: zap.NewNop()}

		big := payload
		big.FileSize = 600 * 1024 * 1024
		job := mustJob(t, "video-v1", big)
		if err := w.Process(ctx, job); err != nil {
			t.Fatalf("process: %v", err)
		}
		if media.encoded {
			t.Error("oversized source must not be encoded")
		}
		if store.file != "" {
			t.Error("version file must stay untouched")
		}
		if store.duration != 30 {
			t.Errorf("duration should still be persisted: %d", store.duration)
		}
		if pct, _ := job.Progress(); pct != 100 {
			t.Errorf("skip still completes, got %d", pct)
		}
	})

	t.Run("probe failure retries", func(t *testing.T) {
		media := &fakeMedia{probeErr: errTransient}
		w := &VideoOptimization{Store: &fakeVideoStore{}, Files: &fakeFiles{url: srv.URL}, Media: media, Log: zap.NewNop()}
		err := w.Process(ctx, mustJob(t, "video-v1", payload))
		if err == nil || queue.IsTerminal(err) {
			t.Fatalf("expected retryable error, got %v", err)
		}
	})

	t.Run("download failure retries", func(t *testing.T) {
		dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		dead.Close()
		w := &VideoOptimization{Store: &fakeVideoStore{}, Files: &fakeFiles{url: dead.URL},
			Media: &fakeMedia{}, Log: zap.NewNop()}
		if err := w.Process(ctx, mustJob(t, "video-v1", payload)); err == nil {
			t.Fatal("expected error")
		}
	})
}
