package convert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOfficeConverter(t *testing.T) {
	ctx := context.Background()

	t.Run("posts the download reference and returns the pdf", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/forms/libreoffice/convert" {
				t.Errorf("bad path: %s", r.URL.Path)
			}
			if user, pass, ok := r.BasicAuth(); !ok || user != "u" || pass != "p" {
				t.Error("basic auth missing")
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("parse form: %v", err)
			}
			if got := r.FormValue("downloadFrom"); got != `[{"url":"https://signed/file.docx"}]` {
				t.Errorf("bad downloadFrom: %s", got)
			}
			if got := r.FormValue("quality"); got != "75" {
				t.Errorf("bad quality: %s", got)
			}
			_, _ = w.Write([]byte("%PDF-1.7"))
		}))
		defer srv.Close()

		out, err := NewOfficeConverter(srv.URL, "u", "p").Convert(ctx, "https://signed/file.docx")
		if err != nil {
			t.Fatalf("convert: %v", err)
		}
		if string(out) != "%PDF-1.7" {
			t.Errorf("unexpected pdf: %s", out)
		}
	})

	t.Run("service failure surfaces the body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "libreoffice crashed", http.StatusInternalServerError)
		}))
		defer srv.Close()

		if _, err := NewOfficeConverter(srv.URL, "", "").Convert(ctx, "u"); err == nil {
			t.Fatal("expected error")
		}
	})
}
