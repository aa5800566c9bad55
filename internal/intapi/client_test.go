package intapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostJob(t *testing.T) {
	ctx := context.Background()

	t.Run("sends bearer auth and json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer key" {
				t.Errorf("bad auth: %s", r.Header.Get("Authorization"))
			}
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["teamId"] != "t1" {
				t.Errorf("bad body: %v", body)
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		resp, err := New(srv.URL, "key").PostJob(ctx, "/api/jobs/x", map[string]string{"teamId": "t1"})
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		if !resp.OK() || resp.Body != `{"ok":true}` {
			t.Errorf("unexpected response: %+v", resp)
		}
	})

	t.Run("non-2xx comes back as a response, not an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		resp, err := New(srv.URL, "key").PostJob(ctx, "/api/jobs/x", nil)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		if resp.OK() || resp.Status != http.StatusServiceUnavailable {
			t.Errorf("unexpected response: %+v", resp)
		}
	})

	t.Run("transport failure is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		if _, err := New(srv.URL, "key").PostJob(ctx, "/api/jobs/x", nil); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestRevalidator(t *testing.T) {
	t.Run("passes the secret and document id", func(t *testing.T) {
		var got string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.URL.RawQuery
		}))
		defer srv.Close()

		if err := NewRevalidator(srv.URL, "tok").Revalidate(context.Background(), "d1"); err != nil {
			t.Fatalf("revalidate: %v", err)
		}
		if got != "documentId=d1&secret=tok" {
			t.Errorf("bad query: %s", got)
		}
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		if err := NewRevalidator(srv.URL, "tok").Revalidate(context.Background(), "d1"); err == nil {
			t.Fatal("expected error")
		}
	})
}
