package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestSign(t *testing.T) {
	// Known vector: HMAC-SHA256("secret", "{}").
	got := Sign("secret", []byte("{}"))
	want := "77325902caca812dc259733aacd046b73817372c777b8d95b402647474516e13"
	if got != want {
		t.Errorf("Sign mismatch:\n got %s\nwant %s", got, want)
	}
	if Sign("other", []byte("{}")) == got {
		t.Error("different secrets produced the same signature")
	}
}

func TestDeliverer(t *testing.T) {
	ctx := context.Background()
	payload := []byte(`{"event":"link.viewed"}`)

	t.Run("sends signature and metadata headers", func(t *testing.T) {
		var gotReq *http.Request
		var gotBody []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotReq = r.Clone(context.Background())
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		}))
		defer srv.Close()

		res, err := NewDeliverer().Deliver(ctx, "delivery-1", Delivery{
			WebhookID: "wh1",
			URL:       srv.URL,
			Secret:    "s3cr3t",
			EventID:   "ev1",
			Event:     "link.viewed",
			Payload:   payload,
		})
		if err != nil {
			t.Fatalf("deliver: %v", err)
		}
		if res.StatusCode != http.StatusOK || res.ResponseBody != "ok" {
			t.Errorf("unexpected result: %+v", res)
		}
		if string(gotBody) != string(payload) {
			t.Errorf("body mismatch: %s", gotBody)
		}
		if sig := gotReq.Header.Get(HeaderSignature); sig != Sign("s3cr3t", payload) {
			t.Errorf("bad signature header: %s", sig)
		}
		if ev := gotReq.Header.Get(HeaderEvent); ev != "link.viewed" {
			t.Errorf("bad event header: %s", ev)
		}
		if id := gotReq.Header.Get(HeaderDeliveryID); id != "delivery-1" {
			t.Errorf("bad delivery id header: %s", id)
		}
	})

	t.Run("non-2xx responses are results, not errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no thanks", http.StatusGone)
		}))
		defer srv.Close()

		res, err := NewDeliverer().Deliver(ctx, "delivery-2", Delivery{URL: srv.URL, Payload: payload})
		if err != nil {
			t.Fatalf("deliver: %v", err)
		}
		if res.StatusCode != http.StatusGone {
			t.Errorf("expected 410, got %d", res.StatusCode)
		}
	})

	t.Run("response bodies are truncated", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(strings.Repeat("x", 20000)))
		}))
		defer srv.Close()

		res, err := NewDeliverer().Deliver(ctx, "delivery-3", Delivery{URL: srv.URL, Payload: payload})
		if err != nil {
			t.Fatalf("deliver: %v", err)
		}
		if len(res.ResponseBody) != 10000 {
			t.Errorf("expected 10000 bytes, got %d", len(res.ResponseBody))
		}
	})

	t.Run("unreachable endpoint is a transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		if _, err := NewDeliverer().Deliver(ctx, "delivery-4", Delivery{URL: srv.URL, Payload: payload}); err == nil {
			t.Fatal("expected transport error")
		}
	})
}

func TestNewEventRecorder(t *testing.T) {
	log := zap.NewNop()

	t.Run("no token selects the no-op sink", func(t *testing.T) {
		if _, ok := NewEventRecorder("https://audit.example", "", log).(noopRecorder); !ok {
			t.Fatal("expected noop recorder")
		}
	})

	t.Run("configured sink posts the event", func(t *testing.T) {
		var gotAuth, gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotPath = r.URL.Path + "?" + r.URL.RawQuery
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		rec := NewEventRecorder(srv.URL, "tok", log)
		rec.Record(context.Background(), Event{EventID: "ev1", HTTPStatus: 200})
		if gotAuth != "Bearer tok" {
			t.Errorf("bad auth header: %s", gotAuth)
		}
		if gotPath != "/v0/events?name=webhook_events__v1" {
			t.Errorf("bad path: %s", gotPath)
		}
	})
}
