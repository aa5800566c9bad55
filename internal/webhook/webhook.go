// Package webhook signs and delivers tenant-configured webhook payloads
// and records delivery outcomes to an optional audit sink.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DeliveryTimeout = 30 * time.Second

	HeaderSignature  = "X-Signature"
	HeaderEvent      = "X-Event"
	HeaderDeliveryID = "X-Delivery-Id"
)

// Sign computes the hex HMAC-SHA256 of the JSON body with the tenant's
// webhook secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type Delivery struct {
	WebhookID string
	URL       string
	Secret    string
	EventID   string
	Event     string
	Payload   json.RawMessage
}

type Result struct {
	StatusCode   int
	ResponseBody string
}

type Deliverer struct {
	http *http.Client
}

func NewDeliverer() *Deliverer {
	return &Deliverer{http: &http.Client{Timeout: DeliveryTimeout}}
}

// Deliver POSTs the payload with signature headers under a hard timeout.
// Any HTTP response comes back as a Result; only transport failures
// (timeout, refused connection) return an error.
func (d *Deliverer) Deliver(ctx context.Context, deliveryID string, del Delivery) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, DeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, del.URL, bytes.NewReader(del.Payload))
	if err != nil {
		return nil, errors.Wrapf(err, "build delivery %s", del.EventID)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(del.Secret, del.Payload))
	req.Header.Set(HeaderEvent, del.Event)
	req.Header.Set(HeaderDeliveryID, deliveryID)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "deliver %s", del.EventID)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 10000))
	return &Result{StatusCode: resp.StatusCode, ResponseBody: string(body)}, nil
}

// Event is one append-only delivery audit record.
type Event struct {
	EventID      string `json:"event_id"`
	WebhookID    string `json:"webhook_id"`
	MessageID    string `json:"message_id"`
	Event        string `json:"event"`
	URL          string `json:"url"`
	HTTPStatus   int    `json:"http_status"`
	RequestBody  string `json:"request_body"`
	ResponseBody string `json:"response_body"`
}

// EventRecorder is best-effort: Record never returns an error because a
// failed audit write must not fail the delivery job.
type EventRecorder interface {
	Record(ctx context.Context, ev Event)
}

// NewEventRecorder selects the audit backend once at startup: a real sink
// when a token is configured, otherwise a no-op.
func NewEventRecorder(baseURL, token string, log *zap.Logger) EventRecorder {
	if token == "" {
		log.Info("webhook audit sink not configured, delivery events will not be recorded")
		return noopRecorder{}
	}
	return &httpRecorder{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, Event) {}

type httpRecorder struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

func (r *httpRecorder) Record(ctx context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		r.log.Warn("encode webhook event", zap.Error(err))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/v0/events?name=webhook_events__v1", bytes.NewReader(body))
	if err != nil {
		r.log.Warn("build webhook event request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.token)

	resp, err := r.http.Do(req)
	if err != nil {
		r.log.Warn("record webhook event", zap.String("event", ev.EventID), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		r.log.Warn("record webhook event",
			zap.String("event", ev.EventID), zap.Int("status", resp.StatusCode))
	}
}
