package workers

import (
	"context"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/docpipe/internal/queue"
	"github.com/you/docpipe/internal/webhook"
)

type Deliverer interface {
	Deliver(ctx context.Context, deliveryID string, del webhook.Delivery) (*webhook.Result, error)
}

// DeliveryJobID derives the deterministic job id that makes re-queuing
// the same event/webhook pair a no-op.
func DeliveryJobID(eventID, webhookID string) string {
	return eventID + ":" + webhookID
}

// WebhookDelivery posts signed payloads to tenant endpoints. Every
// attempt's outcome is recorded for audit, success or not; a failed audit
// write never fails the delivery.
type WebhookDelivery struct {
	Deliverer Deliverer
	Recorder  webhook.EventRecorder
	Log       *zap.Logger
}

func (w *WebhookDelivery) Process(ctx context.Context, job *queue.Job) error {
	p, err := queue.Payload[queue.WebhookDeliveryPayload](job)
	if err != nil {
		return queue.Terminal(err)
	}
	log := w.Log.With(
		zap.String("job", job.ID),
		zap.String("event", p.EventID),
		zap.String("webhook", p.WebhookID),
	)
	log.Info("delivering webhook", zap.String("url", p.WebhookURL))

	deliveryID := job.ID
	if deliveryID == "" {
		deliveryID = p.EventID
	}

	res, err := w.Deliverer.Deliver(ctx, deliveryID, webhook.Delivery{
		WebhookID: p.WebhookID,
		URL:       p.WebhookURL,
		Secret:    p.WebhookSecret,
		EventID:   p.EventID,
		Event:     p.Event,
		Payload:   p.Payload,
	})
	if err != nil {
		// Transport failure: no status to record, audit it as unavailable.
		w.Recorder.Record(ctx, webhook.Event{
			EventID:      p.EventID,
			WebhookID:    p.WebhookID,
			MessageID:    deliveryID,
			Event:        p.Event,
			URL:          p.WebhookURL,
			HTTPStatus:   503,
			RequestBody:  string(p.Payload),
			ResponseBody: err.Error(),
		})
		log.Error("delivery failed", zap.Error(err))
		return err
	}

	w.Recorder.Record(ctx, webhook.Event{
		EventID:      p.EventID,
		WebhookID:    p.WebhookID,
		MessageID:    deliveryID,
		Event:        p.Event,
		URL:          p.WebhookURL,
		HTTPStatus:   res.StatusCode,
		RequestBody:  string(p.Payload),
		ResponseBody: res.ResponseBody,
	})

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		log.Info("webhook delivered", zap.Int("status", res.StatusCode))
		return nil
	}
	log.Warn("webhook rejected", zap.Int("status", res.StatusCode))
	return errors.Errorf("webhook delivery failed with status %d", res.StatusCode)
}

func NewWebhookDeliveryWorker(q *queue.Queue, conn *r.Client, w *WebhookDelivery) *queue.Worker {
	return queue.NewWorker(q, conn, w.Process, queue.WorkerOptions{Concurrency: 10})
}
