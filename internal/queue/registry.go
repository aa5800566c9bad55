package queue

import (
	"context"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Registry holds every queue in the system, constructed once per process
// with its policy. The cleanup queue keeps failed jobs unbounded (no cap
// was ever set for it).
type Registry struct {
	PDFToImage               *Typed[PDFToImagePayload]
	FileConversion           *Typed[FileConversionPayload]
	VideoOptimization        *Typed[VideoOptimizationPayload]
	ExportVisits             *Typed[ExportVisitsPayload]
	ScheduledEmail           *Typed[ScheduledEmailPayload]
	DataroomNotification     *Typed[DataroomNotificationPayload]
	ConversationNotification *Typed[ConversationNotificationPayload]
	PauseResume              *Typed[PauseResumeNotificationPayload]
	AutomaticUnpause         *Typed[AutomaticUnpausePayload]
	Cleanup                  *Queue
	WebhookDelivery          *Typed[WebhookDeliveryPayload]

	all []*Queue
}

func NewRegistry(rdb *r.Client, log *zap.Logger) *Registry {
	reg := &Registry{}
	mk := func(name string, opts Options) *Queue {
		q := New(name, rdb, log, opts)
		reg.all = append(reg.all, q)
		return q
	}

	reg.PDFToImage = NewTyped[PDFToImagePayload](mk("pdf-to-image", Options{
		Attempts: 3, Backoff: BackoffExponential, BackoffDelay: time.Second,
		RetainCompleted: 100, RetainFailed: 50,
	}))
	reg.FileConversion = NewTyped[FileConversionPayload](mk("file-conversion", Options{
		Attempts: 3, Backoff: BackoffExponential, BackoffDelay: 2 * time.Second,
		RetainCompleted: 100, RetainFailed: 50,
	}))
	reg.VideoOptimization = NewTyped[VideoOptimizationPayload](mk("video-optimization", Options{
		Attempts: 2, Backoff: BackoffExponential, BackoffDelay: 5 * time.Second,
		RetainCompleted: 50, RetainFailed: 20,
	}))
	reg.ExportVisits = NewTyped[ExportVisitsPayload](mk("export-visits", Options{
		Attempts: 2, Backoff: BackoffNone,
		RetainCompleted: 100, RetainFailed: 50,
	}))
	reg.ScheduledEmail = NewTyped[ScheduledEmailPayload](mk("scheduled-email", Options{
		Attempts: 3, Backoff: BackoffExponential, BackoffDelay: 5 * time.Second,
		RetainCompleted: 200, RetainFailed: 50,
	}))
	reg.DataroomNotification = NewTyped[DataroomNotificationPayload](mk("dataroom-notification", Options{
		Attempts: 3, Backoff: BackoffNone,
		RetainCompleted: 100, RetainFailed: 50,
	}))
	reg.ConversationNotification = NewTyped[ConversationNotificationPayload](mk("conversation-notification", Options{
		Attempts: 3, Backoff: BackoffNone,
		RetainCompleted: 100, RetainFailed: 50,
	}))
	reg.PauseResume = NewTyped[PauseResumeNotificationPayload](mk("pause-resume-notification", Options{
		Attempts: 3, Backoff: BackoffNone,
		RetainCompleted: 50, RetainFailed: 20,
	}))
	reg.AutomaticUnpause = NewTyped[AutomaticUnpausePayload](mk("automatic-unpause", Options{
		Attempts: 3, Backoff: BackoffNone,
		RetainCompleted: 50, RetainFailed: 20,
	}))
	reg.Cleanup = mk("cleanup", Options{
		Attempts: 2, Backoff: BackoffNone,
		RetainCompleted: 10,
	})
	reg.WebhookDelivery = NewTyped[WebhookDeliveryPayload](mk("webhook-delivery", Options{
		Attempts: 5, Backoff: BackoffExponential, BackoffDelay: time.Second,
		RetainCompleted: 500, RetainFailed: 100,
	}))

	return reg
}

func (reg *Registry) All() []*Queue { return reg.all }

func (reg *Registry) ByName(name string) *Queue {
	for _, q := range reg.all {
		if q.name == name {
			return q
		}
	}
	return nil
}

// StartMovers launches the per-queue delayed-job movers.
func (reg *Registry) StartMovers(ctx context.Context) {
	for _, q := range reg.all {
		go q.RunMover(ctx)
	}
}
