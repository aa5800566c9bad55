package workers

import (
	"context"
	"encoding/json"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/docpipe/internal/intapi"
	"github.com/you/docpipe/internal/queue"
	"github.com/you/docpipe/internal/storage"
)

// JobPoster is the slice of the internal jobs API the notification and
// billing workers use.
type JobPoster interface {
	PostJob(ctx context.Context, path string, body interface{}) (*intapi.Response, error)
}

type ViewerStore interface {
	VerifiedDataroomViewers(ctx context.Context, teamID, dataroomID string) ([]storage.EligibleViewer, error)
}

// notificationPrefs mirrors the viewer's stored preference blob. A
// dataroom entry with enabled=false is an explicit opt-out; absence means
// notifications stay on.
type notificationPrefs struct {
	Dataroom map[string]struct {
		Enabled *bool `json:"enabled"`
	} `json:"dataroom"`
}

func optedOut(prefs []byte, dataroomID string) bool {
	var p notificationPrefs
	if err := json.Unmarshal(prefs, &p); err != nil {
		return false
	}
	entry, ok := p.Dataroom[dataroomID]
	return ok && entry.Enabled != nil && !*entry.Enabled
}

// DataroomNotification fans a new-document event out to every eligible
// viewer of the dataroom. One viewer failing never stops the rest.
type DataroomNotification struct {
	Store        ViewerStore
	API          JobPoster
	MarketingURL string
	Log          *zap.Logger
}

func linkURL(v storage.EligibleViewer, marketingURL string) string {
	if v.DomainID != nil && v.DomainSlug != nil && v.LinkSlug != nil {
		return "https://" + *v.DomainSlug + "/" + *v.LinkSlug
	}
	return marketingURL + "/view/" + v.LinkID
}

// Notify returns how many viewers were actually notified.
func (w *DataroomNotification) Notify(ctx context.Context, p queue.DataroomNotificationPayload) (int, error) {
	viewers, err := w.Store.VerifiedDataroomViewers(ctx, p.TeamID, p.DataroomID)
	if err != nil {
		return 0, err
	}

	notified := 0
	for _, v := range viewers {
		if v.LinkArchived {
			continue
		}
		if v.LinkExpiresAt != nil && v.LinkExpiresAt.Before(time.Now()) {
			continue
		}
		if optedOut(v.NotificationPrefs, p.DataroomID) {
			continue
		}

		resp, err := w.API.PostJob(ctx, "/api/jobs/send-dataroom-new-document-notification", map[string]string{
			"dataroomId":         p.DataroomID,
			"dataroomDocumentId": p.DataroomDocumentID,
			"linkUrl":            linkURL(v, w.MarketingURL),
			"viewerId":           v.ID,
			"senderUserId":       p.SenderUserID,
			"teamId":             p.TeamID,
		})
		if err != nil {
			w.Log.Warn("notify viewer", zap.String("viewer", v.ID), zap.Error(err))
			continue
		}
		if !resp.OK() {
			w.Log.Warn("notify viewer",
				zap.String("viewer", v.ID), zap.Int("status", resp.Status))
			continue
		}
		notified++
	}
	return notified, nil
}

func (w *DataroomNotification) Process(ctx context.Context, job *queue.Job) error {
	p, err := queue.Payload[queue.DataroomNotificationPayload](job)
	if err != nil {
		return queue.Terminal(err)
	}
	log := w.Log.With(zap.String("job", job.ID), zap.String("dataroom", p.DataroomID))

	n, err := w.Notify(ctx, p)
	if err != nil {
		return err
	}
	log.Info("dataroom notification sent", zap.Int("notified", n))
	return nil
}

func NewDataroomNotificationWorker(q *queue.Queue, conn *r.Client, w *DataroomNotification) *queue.Worker {
	return queue.NewWorker(q, conn, w.Process, queue.WorkerOptions{Concurrency: 5})
}

// ConversationNotification routes a conversation event to the right
// internal endpoint. A rejected call is logged, not retried: the message
// already exists, only its notification is lost.
type ConversationNotification struct {
	API JobPoster
	Log *zap.Logger
}

func (w *ConversationNotification) Process(ctx context.Context, job *queue.Job) error {
	p, err := queue.Payload[queue.ConversationNotificationPayload](job)
	if err != nil {
		return queue.Terminal(err)
	}
	log := w.Log.With(
		zap.String("job", job.ID),
		zap.String("conversation", p.ConversationID),
		zap.String("type", p.NotificationType),
	)

	path := "/api/jobs/send-conversation-new-message-notification"
	if p.NotificationType == "team-member" {
		path = "/api/jobs/send-conversation-team-member-notification"
	}

	resp, err := w.API.PostJob(ctx, path, map[string]string{
		"dataroomId":     p.DataroomID,
		"messageId":      p.MessageID,
		"conversationId": p.ConversationID,
		"teamId":         p.TeamID,
		"senderUserId":   p.SenderUserID,
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		log.Warn("conversation notification rejected", zap.Int("status", resp.Status))
		return nil
	}
	log.Info("conversation notification sent")
	return nil
}

func NewConversationNotificationWorker(q *queue.Queue, conn *r.Client, w *ConversationNotification) *queue.Worker {
	return queue.NewWorker(q, conn, w.Process, queue.WorkerOptions{Concurrency: 5})
}
