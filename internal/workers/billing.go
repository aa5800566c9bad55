package workers

import (
	"context"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/docpipe/internal/queue"
)

// PauseResumeNotification tells a paused team their pause is about to
// lift. Any rejection retries: the email must go out.
type PauseResumeNotification struct {
	API JobPoster
	Log *zap.Logger
}

func (w *PauseResumeNotification) Process(ctx context.Context, job *queue.Job) error {
	p, err := queue.Payload[queue.PauseResumeNotificationPayload](job)
	if err != nil {
		return queue.Terminal(err)
	}
	log := w.Log.With(zap.String("job", job.ID), zap.String("team", p.TeamID))

	resp, err := w.API.PostJob(ctx, "/api/jobs/send-pause-resume-notification",
		map[string]string{"teamId": p.TeamID})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return errors.Errorf("pause-resume notification failed with status %d", resp.Status)
	}
	log.Info("pause-resume notification sent")
	return nil
}

func NewPauseResumeWorker(q *queue.Queue, conn *r.Client, w *PauseResumeNotification) *queue.Worker {
	return queue.NewWorker(q, conn, w.Process, queue.WorkerOptions{Concurrency: 2})
}

// AutomaticUnpause flips a team's billing state back on when its pause
// window ends. A 4xx means the team is no longer pausable (cancelled,
// already resumed), so only server errors retry.
type AutomaticUnpause struct {
	API JobPoster
	Log *zap.Logger
}

func (w *AutomaticUnpause) Process(ctx context.Context, job *queue.Job) error {
	p, err := queue.Payload[queue.AutomaticUnpausePayload](job)
	if err != nil {
		return queue.Terminal(err)
	}
	log := w.Log.With(zap.String("job", job.ID), zap.String("team", p.TeamID))

	resp, err := w.API.PostJob(ctx, "/api/internal/billing/automatic-unpause",
		map[string]string{"teamId": p.TeamID})
	if err != nil {
		return err
	}
	if resp.Status >= 500 {
		return errors.Errorf("automatic unpause failed with status %d", resp.Status)
	}
	if !resp.OK() {
		log.Warn("automatic unpause skipped", zap.Int("status", resp.Status), zap.String("body", resp.Body))
		return nil
	}
	log.Info("team unpaused")
	return nil
}

func NewAutomaticUnpauseWorker(q *queue.Queue, conn *r.Client, w *AutomaticUnpause) *queue.Worker {
	return queue.NewWorker(q, conn, w.Process, queue.WorkerOptions{Concurrency: 2})
}
