package workers

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/docpipe/internal/queue"
	"github.com/you/docpipe/internal/storage"
)

const trialSuffix = "+drtrial"

var paidPlans = map[string]bool{
	"pro":            true,
	"business":       true,
	"datarooms":      true,
	"datarooms-plus": true,
}

func isPaid(plan string) bool  { return paidPlans[strings.TrimSuffix(plan, trialSuffix)] }
func onTrial(plan string) bool { return strings.HasSuffix(plan, trialSuffix) }

type EmailService interface {
	Send(ctx context.Context, emailType, to, name, useCase string) error
}

// APIEmailService sends through the internal jobs API.
type APIEmailService struct {
	API JobPoster
}

func (s *APIEmailService) Send(ctx context.Context, emailType, to, name, useCase string) error {
	resp, err := s.API.PostJob(ctx, "/api/jobs/send-scheduled-email", map[string]string{
		"emailType": emailType,
		"to":        to,
		"name":      name,
		"useCase":   useCase,
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return errors.Errorf("send %s email failed with status %d", emailType, resp.Status)
	}
	return nil
}

type TeamStore interface {
	GetTeam(ctx context.Context, id string) (*storage.Team, error)
	UpdateTeamPlan(ctx context.Context, teamID, plan string) error
	DeleteBranding(ctx context.Context, teamID string) error
	BlockNonAdminMembers(ctx context.Context, teamID string) (int64, error)
}

// ScheduledEmail delivers delayed lifecycle emails. Trial emails are
// scheduled days ahead, so every handler re-checks the team's current
// plan before acting: an upgraded team gets neither the reminder nor the
// expiry treatment.
type ScheduledEmail struct {
	Store TeamStore
	Email EmailService
	Log   *zap.Logger
}

func (w *ScheduledEmail) Process(ctx context.Context, job *queue.Job) error {
	p, err := queue.Payload[queue.ScheduledEmailPayload](job)
	if err != nil {
		return queue.Terminal(err)
	}
	log := w.Log.With(
		zap.String("job", job.ID),
		zap.String("type", p.EmailType),
		zap.String("team", p.TeamID),
	)

	switch p.EmailType {
	case "dataroom-trial-info", "dataroom-trial-24h":
		still, err := w.stillOnTrial(ctx, p.TeamID, log)
		if err != nil || !still {
			return err
		}
		if err := w.Email.Send(ctx, p.EmailType, p.To, p.Name, p.UseCase); err != nil {
			return err
		}

	case "dataroom-trial-expired":
		return w.expireTrial(ctx, p, log)

	case "upgrade-checkin":
		team, err := w.Store.GetTeam(ctx, p.TeamID)
		if err != nil {
			if err == storage.ErrNotFound {
				return queue.Terminal(err)
			}
			return err
		}
		if !isPaid(team.Plan) {
			log.Info("team no longer on a paid plan, skipping check-in")
			return nil
		}
		if err := w.Email.Send(ctx, p.EmailType, p.To, p.Name, p.UseCase); err != nil {
			return err
		}

	default:
		return queue.Terminal(errors.Errorf("unknown email type: %s", p.EmailType))
	}

	log.Info("scheduled email sent")
	return nil
}

func (w *ScheduledEmail) stillOnTrial(ctx context.Context, teamID string, log *zap.Logger) (bool, error) {
	team, err := w.Store.GetTeam(ctx, teamID)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, queue.Terminal(err)
		}
		return false, err
	}
	if !onTrial(team.Plan) {
		log.Info("team left the trial, skipping reminder", zap.String("plan", team.Plan))
		return false, nil
	}
	return true, nil
}

// expireTrial strips the trial suffix and, when the underlying plan is
// not paid, withdraws the trial-only perks before the expiry email.
func (w *ScheduledEmail) expireTrial(ctx context.Context, p queue.ScheduledEmailPayload, log *zap.Logger) error {
	team, err := w.Store.GetTeam(ctx, p.TeamID)
	if err != nil {
		if err == storage.ErrNotFound {
			return queue.Terminal(err)
		}
		return err
	}
	if !onTrial(team.Plan) {
		log.Info("team left the trial before expiry, nothing to do", zap.String("plan", team.Plan))
		return nil
	}

	base := strings.TrimSuffix(team.Plan, trialSuffix)
	if err := w.Store.UpdateTeamPlan(ctx, p.TeamID, base); err != nil {
		return err
	}
	if !paidPlans[base] {
		if err := w.Store.DeleteBranding(ctx, p.TeamID); err != nil {
			return err
		}
		blocked, err := w.Store.BlockNonAdminMembers(ctx, p.TeamID)
		if err != nil {
			return err
		}
		log.Info("trial perks withdrawn", zap.Int64("members_blocked", blocked))
	}
	if err := w.Email.Send(ctx, p.EmailType, p.To, p.Name, p.UseCase); err != nil {
		return err
	}
	log.Info("trial expired", zap.String("plan", base))
	return nil
}

func NewScheduledEmailWorker(q *queue.Queue, conn *r.Client, w *ScheduledEmail) *queue.Worker {
	return queue.NewWorker(q, conn, w.Process, queue.WorkerOptions{Concurrency: 5})
}
