package workers

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/you/docpipe/internal/queue"
	"github.com/you/docpipe/internal/storage"
)

type sentEmail struct {
	Type, To string
}

type fakeEmail struct {
	sent []sentEmail
	err  error
}

func (f *fakeEmail) Send(_ context.Context, emailType, to, _, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEmail{Type: emailType, To: to})
	return nil
}

type fakeTeamStore struct {
	team            *storage.Team
	plans           []string
	brandingDeleted bool
	blocked         int64
}

func (f *fakeTeamStore) GetTeam(_ context.Context, _ string) (*storage.Team, error) {
	if f.team == nil {
		return nil, storage.ErrNotFound
	}
	return f.team, nil
}

func (f *fakeTeamStore) UpdateTeamPlan(_ context.Context, _, plan string) error {
	f.plans = append(f.plans, plan)
	return nil
}

func (f *fakeTeamStore) DeleteBranding(_ context.Context, _ string) error {
	f.brandingDeleted = true
	return nil
}

func (f *fakeTeamStore) BlockNonAdminMembers(_ context.Context, _ string) (int64, error) {
	f.blocked = 3
	return 3, nil
}

func TestScheduledEmail(t *testing.T) {
	ctx := context.Background()

	base := queue.ScheduledEmailPayload{To: "owner@acme.com", Name: "Ada", TeamID: "t1"}
	job := func(t *testing.T, emailType string) *queue.Job {
		p := base
		p.EmailType = emailType
		return mustJob(t, emailType+"-t1", p)
	}

	t.Run("trial reminder goes out while the trial lasts", func(t *testing.T) {
		store := &fakeTeamStore{team: &storage.Team{ID: "t1", Plan: "free+drtrial"}}
		email := &fakeEmail{}
		w := &ScheduledEmail{Store: store, Email: email, Log: zap.NewNop()}

		if err := w.Process(ctx, job(t, "dataroom-trial-24h")); err != nil {
			t.Fatalf("process: %v", err)
		}
		if len(email.sent) != 1 || email.sent[0].Type != "dataroom-trial-24h" {
			t.Errorf("expected one reminder, got %+v", email.sent)
		}
	})

	t.Run("upgraded team gets no trial reminder", func(t *testing.T) {
		store := &fakeTeamStore{team: &storage.Team{ID: "t1", Plan: "business"}}
		email := &fakeEmail{}
		w := &ScheduledEmail{Store: store, Email: email, Log: zap.NewNop()}

		if err := w.Process(ctx, job(t, "dataroom-trial-info")); err != nil {
			t.Fatalf("process: %v", err)
		}
		if len(email.sent) != 0 {
			t.Errorf("no email expected, got %+v", email.sent)
		}
	})

	t.Run("expiry on a free plan withdraws the trial perks", func(t *testing.T) {
		store := &fakeTeamStore{team: &storage.Team{ID: "t1", Plan: "free+drtrial"}}
		email := &fakeEmail{}
		w := &ScheduledEmail{Store: store, Email: email, Log: zap.NewNop()}

		if err := w.Process(ctx, job(t, "dataroom-trial-expired")); err != nil {
			t.Fatalf("process: %v", err)
		}
		if len(store.plans) != 1 || store.plans[0] != "free" {
			t.Errorf("trial suffix not stripped: %v", store.plans)
		}
		if !store.brandingDeleted || store.blocked != 3 {
			t.Errorf("perks not withdrawn: branding=%v blocked=%d", store.brandingDeleted, store.blocked)
		}
		if len(email.sent) != 1 || email.sent[0].Type != "dataroom-trial-expired" {
			t.Errorf("expiry email missing: %+v", email.sent)
		}
	})

	t.Run("expiry on a paid plan only strips the suffix", func(t *testing.T) {
		store := &fakeTeamStore{team: &storage.Team{ID: "t1", Plan: "business+drtrial"}}
		email := &fakeEmail{}
		w := &ScheduledEmail{Store: store, Email: email, Log: zap.NewNop()}

		if err := w.Process(ctx, job(t, "dataroom-trial-expired")); err != nil {
			t.Fatalf("process: %v", err)
		}
		if len(store.plans) != 1 || store.plans[0] != "business" {
			t.Errorf("expected plan business, got %v", store.plans)
		}
		if store.brandingDeleted || store.blocked != 0 {
			t.Error("paid plan must keep branding and members")
		}
	})

	t.Run("expiry is idempotent once the trial is gone", func(t *testing.T) {
		store := &fakeTeamStore{team: &storage.Team{ID: "t1", Plan: "free"}}
		email := &fakeEmail{}
		w := &ScheduledEmail{Store: store, Email: email, Log: zap.NewNop()}

		if err := w.Process(ctx, job(t, "dataroom-trial-expired")); err != nil {
			t.Fatalf("process: %v", err)
		}
		if len(store.plans) != 0 || len(email.sent) != 0 {
			t.Errorf("retry after expiry must be a no-op: plans=%v sent=%v", store.plans, email.sent)
		}
	})

	t.Run("upgrade check-in only for paid plans", func(t *testing.T) {
		paid := &fakeTeamStore{team: &storage.Team{ID: "t1", Plan: "pro"}}
		email := &fakeEmail{}
		w := &ScheduledEmail{Store: paid, Email: email, Log: zap.NewNop()}
		if err := w.Process(ctx, job(t, "upgrade-checkin")); err != nil {
			t.Fatalf("process: %v", err)
		}
		if len(email.sent) != 1 {
			t.Errorf("expected check-in email, got %+v", email.sent)
		}

		free := &fakeTeamStore{team: &storage.Team{ID: "t1", Plan: "free"}}
		email = &fakeEmail{}
		w = &ScheduledEmail{Store: free, Email: email, Log: zap.NewNop()}
		if err := w.Process(ctx, job(t, "upgrade-checkin")); err != nil {
			t.Fatalf("process: %v", err)
		}
		if len(email.sent) != 0 {
			t.Errorf("free plan must not get a check-in: %+v", email.sent)
		}
	})

	t.Run("deleted team fails terminally", func(t *testing.T) {
		w := &ScheduledEmail{Store: &fakeTeamStore{}, Email: &fakeEmail{}, Log: zap.NewNop()}
		if err := w.Process(ctx, job(t, "dataroom-trial-24h")); !queue.IsTerminal(err) {
			t.Fatalf("expected terminal error, got %v", err)
		}
	})

	t.Run("unknown email type fails terminally", func(t *testing.T) {
		w := &ScheduledEmail{Store: &fakeTeamStore{team: &storage.Team{ID: "t1"}}, Email: &fakeEmail{}, Log: zap.NewNop()}
		if err := w.Process(ctx, job(t, "newsletter")); !queue.IsTerminal(err) {
			t.Fatalf("expected terminal error, got %v", err)
		}
	})

	t.Run("email service outage retries", func(t *testing.T) {
		store := &fakeTeamStore{team: &storage.Team{ID: "t1", Plan: "free+drtrial"}}
		w := &ScheduledEmail{Store: store, Email: &fakeEmail{err: errTransient}, Log: zap.NewNop()}
		err := w.Process(ctx, job(t, "dataroom-trial-24h"))
		if err == nil || queue.IsTerminal(err) {
			t.Fatalf("expected retryable error, got %v", err)
		}
	})
}
