package queue

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Tags are application-level labels embedded in the job record, not a
// first-class queue feature. The helpers below enumerate pending (waiting
// or delayed) jobs and match on tag membership.

func (q *Queue) pendingIDs(ctx context.Context) ([]string, error) {
	waiting, err := q.rdb.LRange(ctx, q.key("wait"), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "list waiting %s", q.name)
	}
	delayed, err := q.rdb.ZRange(ctx, q.key("delayed"), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "list delayed %s", q.name)
	}
	return append(waiting, delayed...), nil
}

func (q *Queue) JobsByTag(ctx context.Context, tag string) ([]*Job, error) {
	ids, err := q.pendingIDs(ctx)
	if err != nil {
		return nil, err
	}
	var jobs []*Job
	for _, id := range ids {
		j, err := q.GetJob(ctx, id)
		if err != nil {
			if err == ErrJobNotFound {
				continue
			}
			return nil, err
		}
		if j.hasTag(tag) {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// CancelByID removes a pending job. Returns false when the job is not
// pending (unknown, active or already terminal).
func (q *Queue) CancelByID(ctx context.Context, id string) (bool, error) {
	removed, err := q.rdb.LRem(ctx, q.key("wait"), 0, id).Result()
	if err != nil {
		return false, errors.Wrapf(err, "cancel %s/%s", q.name, id)
	}
	zremoved, err := q.rdb.ZRem(ctx, q.key("delayed"), id).Result()
	if err != nil {
		return false, errors.Wrapf(err, "cancel %s/%s", q.name, id)
	}
	if removed == 0 && zremoved == 0 {
		return false, nil
	}
	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, q.jobKey(id))
	pipe.SRem(ctx, q.key("ids"), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.Wrapf(err, "cancel %s/%s", q.name, id)
	}
	return true, nil
}

// CancelByTag cancels every pending job carrying the tag and returns how
// many were removed. A job that slipped into execution is skipped.
func (q *Queue) CancelByTag(ctx context.Context, tag string) (int, error) {
	jobs, err := q.JobsByTag(ctx, tag)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, j := range jobs {
		ok, err := q.CancelByID(ctx, j.ID)
		if err != nil {
			q.log.Warn("cancel job", zap.String("job", j.ID), zap.Error(err))
			continue
		}
		if ok {
			cancelled++
		}
	}
	return cancelled, nil
}

type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.LLen(ctx, q.key("wait"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	active := pipe.Get(ctx, q.key("active"))
	completed := pipe.LLen(ctx, q.key("completed"))
	failed := pipe.LLen(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil && err != r.Nil {
		return nil, errors.Wrapf(err, "stats %s", q.name)
	}
	s := &Stats{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}
	if v, err := strconv.ParseInt(active.Val(), 10, 64); err == nil {
		s.Active = v
	}
	return s, nil
}
