// Package queue implements named durable job queues on Redis. Each queue
// keeps a ready list, a delayed zset and one hash per job; a mover loop
// promotes due delayed jobs into the ready list. Enqueues with a
// deterministic id are idempotent.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type BackoffType string

const (
	BackoffNone        BackoffType = "none"
	BackoffExponential BackoffType = "exponential"
)

// Options is a queue's default job policy, fixed at construction.
type Options struct {
	Attempts     int
	Backoff      BackoffType
	BackoffDelay time.Duration

	// Retention caps for terminal jobs, oldest evicted first.
	// Zero keeps everything.
	RetainCompleted int
	RetainFailed    int
}

type EnqueueOptions struct {
	Delay time.Duration
	Tags  []string
}

// Safety net on job hashes so evicted or abandoned records do not
// accumulate forever.
const jobTTL = 7 * 24 * time.Hour

type Queue struct {
	name string
	opts Options
	rdb  *r.Client
	log  *zap.Logger
}

// New constructs a queue. Queues are built once per process, at startup.
func New(name string, rdb *r.Client, log *zap.Logger, opts Options) *Queue {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	return &Queue{name: name, opts: opts, rdb: rdb, log: log.Named(name)}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) key(suffix string) string { return "q:" + q.name + ":" + suffix }
func (q *Queue) jobKey(id string) string  { return q.key("job:" + id) }

// Enqueue persists a job and makes it eligible for execution, immediately
// or after opts.Delay. An empty id gets a generated one; a duplicate id is
// a no-op and returns the id unchanged.
func (q *Queue) Enqueue(ctx context.Context, id string, payload []byte, opts EnqueueOptions) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	added, err := q.rdb.SAdd(ctx, q.key("ids"), id).Result()
	if err != nil {
		return "", errors.Wrapf(err, "enqueue %s/%s", q.name, id)
	}
	if added == 0 {
		// Known id: a no-op while the job record lives. If the hash is gone
		// (TTL'd out, or the process died between pop and the terminal
		// write) the id is stale, not taken; reclaim it with a fresh job so
		// a crash can never poison a deterministic id.
		exists, err := q.rdb.Exists(ctx, q.jobKey(id)).Result()
		if err != nil {
			return "", errors.Wrapf(err, "enqueue %s/%s", q.name, id)
		}
		if exists > 0 {
			return id, nil
		}
		q.log.Warn("reclaiming stale job id", zap.String("job", id))
	}

	tags := opts.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", errors.Wrap(err, "marshal tags")
	}

	now := time.Now()
	state := StateWaiting
	if opts.Delay > 0 {
		state = StateDelayed
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), map[string]interface{}{
		"payload":       payload,
		"tags":          tagsJSON,
		"state":         string(state),
		"attempts":      0,
		"max_attempts":  q.opts.Attempts,
		"progress":      0,
		"progress_text": "",
		"enqueued_at":   now.UnixMilli(),
	})
	pipe.Expire(ctx, q.jobKey(id), jobTTL)
	if opts.Delay > 0 {
		pipe.ZAdd(ctx, q.key("delayed"), r.Z{Score: float64(now.Add(opts.Delay).UnixMilli()), Member: id})
	} else {
		pipe.LPush(ctx, q.key("wait"), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		q.rdb.SRem(ctx, q.key("ids"), id)
		return "", errors.Wrapf(err, "enqueue %s/%s", q.name, id)
	}
	return id, nil
}

// GetJob loads a job by id, ErrJobNotFound if unknown or already evicted.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	vals, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "get job %s/%s", q.name, id)
	}
	if len(vals) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromHash(q, id, vals), nil
}

// fetch blocks on the ready list with a dedicated connection and marks the
// popped job active. Returns (nil, nil) when the block timed out.
func (q *Queue) fetch(ctx context.Context, conn *r.Client, block time.Duration) (*Job, error) {
	res, err := conn.BRPop(ctx, block, q.key("wait")).Result()
	if err != nil {
		if err == r.Nil {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "fetch %s", q.name)
	}
	if len(res) != 2 {
		return nil, nil
	}
	j, err := q.GetJob(ctx, res[1])
	if err != nil {
		if err == ErrJobNotFound {
			// Cancelled or evicted between push and pop.
			return nil, nil
		}
		return nil, err
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(j.ID), "state", string(StateActive), "progress", 0, "progress_text", "")
	attempts := pipe.HIncrBy(ctx, q.jobKey(j.ID), "attempts", 1)
	pipe.IncrBy(ctx, q.key("active"), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrapf(err, "mark active %s/%s", q.name, j.ID)
	}
	j.State = StateActive
	j.AttemptsMade = int(attempts.Val())
	j.progress = 0
	j.progressText = ""
	return j, nil
}

func (q *Queue) complete(ctx context.Context, j *Job) error {
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(j.ID), "state", string(StateCompleted), "finished_at", time.Now().UnixMilli())
	pipe.DecrBy(ctx, q.key("active"), 1)
	pipe.LPush(ctx, q.key("completed"), j.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "complete %s/%s", q.name, j.ID)
	}
	return q.trimRetained(ctx, q.key("completed"), q.opts.RetainCompleted)
}

// fail decides between retry and terminal failure. Handlers signal failure
// by returning an error; wrapping it with Terminal skips remaining
// attempts.
func (q *Queue) fail(ctx context.Context, j *Job, cause error) error {
	reason := cause.Error()
	if IsTerminal(cause) || j.AttemptsMade >= j.MaxAttempts {
		pipe := q.rdb.TxPipeline()
		pipe.HSet(ctx, q.jobKey(j.ID),
			"state", string(StateFailed),
			"failed_reason", reason,
			"finished_at", time.Now().UnixMilli(),
		)
		pipe.DecrBy(ctx, q.key("active"), 1)
		pipe.LPush(ctx, q.key("failed"), j.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return errors.Wrapf(err, "fail %s/%s", q.name, j.ID)
		}
		return q.trimRetained(ctx, q.key("failed"), q.opts.RetainFailed)
	}

	delay := q.backoff(j.AttemptsMade)
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(j.ID), "failed_reason", reason, "progress", 0, "progress_text", "")
	pipe.DecrBy(ctx, q.key("active"), 1)
	if delay > 0 {
		pipe.HSet(ctx, q.jobKey(j.ID), "state", string(StateDelayed))
		pipe.ZAdd(ctx, q.key("delayed"), r.Z{Score: float64(time.Now().Add(delay).UnixMilli()), Member: j.ID})
	} else {
		pipe.HSet(ctx, q.jobKey(j.ID), "state", string(StateWaiting))
		pipe.LPush(ctx, q.key("wait"), j.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "retry %s/%s", q.name, j.ID)
	}
	return nil
}

// backoff computes the delay before the next attempt given how many
// attempts have already run.
func (q *Queue) backoff(attemptsMade int) time.Duration {
	if q.opts.Backoff != BackoffExponential || q.opts.BackoffDelay <= 0 {
		return 0
	}
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	return q.opts.BackoffDelay << (attemptsMade - 1)
}

// trimRetained evicts terminal jobs beyond the retention cap, deleting
// their hashes so the job data goes with the list entry.
func (q *Queue) trimRetained(ctx context.Context, listKey string, keep int) error {
	if keep <= 0 {
		return nil
	}
	evicted, err := q.rdb.LRange(ctx, listKey, int64(keep), -1).Result()
	if err != nil {
		return errors.Wrapf(err, "trim %s", listKey)
	}
	if len(evicted) == 0 {
		return nil
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range evicted {
		pipe.Del(ctx, q.jobKey(id))
		pipe.SRem(ctx, q.key("ids"), id)
	}
	pipe.LTrim(ctx, listKey, 0, int64(keep-1))
	_, err = pipe.Exec(ctx)
	return errors.Wrapf(err, "trim %s", listKey)
}

// moveDue promotes delayed jobs whose time has come into the ready list.
func (q *Queue) moveDue(ctx context.Context, now time.Time, batch int64) error {
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("delayed"), &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixMilli()), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.LPush(ctx, q.key("wait"), id)
		pipe.ZRem(ctx, q.key("delayed"), id)
		pipe.HSet(ctx, q.jobKey(id), "state", string(StateWaiting))
	}
	_, err = pipe.Exec(ctx)
	return err
}

// RunMover drives moveDue until ctx is cancelled. One mover per queue.
func (q *Queue) RunMover(ctx context.Context) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := q.moveDue(ctx, time.Now(), 200); err != nil {
				q.log.Warn("move due jobs", zap.Error(err))
			}
		}
	}
}
