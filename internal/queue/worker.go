package queue

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Handler processes one job. Returning nil completes the job; returning an
// error hands the retry decision to the queue.
type Handler func(ctx context.Context, job *Job) error

type WorkerOptions struct {
	Concurrency int
	// RatePerSecond caps job starts to protect downstream services.
	// Zero disables the limiter.
	RatePerSecond int
}

// Worker consumes one queue under a concurrency bound. It needs a
// dedicated connection because the fetch blocks.
type Worker struct {
	queue       *Queue
	conn        *r.Client
	handler     Handler
	sem         *semaphore.Weighted
	limiter     *rate.Limiter
	concurrency int64
	log         *zap.Logger
}

func NewWorker(q *Queue, conn *r.Client, handler Handler, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	var lim *rate.Limiter
	if opts.RatePerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RatePerSecond)
	}
	return &Worker{
		queue:       q,
		conn:        conn,
		handler:     handler,
		sem:         semaphore.NewWeighted(int64(opts.Concurrency)),
		limiter:     lim,
		concurrency: int64(opts.Concurrency),
		log:         q.log,
	}
}

// Run pulls and executes jobs until ctx is cancelled, then drains
// in-flight jobs before returning.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", zap.Int64("concurrency", w.concurrency))
	for {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			break
		}
		job, err := w.queue.fetch(ctx, w.conn, 5*time.Second)
		if err != nil {
			w.sem.Release(1)
			if ctx.Err() != nil {
				break
			}
			w.log.Warn("fetch job", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			w.sem.Release(1)
			continue
		}
		if w.limiter != nil {
			// Job-start cap; a popped job is still ours on cancel and runs
			// to its terminal state during drain.
			_ = w.limiter.Wait(ctx)
		}
		go func(j *Job) {
			defer w.sem.Release(1)
			w.process(ctx, j)
		}(job)
	}

	_ = w.sem.Acquire(context.Background(), w.concurrency)
	w.sem.Release(w.concurrency)
	w.log.Info("worker stopped")
	return nil
}

func (w *Worker) process(ctx context.Context, j *Job) {
	j.OnProgress(func(pct int, text string) {
		w.log.Debug("job progress",
			zap.String("job", j.ID), zap.Int("progress", pct), zap.String("text", text))
	})

	// Terminal-state writes must survive shutdown: once a job is popped it
	// exists in no list, so a complete/fail that dies with the worker's
	// context would strand the job as active forever.
	writeCtx := context.WithoutCancel(ctx)

	start := time.Now()
	err := w.invoke(ctx, j)
	if err == nil {
		if cerr := w.queue.complete(writeCtx, j); cerr != nil {
			w.log.Error("mark job completed", zap.String("job", j.ID), zap.Error(cerr))
		}
		w.log.Info("job completed", zap.String("job", j.ID), zap.Duration("took", time.Since(start)))
		return
	}

	if ferr := w.queue.fail(writeCtx, j, err); ferr != nil {
		w.log.Error("mark job failed", zap.String("job", j.ID), zap.Error(ferr))
	}
	w.log.Error("job failed",
		zap.String("job", j.ID),
		zap.Int("attempt", j.AttemptsMade),
		zap.Int("max_attempts", j.MaxAttempts),
		zap.Bool("terminal", IsTerminal(err) || j.AttemptsMade >= j.MaxAttempts),
		zap.Error(err))
}

func (w *Worker) invoke(ctx context.Context, j *Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("job handler panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return w.handler(ctx, j)
}
