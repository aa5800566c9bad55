package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var ErrJobNotFound = errors.New("queue: job not found")

// Job is one durable unit of work. All mutations to a job's state go
// through the queue that owns it; workers only see the job they are
// currently holding.
type Job struct {
	ID           string
	QueueName    string
	Payload      []byte
	Tags         []string
	AttemptsMade int
	MaxAttempts  int
	State        State
	FailedReason string
	EnqueuedAt   time.Time

	q            *Queue
	progress     int
	progressText string
	onProgress   func(pct int, text string)
}

// NewLocalJob returns a detached job whose progress lives only in memory.
// Handlers invoked outside a queue (tests, one-off runs) use this.
func NewLocalJob(id string, payload []byte) *Job {
	return &Job{ID: id, Payload: payload, State: StateActive, AttemptsMade: 1, MaxAttempts: 1}
}

// OnProgress registers an observer invoked on every progress report.
func (j *Job) OnProgress(fn func(pct int, text string)) { j.onProgress = fn }

// Progress returns the latest reported progress for this attempt.
func (j *Job) Progress() (int, string) { return j.progress, j.progressText }

// ReportProgress records progress for the current attempt. Progress is
// monotonically non-decreasing within one attempt: a lower percentage than
// the last report is clamped up. A retry attempt restarts from 0.
func (j *Job) ReportProgress(ctx context.Context, pct int, text string) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct < j.progress {
		pct = j.progress
	}
	j.progress = pct
	j.progressText = text
	if j.onProgress != nil {
		j.onProgress(pct, text)
	}
	if j.q == nil {
		return nil
	}
	return j.q.rdb.HSet(ctx, j.q.jobKey(j.ID),
		"progress", pct,
		"progress_text", text,
	).Err()
}

func (j *Job) hasTag(tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func jobFromHash(q *Queue, id string, vals map[string]string) *Job {
	j := &Job{
		ID:           id,
		QueueName:    q.name,
		Payload:      []byte(vals["payload"]),
		State:        State(vals["state"]),
		FailedReason: vals["failed_reason"],
		q:            q,
	}
	j.AttemptsMade, _ = strconv.Atoi(vals["attempts"])
	j.MaxAttempts, _ = strconv.Atoi(vals["max_attempts"])
	j.progress, _ = strconv.Atoi(vals["progress"])
	j.progressText = vals["progress_text"]
	if ms, err := strconv.ParseInt(vals["enqueued_at"], 10, 64); err == nil {
		j.EnqueuedAt = time.UnixMilli(ms)
	}
	if vals["tags"] != "" {
		_ = json.Unmarshal([]byte(vals["tags"]), &j.Tags)
	}
	return j
}

// terminalError marks a failure that retrying cannot fix (missing rows,
// blocked documents). The queue fails such jobs immediately instead of
// re-scheduling the remaining attempts.
type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
