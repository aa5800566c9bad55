// Package progress is the polling surface for in-flight jobs.
package progress

import (
	"context"
	"fmt"

	"github.com/you/docpipe/internal/queue"
)

type JobState string

const (
	StateQueued    JobState = "QUEUED"
	StateExecuting JobState = "EXECUTING"
	StateCompleted JobState = "COMPLETED"
	StateFailed    JobState = "FAILED"
)

type Status struct {
	State    JobState `json:"state"`
	Progress int      `json:"progress"`
	Text     string   `json:"text"`
}

func fromQueueState(s queue.State) JobState {
	switch s {
	case queue.StateActive:
		return StateExecuting
	case queue.StateCompleted:
		return StateCompleted
	case queue.StateFailed:
		return StateFailed
	default:
		return StateQueued
	}
}

// ForJob reads the progress record for a job, queue.ErrJobNotFound when
// the job is unknown or already evicted.
func ForJob(ctx context.Context, q *queue.Queue, jobID string) (*Status, error) {
	j, err := q.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	pct, text := j.Progress()
	if text == "" {
		text = defaultText(j.State, pct)
	}
	return &Status{State: fromQueueState(j.State), Progress: pct, Text: text}, nil
}

func defaultText(s queue.State, pct int) string {
	switch s {
	case queue.StateWaiting, queue.StateDelayed:
		return "Waiting in queue..."
	case queue.StateActive:
		return fmt.Sprintf("Processing... %d%%", pct)
	case queue.StateCompleted:
		return "Processing complete"
	case queue.StateFailed:
		return "Processing failed"
	default:
		return "Initializing..."
	}
}
