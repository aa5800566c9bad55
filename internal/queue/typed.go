package queue

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Typed wraps a queue with a fixed payload type per queue name.
type Typed[T any] struct {
	Q *Queue
}

func NewTyped[T any](q *Queue) *Typed[T] { return &Typed[T]{Q: q} }

func (t *Typed[T]) Enqueue(ctx context.Context, id string, payload T, opts EnqueueOptions) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrapf(err, "marshal %s payload", t.Q.name)
	}
	return t.Q.Enqueue(ctx, id, b, opts)
}

// Payload decodes a job's payload into the queue's payload type.
func Payload[T any](j *Job) (T, error) {
	var p T
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, errors.Wrapf(err, "decode %s payload", j.QueueName)
	}
	return p, nil
}
