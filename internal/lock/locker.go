// Package lock provides resource-level mutual exclusion for resumable
// upload sessions. Locks live in Redis with a TTL so a crashed holder can
// never block a resource forever. Waiters are told about contention
// cooperatively: a "release requested" flag next to the lock key lets the
// current holder finish up and release early.
//
// Without a configured Redis client the locker degrades to an in-process
// table with the same contract; exclusion then only holds within a single
// process.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrLockTimeout     = errors.New("lock: acquire timed out")
	ErrAlreadyUnlocked = errors.New("lock: releasing an unlocked lock")
)

const (
	DefaultTimeout = 30 * time.Second
	pollInterval   = 50 * time.Millisecond
)

// RequestRelease is invoked on the waiter's goroutine when the current
// holder has been asked to release. The holder is notified, not preempted.
type RequestRelease func()

type Lock interface {
	// Lock acquires the resource or fails with ErrLockTimeout once ctx is
	// cancelled or the locker's timeout elapses.
	Lock(ctx context.Context, onReleaseRequested RequestRelease) error
	// Unlock releases the resource, ErrAlreadyUnlocked if it was not held.
	Unlock(ctx context.Context) error
}

// RedisClient is the slice of go-redis the locker needs.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *r.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *r.StatusCmd
	Get(ctx context.Context, key string) *r.StringCmd
	Del(ctx context.Context, keys ...string) *r.IntCmd
}

type Locker struct {
	client  RedisClient
	timeout time.Duration
	log     *zap.Logger
	mem     *memoryTable
}

// New builds a locker backed by client. A nil client selects the
// in-process fallback; the degraded scope is logged once here so callers
// know exclusion is process-local only.
func New(client RedisClient, timeout time.Duration, log *zap.Logger) *Locker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	l := &Locker{client: client, timeout: timeout, log: log}
	if client == nil {
		l.mem = newMemoryTable()
		log.Warn("redis not configured, using in-process locking (single-process scope only)")
	}
	return l
}

func (l *Locker) NewLock(id string) Lock {
	if l.client == nil {
		return &memoryLock{id: id, table: l.mem, timeout: l.timeout}
	}
	return &redisLock{id: id, client: l.client, timeout: l.timeout}
}

func lockKey(id string) string    { return "upload-lock:" + id }
func releaseKey(id string) string { return "release-requested:" + lockKey(id) }

type redisLock struct {
	id      string
	client  RedisClient
	timeout time.Duration
}

func (l *redisLock) Lock(ctx context.Context, onReleaseRequested RequestRelease) error {
	deadline := time.Now().Add(l.timeout)
	for {
		ok, err := l.client.SetNX(ctx, lockKey(l.id), "locked", l.timeout).Result()
		if err != nil {
			return errors.Wrapf(err, "lock %s", l.id)
		}
		if ok {
			// Arm the contention flag; any later waiter seeing it asks us
			// to release.
			if err := l.client.Set(ctx, releaseKey(l.id), "true", l.timeout).Err(); err != nil {
				return errors.Wrapf(err, "lock %s", l.id)
			}
			return nil
		}

		flag, err := l.client.Get(ctx, releaseKey(l.id)).Result()
		if err != nil && err != r.Nil {
			return errors.Wrapf(err, "lock %s", l.id)
		}
		if flag == "true" && onReleaseRequested != nil {
			onReleaseRequested()
		}

		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ErrLockTimeout
		case <-time.After(pollInterval):
		}
	}
}

func (l *redisLock) Unlock(ctx context.Context) error {
	n, err := l.client.Del(ctx, lockKey(l.id)).Result()
	if err != nil {
		return errors.Wrapf(err, "unlock %s", l.id)
	}
	if n == 0 {
		return ErrAlreadyUnlocked
	}
	if err := l.client.Del(ctx, releaseKey(l.id)).Err(); err != nil {
		return errors.Wrapf(err, "unlock %s", l.id)
	}
	return nil
}

// memoryTable is the process-local fallback. TTL expiry runs on a timer
// per entry, mirroring the Redis PX behaviour.
type memoryTable struct {
	mu    sync.Mutex
	locks map[string]*memoryEntry
}

type memoryEntry struct {
	releaseRequested bool
	timer            *time.Timer
}

func newMemoryTable() *memoryTable {
	return &memoryTable{locks: make(map[string]*memoryEntry)}
}

type memoryLock struct {
	id      string
	table   *memoryTable
	timeout time.Duration
}

func (l *memoryLock) Lock(ctx context.Context, onReleaseRequested RequestRelease) error {
	deadline := time.Now().Add(l.timeout)
	for {
		l.table.mu.Lock()
		entry, held := l.table.locks[l.id]
		if !held {
			e := &memoryEntry{releaseRequested: true}
			e.timer = time.AfterFunc(l.timeout, func() {
				l.table.mu.Lock()
				if l.table.locks[l.id] == e {
					delete(l.table.locks, l.id)
				}
				l.table.mu.Unlock()
			})
			l.table.locks[l.id] = e
			l.table.mu.Unlock()
			return nil
		}
		requested := entry.releaseRequested
		l.table.mu.Unlock()

		if requested && onReleaseRequested != nil {
			onReleaseRequested()
		}

		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ErrLockTimeout
		case <-time.After(pollInterval):
		}
	}
}

func (l *memoryLock) Unlock(ctx context.Context) error {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	entry, held := l.table.locks[l.id]
	if !held {
		return ErrAlreadyUnlocked
	}
	entry.timer.Stop()
	delete(l.table.locks, l.id)
	return nil
}
