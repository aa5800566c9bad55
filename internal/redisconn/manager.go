// Package redisconn owns the Redis connection lifecycle. Queue producers
// share one lazily-created client; each worker gets a dedicated client
// because blocking commands (BRPOP) must not share a connection with
// regular traffic.
package redisconn

import (
	"context"
	"sync"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Manager struct {
	opts *r.Options
	log  *zap.Logger

	mu        sync.Mutex
	shared    *r.Client
	dedicated []*r.Client
}

// New parses the Redis URL and verifies connectivity. A failed ping is
// logged, not fatal: callers that can degrade (the locker) keep working
// without a shared store.
func New(ctx context.Context, url, password string, log *zap.Logger) (*Manager, error) {
	if url == "" {
		log.Warn("redis not configured, lock falls back to in-process mode")
		return &Manager{log: log}, nil
	}
	opts, err := r.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	m := &Manager{opts: opts, log: log}
	if err := m.Shared().Ping(ctx).Err(); err != nil {
		log.Error("redis ping failed", zap.String("addr", opts.Addr), zap.Error(err))
	} else {
		log.Info("redis connected", zap.String("addr", opts.Addr))
	}
	return m, nil
}

func (m *Manager) Configured() bool { return m != nil && m.opts != nil }

// Shared returns the singleton client used for enqueue-side operations.
func (m *Manager) Shared() *r.Client {
	if !m.Configured() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shared == nil {
		m.shared = r.NewClient(m.opts)
	}
	return m.shared
}

// Dedicated returns a new client safe for blocking commands. The manager
// keeps track of it for CloseAll.
func (m *Manager) Dedicated() *r.Client {
	if !m.Configured() {
		return nil
	}
	c := r.NewClient(m.opts)
	m.mu.Lock()
	m.dedicated = append(m.dedicated, c)
	m.mu.Unlock()
	return c
}

func (m *Manager) CloseAll() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for _, c := range m.dedicated {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	m.dedicated = nil
	if m.shared != nil {
		if err := m.shared.Close(); err != nil && first == nil {
			first = err
		}
		m.shared = nil
	}
	return first
}
