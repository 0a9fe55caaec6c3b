package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ManagerConfig bounds how many sessions live and for how long.
type ManagerConfig struct {
	MaxSessions  int           // 0 means unlimited
	IdleTTL      time.Duration // 0 disables reaping
	ReapInterval time.Duration
}

// Manager owns every open session.
type Manager struct {
	sessions sync.Map
	count    atomic.Int64
	config   ManagerConfig
	opts     Options
	logger   *zap.Logger

	closed atomic.Bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a session manager. opts is the template for new sessions.
func NewManager(config ManagerConfig, opts Options) *Manager {
	opts = opts.withDefaults()
	if config.ReapInterval <= 0 {
		config.ReapInterval = time.Minute
	}
	return &Manager{
		config: config,
		opts:   opts,
		logger: opts.Logger,
		stop:   make(chan struct{}),
	}
}

// Create opens a new idle session.
func (m *Manager) Create() (*Session, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	n := m.count.Add(1)
	if m.config.MaxSessions > 0 && n > int64(m.config.MaxSessions) {
		m.count.Add(-1)
		return nil, ErrTooManySessions
	}

	s := New(m.opts)
	m.sessions.Store(s.ID().String(), s)
	m.opts.Observer.SessionsActive(int(n))
	m.logger.Info("Session created", zap.String("session", s.ID().String()))
	return s, nil
}

// Detached creates a session from the manager's template without
// registering it. The caller must Close it.
func (m *Manager) Detached() *Session {
	return New(m.opts)
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	val, ok := m.sessions.Load(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return val.(*Session), nil
}

// Delete closes and removes a session.
func (m *Manager) Delete(id string) error {
	val, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return ErrSessionNotFound
	}
	val.(*Session).Close()
	n := m.count.Add(-1)
	m.opts.Observer.SessionsActive(int(n))
	m.logger.Info("Session deleted", zap.String("session", id))
	return nil
}

// List returns snapshots of all sessions, oldest first.
func (m *Manager) List() []Snapshot {
	out := []Snapshot{}
	m.sessions.Range(func(_, val interface{}) bool {
		out = append(out, val.(*Session).Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	return int(m.count.Load())
}

// Reap closes sessions unused since before now minus IdleTTL. Sessions with a
// run in flight or playing are left alone.
func (m *Manager) Reap(now time.Time) int {
	if m.config.IdleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-m.config.IdleTTL)
	var stale []string
	m.sessions.Range(func(key, val interface{}) bool {
		s := val.(*Session)
		switch s.Status() {
		case StatusLoading, StatusPlaying:
			return true
		}
		if s.IdleSince().Before(cutoff) {
			stale = append(stale, key.(string))
		}
		return true
	})

	reaped := 0
	for _, id := range stale {
		if m.Delete(id) == nil {
			reaped++
		}
	}
	if reaped > 0 {
		m.logger.Info("Reaped idle sessions", zap.Int("count", reaped))
	}
	return reaped
}

// StartReaper runs Reap periodically until ctx ends or the manager closes.
func (m *Manager) StartReaper(ctx context.Context) {
	if m.config.IdleTTL <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case now := <-ticker.C:
				m.Reap(now)
			}
		}
	}()
}

// Close stops the reaper and closes every session concurrently.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(m.stop)
	m.wg.Wait()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	m.sessions.Range(func(key, _ interface{}) bool {
		id := key.(string)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_ = m.Delete(id)
			return nil
		})
		return true
	})
	return g.Wait()
}
