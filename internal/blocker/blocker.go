// Package blocker implements the wait/wake side of blocking reads (BLPOP,
// BRPOP, XREAD BLOCK, ...): a client releases its shard locks, parks on a
// channel keyed by the keys it's waiting on, and is woken the moment any
// of them receives a push -- at which point it must re-acquire locks and
// retry its own read, since another waiter may win the race first.
package blocker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Manager fans out key-ready notifications to parked waiters.
type Manager struct {
	mu      sync.Mutex
	waiters map[string][]chan struct{}
	logger  zerolog.Logger
}

func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		waiters: make(map[string][]chan struct{}),
		logger:  logger.With().Str("component", "blocker").Logger(),
	}
}

// register parks a fresh wake channel under every key and returns it.
func (m *Manager) register(keys []string) chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	for _, k := range keys {
		m.waiters[k] = append(m.waiters[k], ch)
	}
	m.mu.Unlock()
	return ch
}

// unregister removes ch from every key's waiter list. Safe to call after
// the channel has already fired.
func (m *Manager) unregister(keys []string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		list := m.waiters[k]
		for i, c := range list {
			if c == ch {
				m.waiters[k] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(m.waiters[k]) == 0 {
			delete(m.waiters, k)
		}
	}
}

// Notify wakes every waiter currently parked on key, in FIFO registration
// order. Each wake is a non-blocking best-effort send (a buffered channel
// of size 1), so a waiter that already has a pending wake is not
// double-notified.
func (m *Manager) Notify(key string) {
	m.mu.Lock()
	list := m.waiters[key]
	m.mu.Unlock()
	for _, ch := range list {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Wait parks the caller until either a push to one of keys wakes it, ctx
// is canceled, or timeout elapses (timeout <= 0 means wait indefinitely,
// the BLPOP "0" convention). retry is called each time a wake fires (or
// once immediately before parking) to attempt the actual read under the
// caller's own locking discipline; Wait returns as soon as retry reports
// success.
func (m *Manager) Wait(ctx context.Context, keys []string, timeout time.Duration, retry func() (ok bool)) bool {
	if retry() {
		return true
	}

	ch := m.register(keys)
	defer m.unregister(keys, ch)

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ch:
			if retry() {
				return true
			}
		case <-deadline:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
