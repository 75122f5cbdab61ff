package stepup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Manager keeps one Confirmation per caller key, usually the session ID.
// State is process local.
type Manager struct {
	cfg Config
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	conf     *Confirmation
	lastSeen time.Time
}

// NewManager constructs a Manager. Open requests older than ttl expire.
func NewManager(cfg Config, ttl time.Duration) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		ttl:     ttl,
		entries: make(map[string]*entry),
	}
}

// For returns the Confirmation of key, creating it on first use.
func (m *Manager) For(key string) *Confirmation {
	now := m.cfg.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{conf: NewConfirmation(m.cfg)}
		m.entries[key] = e
	} else if m.ttl > 0 {
		e.conf.expired(now, m.ttl)
	}
	e.lastSeen = now
	return e.conf
}

// Drop rejects and forgets the Confirmation of key.
func (m *Manager) Drop(ctx context.Context, key string) {
	m.mu.Lock()
	e, ok := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()
	if ok {
		_ = e.conf.Dismiss(ctx)
	}
}

// Sweep expires stale requests and forgets callers that stayed idle for a
// whole ttl. It returns the number of entries removed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, e := range m.entries {
		if m.ttl > 0 {
			e.conf.expired(now, m.ttl)
		}
		if e.conf.idle() && now.Sub(e.lastSeen) >= m.ttl {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked callers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(m.cfg.Now()); n > 0 {
				m.cfg.Logger.Debug("step-up sweep", slog.Int("removed", n))
			}
		}
	}
}
