package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/starford/offbalance/internal/apperr"
)

// DefaultTTL is how long an untouched session survives.
const DefaultTTL = 30 * time.Minute

// Manager creates, looks up and expires sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl    time.Duration
	notify Notifier
	now    func() time.Time
}

// NewManager returns a Manager expiring sessions idle longer than ttl.
// notify may be nil.
func NewManager(ttl time.Duration, notify Notifier) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		notify:   notify,
		now:      time.Now,
	}
}

// Create starts a new Idle session.
func (m *Manager) Create() *Session {
	now := m.now()
	s := &Session{
		id:        ulid.Make().String(),
		state:     Idle,
		createdAt: now,
		touchedAt: now,
		notify:    m.notify,
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	return s
}

// Get returns the session with id and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	// Touch under the manager lock so Sweep sees it before deciding.
	s.touch(m.now())
	return s, nil
}

// Dispose ends a session and releases its dataset.
func (m *Manager) Dispose(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Reset()
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep disposes every session idle since before now minus the TTL and
// returns how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	cutoff := now.Add(-m.ttl)

	m.mu.RLock()
	var expired []string
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	removed := 0
	for _, id := range expired {
		if m.disposeIfIdle(id, cutoff) {
			removed++
		}
	}
	return removed
}

// disposeIfIdle disposes id only if it is still idle since before cutoff.
func (m *Manager) disposeIfIdle(id string, cutoff time.Time) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || !s.idleSince().Before(cutoff) {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, id)
	m.mu.Unlock()
	s.Reset()
	return true
}

// Run sweeps expired sessions every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(m.now()); n > 0 {
				logger.Debug("session: swept expired", slog.Int("count", n), slog.Int("live", m.Len()))
			}
		}
	}
}
