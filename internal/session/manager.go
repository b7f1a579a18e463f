package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/voxline/internal/agent"
)

var ErrNotFound = errors.New("session not found")

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	retention         time.Duration
	onExpire          func(*Session)
	now               func() time.Time
}

func NewManager(inactivityTimeout, retention time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 5 * time.Minute
	}
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
		retention:         retention,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// SetExpireHook registers a callback run, outside the lock, for every session the
// janitor ends.
func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a new active session holding cfg as its agent snapshot.
func (m *Manager) Create(cfg agent.Config, fallback bool) *Session {
	now := m.now()
	s := &Session{
		ID:             uuid.NewString(),
		AgentID:        cfg.ID,
		AgentName:      cfg.Name,
		FallbackAgent:  fallback,
		Agent:          cfg,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	return m.update(sessionID, func(*Session) {})
}

// RecordTurn counts a completed turn.
func (m *Manager) RecordTurn(sessionID string) error {
	return m.update(sessionID, func(s *Session) { s.TurnCount++ })
}

// RecordDrop counts an utterance rejected by the turn entry guard.
func (m *Manager) RecordDrop(sessionID string) error {
	return m.update(sessionID, func(s *Session) { s.DroppedCount++ })
}

func (m *Manager) update(sessionID string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	fn(s)
	s.LastActivityAt = m.now()
	return nil
}

// End marks the session ended. Ending an already ended session keeps the first
// reason and end time.
func (m *Manager) End(sessionID, reason string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status == StatusActive {
		m.end(s, reason, m.now())
	}
	return clone(s), nil
}

func (m *Manager) end(s *Session, reason string, at time.Time) {
	s.Status = StatusEnded
	s.EndReason = reason
	s.EndedAt = &at
	s.LastActivityAt = at
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// sweep ends idle sessions and calls past the agent's max duration, and forgets
// sessions that ended longer than the retention ago.
func (m *Manager) sweep() {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status != StatusActive {
			if s.EndedAt != nil && now.Sub(*s.EndedAt) >= m.retention {
				delete(m.sessions, id)
			}
			continue
		}
		reason := ""
		if max := s.Agent.Settings.MaxCallDuration(); max > 0 && now.Sub(s.StartedAt) >= max {
			reason = EndMaxDuration
		} else if now.Sub(s.LastActivityAt) >= m.inactivityTimeout {
			reason = EndInactivity
		}
		if reason == "" {
			continue
		}
		m.end(s, reason, now)
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
