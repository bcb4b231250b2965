package session

import (
	"log/slog"
	"sync"

	"github.com/satriadp/lisan/pkg/logging"
)

// Manager owns the set of live sessions keyed by connection id.
// Sessions register on connect and deregister on disconnect; nothing
// else in the process holds a session reference.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logging.NewComponentLogger(logger, "session_manager"),
	}
}

func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	if old, ok := m.sessions[s.ID()]; ok {
		// a reconnect starts fresh, never resumes an in-flight utterance
		old.Close()
	}
	m.sessions[s.ID()] = s
	n := len(m.sessions)
	m.mu.Unlock()
	m.logger.Info("session_registered",
		slog.String("session_id", s.ID()),
		slog.Int("active_sessions", n))
}

func (m *Manager) Deregister(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	m.logger.Info("session_deregistered",
		slog.String("session_id", id),
		slog.Int("active_sessions", n))
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll tears down every live session, used on shutdown drain.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
