package session

import (
	"log/slog"
	"sync"
)

// Manager owns the active sessions and is the only mutation surface the
// rest of the process uses. Every mutation is persisted immediately;
// persistence failures are logged and swallowed — the in-memory state
// stays authoritative for the remainder of the process lifetime.
type Manager struct {
	mu       sync.Mutex
	store    Store
	logger   *slog.Logger
	sessions map[string]*Session
}

// NewManager creates a manager over the given store. A nil store keeps
// sessions purely in memory.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// get returns the live session for key, loading it from the store or
// creating a fresh one lazily. Caller must hold m.mu.
func (m *Manager) get(key string) *Session {
	if s, ok := m.sessions[key]; ok {
		return s
	}

	var s *Session
	if m.store != nil {
		loaded, err := m.store.Load(key)
		if err != nil {
			m.logger.Warn("failed to load session, starting fresh", "key", key, "error", err)
		} else {
			s = loaded
		}
	}
	if s == nil {
		s = New(key)
	}
	m.sessions[key] = s
	return s
}

// persist saves the session, swallowing failures. Caller must hold m.mu.
func (m *Manager) persist(s *Session) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(s.Key, s); err != nil {
		m.logger.Warn("failed to persist session", "key", s.Key, "error", err)
	}
}

// Snapshot returns a deep copy of the session for key.
func (m *Manager) Snapshot(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(key).Clone()
}

// AppendUser appends a user turn and persists.
func (m *Manager) AppendUser(key, content string) Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(key)
	t := s.AppendUser(content)
	m.persist(s)
	return t
}

// AppendAssistant appends an assistant turn and persists.
func (m *Manager) AppendAssistant(key, content string) Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(key)
	t := s.AppendAssistant(content)
	m.persist(s)
	return t
}

// Edit replaces a turn's content in place and persists.
func (m *Manager) Edit(key string, ts int64, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(key)
	if err := s.Edit(ts, content); err != nil {
		return err
	}
	m.persist(s)
	return nil
}

// RegenerateTarget reports the latest assistant turn and the instruction
// to reuse. Read-only; nothing is persisted.
func (m *Manager) RegenerateTarget(key string) (Turn, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(key).RegenerateTarget()
}

// ReplaceContent swaps in regenerated content for a turn and persists.
func (m *Manager) ReplaceContent(key string, ts int64, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(key)
	if err := s.ReplaceContent(ts, content); err != nil {
		return err
	}
	m.persist(s)
	return nil
}

// Delete removes a turn (with the user-turn cascade) and persists.
func (m *Manager) Delete(key string, ts int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(key)
	n, err := s.Delete(ts)
	if err != nil {
		return 0, err
	}
	m.persist(s)
	return n, nil
}

// TogglePreferred toggles the preferred pin on an assistant turn and persists.
func (m *Manager) TogglePreferred(key string, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(key)
	if err := s.TogglePreferred(ts); err != nil {
		return err
	}
	m.persist(s)
	return nil
}

// Clear empties the session for key and persists the empty state.
func (m *Manager) Clear(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := New(key)
	m.sessions[key] = s
	m.persist(s)
}
