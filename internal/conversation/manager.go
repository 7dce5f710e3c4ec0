// Package conversation keeps the per-identity turn history that is sent as
// context to the completion API.
package conversation

import (
	"fmt"
	"sync"
)

// DefaultMaxExchanges is the number of user+assistant pairs kept per identity.
const DefaultMaxExchanges = 10

// Role tags a single turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message within a session.
type Turn struct {
	Role    Role
	Content string
}

// UserTurn returns a user turn with the given content.
func UserTurn(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// AssistantTurn returns an assistant turn with the given content.
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// session is the ordered history for one identity. Its length is always even
// and every even index holds a user turn.
type session struct {
	turns []Turn
}

// Manager owns the identity -> session map. Sessions are created lazily and
// live until Clear or process exit.
type Manager struct {
	maxExchanges int

	mu       sync.Mutex
	sessions map[string]*session
}

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	MaxExchanges int // defaults to DefaultMaxExchanges
}

// NewManager creates a Manager.
func NewManager(opts ManagerOpts) *Manager {
	n := opts.MaxExchanges
	if n <= 0 {
		n = DefaultMaxExchanges
	}
	return &Manager{
		maxExchanges: n,
		sessions:     make(map[string]*session),
	}
}

// MaxExchanges returns the configured bound in exchange pairs.
func (m *Manager) MaxExchanges() int {
	return m.maxExchanges
}

// GetOrCreate returns a copy of the identity's history, creating an empty
// session if none exists.
func (m *Manager) GetOrCreate(identity string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[identity]
	if !ok {
		s = &session{}
		m.sessions[identity] = s
	}
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Append records one exchange and evicts the oldest pairs until the session
// is back within bounds.
func (m *Manager) Append(identity string, user, assistant Turn) error {
	if user.Role != RoleUser {
		return fmt.Errorf("conversation: append: first turn must be %q, got %q", RoleUser, user.Role)
	}
	if assistant.Role != RoleAssistant {
		return fmt.Errorf("conversation: append: second turn must be %q, got %q", RoleAssistant, assistant.Role)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[identity]
	if !ok {
		s = &session{}
		m.sessions[identity] = s
	}
	s.turns = append(s.turns, user, assistant)

	limit := 2 * m.maxExchanges
	if over := len(s.turns) - limit; over > 0 {
		// over is always even: turns are only ever added in pairs.
		trimmed := make([]Turn, limit)
		copy(trimmed, s.turns[over:])
		s.turns = trimmed
	}
	return nil
}

// Clear drops the identity's session and reports whether one existed.
func (m *Manager) Clear(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[identity]
	delete(m.sessions, identity)
	return ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Len returns the number of stored turns for an identity (0 if absent).
func (m *Manager) Len(identity string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[identity]; ok {
		return len(s.turns)
	}
	return 0
}
