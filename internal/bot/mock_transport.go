package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/fortysix/internal/credstore"
)

// MockTransport implements Transport for testing. Every Connect hands out a
// new MockSocket; queued errors make Connect fail instead.
type MockTransport struct {
	mu          sync.Mutex
	sockets     []*MockSocket
	auths       []*credstore.State
	connectErrs []error
	connected   chan *MockSocket
}

// NewMockTransport creates a MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{connected: make(chan *MockSocket, 100)}
}

// Connect returns a fresh MockSocket, or the next queued error.
func (m *MockTransport) Connect(ctx context.Context, auth *credstore.State) (Socket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auths = append(m.auths, auth)
	if len(m.connectErrs) > 0 {
		err := m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
		return nil, err
	}
	s := NewMockSocket()
	m.sockets = append(m.sockets, s)
	m.connected <- s
	return s, nil
}

// --- Test helpers ---

// FailNextConnect queues an error for the next Connect call.
func (m *MockTransport) FailNextConnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErrs = append(m.connectErrs, err)
}

// Connected delivers each socket as Connect creates it.
func (m *MockTransport) Connected() <-chan *MockSocket {
	return m.connected
}

// ConnectCount returns the number of Connect calls, failed ones included.
func (m *MockTransport) ConnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.auths)
}

// LastAuth returns the auth state passed to the latest Connect call.
func (m *MockTransport) LastAuth() *credstore.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.auths) == 0 {
		return nil
	}
	return m.auths[len(m.auths)-1]
}

// SentText is a message recorded by MockSocket.
type SentText struct {
	Addr     string
	Text     string
	QuotedID string
}

// PresenceUpdate is a presence change recorded by MockSocket.
type PresenceUpdate struct {
	Addr     string
	Presence Presence
}

// MockSocket implements Socket for testing. It records sends and lets tests
// inject events with Emit.
type MockSocket struct {
	mu        sync.Mutex
	events    chan Event
	closed    bool
	sent      []SentText
	presences []PresenceUpdate
	pairings  []string

	// PairingCode is returned by RequestPairingCode when PairingErr is nil.
	PairingCode string
	PairingErr  error
	// SendErr, when set, fails every SendText.
	SendErr error
	// PresenceErr, when set, fails every SendPresence.
	PresenceErr error
	// OnSend, when set, runs after a send is recorded.
	OnSend func(SentText)
}

// NewMockSocket creates a MockSocket with a buffered event channel.
func NewMockSocket() *MockSocket {
	return &MockSocket{
		events:      make(chan Event, 100),
		PairingCode: "ABCD-1234",
	}
}

// Events returns the event channel.
func (s *MockSocket) Events() <-chan Event { return s.events }

// SendText records the message.
func (s *MockSocket) SendText(ctx context.Context, addr, text, quotedID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.SendErr != nil {
		err := s.SendErr
		s.mu.Unlock()
		return err
	}
	msg := SentText{Addr: addr, Text: text, QuotedID: quotedID}
	s.sent = append(s.sent, msg)
	hook := s.OnSend
	s.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

// SendPresence records the presence change.
func (s *MockSocket) SendPresence(ctx context.Context, addr string, p Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotConnected
	}
	s.presences = append(s.presences, PresenceUpdate{Addr: addr, Presence: p})
	return s.PresenceErr
}

// RequestPairingCode records the request and returns PairingCode or PairingErr.
func (s *MockSocket) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrNotConnected
	}
	s.pairings = append(s.pairings, phone)
	if s.PairingErr != nil {
		return "", s.PairingErr
	}
	return s.PairingCode, nil
}

// Close marks the socket closed and closes the event channel.
func (s *MockSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// --- Test helpers ---

// Emit delivers ev as if it came from the network. Events emitted after
// Close are dropped.
func (s *MockSocket) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// EmitMessage delivers an inbound message.
func (s *MockSocket) EmitMessage(env Envelope) {
	s.Emit(MessageEvent{Envelope: env})
}

// IsClosed reports whether Close was called.
func (s *MockSocket) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AllSent returns a copy of all sent messages.
func (s *MockSocket) AllSent() []SentText {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentText, len(s.sent))
	copy(out, s.sent)
	return out
}

// LastSent returns the most recently sent message.
func (s *MockSocket) LastSent() (SentText, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return SentText{}, false
	}
	return s.sent[len(s.sent)-1], true
}

// SentCount returns the number of sent messages.
func (s *MockSocket) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// Presences returns a copy of all presence updates.
func (s *MockSocket) Presences() []PresenceUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PresenceUpdate, len(s.presences))
	copy(out, s.presences)
	return out
}

// PairingRequests returns the phone numbers pairing codes were requested for.
func (s *MockSocket) PairingRequests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.pairings))
	copy(out, s.pairings)
	return out
}

// String implements fmt.Stringer for test failure output.
func (s *MockSocket) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("MockSocket{closed=%v sent=%d presences=%d}", s.closed, len(s.sent), len(s.presences))
}
