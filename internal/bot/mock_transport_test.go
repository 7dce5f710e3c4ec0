package bot

import (
	"context"
	"errors"
	"testing"
)

// Compile-time interface compliance checks.
var _ Transport = (*MockTransport)(nil)
var _ Socket = (*MockSocket)(nil)

func TestMockTransport_ConnectAndFail(t *testing.T) {
	m := NewMockTransport()
	ctx := context.Background()

	boom := errors.New("boom")
	m.FailNextConnect(boom)
	if _, err := m.Connect(ctx, nil); !errors.Is(err, boom) {
		t.Fatalf("Connect = %v, want queued error", err)
	}

	s, err := m.Connect(ctx, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := <-m.Connected(); got != s {
		t.Error("Connected() did not deliver the new socket")
	}
	if m.ConnectCount() != 2 {
		t.Errorf("ConnectCount = %d, want 2", m.ConnectCount())
	}
}

func TestMockSocket_RecordsSends(t *testing.T) {
	s := NewMockSocket()
	ctx := context.Background()

	if _, ok := s.LastSent(); ok {
		t.Fatal("LastSent on empty socket")
	}
	_ = s.SendText(ctx, userAddr, "one", "")
	_ = s.SendText(ctx, userAddr, "two", "q1")
	_ = s.SendPresence(ctx, userAddr, PresenceComposing)

	if s.SentCount() != 2 {
		t.Errorf("SentCount = %d", s.SentCount())
	}
	last, _ := s.LastSent()
	if last.Text != "two" || last.QuotedID != "q1" {
		t.Errorf("LastSent = %+v", last)
	}
	if p := s.Presences(); len(p) != 1 || p[0].Presence != PresenceComposing {
		t.Errorf("Presences = %+v", p)
	}
}

func TestMockSocket_CloseFailsFast(t *testing.T) {
	s := NewMockSocket()
	ctx := context.Background()

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-s.Events(); ok {
		t.Error("events channel should be closed")
	}
	if err := s.SendText(ctx, userAddr, "x", ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendText after Close = %v", err)
	}
	if _, err := s.RequestPairingCode(ctx, "1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("RequestPairingCode after Close = %v", err)
	}
	// Double close and emit after close are safe.
	if err := s.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}
	s.Emit(OpenEvent{})
}

func TestMockSocket_PairingCode(t *testing.T) {
	s := NewMockSocket()
	code, err := s.RequestPairingCode(context.Background(), "15550100046")
	if err != nil || code != "ABCD-1234" {
		t.Fatalf("RequestPairingCode = %q, %v", code, err)
	}
	if got := s.PairingRequests(); len(got) != 1 || got[0] != "15550100046" {
		t.Errorf("PairingRequests = %v", got)
	}
}
