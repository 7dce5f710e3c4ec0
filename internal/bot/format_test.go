package bot

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

func TestSplitMessage_Short(t *testing.T) {
	got := SplitMessage("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestSplitMessage_PrefersNewlines(t *testing.T) {
	got := SplitMessage("line one\nline two\nline three", 18)
	want := []string{"line one\nline two", "line three"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSplitMessage_FallsBackToSpaces(t *testing.T) {
	got := SplitMessage("aaaa bbbb cccc", 10)
	want := []string{"aaaa bbbb", "cccc"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSplitMessage_NeverSplitsRunes(t *testing.T) {
	text := strings.Repeat("é", 10) // 20 bytes, no spaces
	for _, chunk := range SplitMessage(text, 5) {
		if !utf8.ValidString(chunk) {
			t.Fatalf("invalid chunk %q", chunk)
		}
		if len(chunk) > 5 {
			t.Fatalf("chunk %q over limit", chunk)
		}
	}
}

func TestReply_Chunks(t *testing.T) {
	sock := NewMockSocket()
	text := strings.Repeat("word ", MaxTextLen/2)
	reply(context.Background(), sock, directMsg("m1", ""), text, zap.NewNop())

	sent := sock.AllSent()
	if len(sent) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(sent))
	}
	for _, s := range sent {
		if len(s.Text) > MaxTextLen {
			t.Errorf("chunk of %d bytes", len(s.Text))
		}
		if s.QuotedID != "m1" {
			t.Errorf("chunk not quoting original: %+v", s.QuotedID)
		}
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{12 * time.Second, "12s"},
		{3*time.Minute + 4*time.Second, "3m 4s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
		{50*time.Hour + 7*time.Minute, "2d 2h 7m"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
