package bot

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/zulandar/fortysix/internal/conversation"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text    string
		ok      bool
		keyword string
		args    []string
	}{
		{"!help", true, "help", nil},
		{"!HELP", true, "help", nil},
		{"!clear all now", true, "clear", []string{"all", "now"}},
		{"!  ping", true, "ping", nil},
		{"!", false, "", nil},
		{"!   ", false, "", nil},
		{"help", false, "", nil},
		{"?help", false, "", nil},
		{" !help", false, "", nil},
	}
	for _, tt := range tests {
		inv, ok := ParseCommand(tt.text, "!")
		if ok != tt.ok {
			t.Errorf("ParseCommand(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if inv.Keyword != tt.keyword {
			t.Errorf("ParseCommand(%q) keyword = %q, want %q", tt.text, inv.Keyword, tt.keyword)
		}
		if strings.Join(inv.Args, " ") != strings.Join(tt.args, " ") {
			t.Errorf("ParseCommand(%q) args = %v, want %v", tt.text, inv.Args, tt.args)
		}
	}
}

func TestParseCommand_MultiCharPrefix(t *testing.T) {
	inv, ok := ParseCommand("bot> stats", "bot>")
	if !ok || inv.Keyword != "stats" {
		t.Fatalf("got %+v, %v", inv, ok)
	}
	if _, ok := ParseCommand("x", ""); ok {
		t.Fatal("empty prefix must never match")
	}
}

// --- NewRouter tests ---

func TestNewRouter_Validation(t *testing.T) {
	if _, err := NewRouter(RouterOpts{Commands: &CommandHandler{}, Gate: &Gate{}}); err == nil {
		t.Error("expected error for empty prefix")
	}
	if _, err := NewRouter(RouterOpts{Prefix: "!", Gate: &Gate{}}); err == nil {
		t.Error("expected error for nil command handler")
	}
	if _, err := NewRouter(RouterOpts{Prefix: "!", Commands: &CommandHandler{}}); err == nil {
		t.Error("expected error for nil gate")
	}
}

// --- Handle tests ---

func TestRouter_AIQueryEndToEnd(t *testing.T) {
	client := &stubClient{answer: "4"}
	router, sessions := newTestRouter(t, client, openPolicy(), "")
	sock := NewMockSocket()

	router.Handle(context.Background(), sock, directMsg("m1", "?What is 2+2?"))

	last, ok := sock.LastSent()
	if !ok {
		t.Fatal("expected a reply")
	}
	if last.Text != "4" || last.Addr != userAddr || last.QuotedID != "m1" {
		t.Errorf("reply = %+v", last)
	}

	calls := client.calls()
	if len(calls) != 1 {
		t.Fatalf("completion calls = %d, want 1", len(calls))
	}
	req := calls[0]
	if req.SystemPrompt != "be brief" || req.Model != "test-model" {
		t.Errorf("request = %+v", req)
	}
	if len(req.Turns) != 1 || req.Turns[0] != conversation.UserTurn("What is 2+2?") {
		t.Errorf("turns = %+v", req.Turns)
	}

	hist := sessions.GetOrCreate(userAddr)
	if len(hist) != 2 || hist[1] != conversation.AssistantTurn("4") {
		t.Errorf("history = %+v", hist)
	}
}

func TestRouter_CommandGoesToHandler(t *testing.T) {
	client := &stubClient{answer: "nope"}
	router, _ := newTestRouter(t, client, Policy{InGroups: true, InDirect: true}, "")
	sock := NewMockSocket()

	router.Handle(context.Background(), sock, directMsg("m1", "!help"))

	last, ok := sock.LastSent()
	if !ok || !strings.Contains(last.Text, "!ping") {
		t.Fatalf("expected help text, got %+v", last)
	}
	if len(client.calls()) != 0 {
		t.Error("command must not reach the completion client")
	}
}

func TestRouter_IgnoresOwnAndBlank(t *testing.T) {
	client := &stubClient{answer: "x"}
	router, _ := newTestRouter(t, client, Policy{InGroups: true, InDirect: true}, "")
	sock := NewMockSocket()

	own := directMsg("m1", "hello")
	own.FromMe = true
	router.Handle(context.Background(), sock, own)
	router.Handle(context.Background(), sock, directMsg("m2", "   \n\t"))

	if sock.SentCount() != 0 || len(client.calls()) != 0 {
		t.Errorf("expected no activity, sent=%d calls=%d", sock.SentCount(), len(client.calls()))
	}
}

func TestRouter_TrimsBeforeRouting(t *testing.T) {
	router, _ := newTestRouter(t, &stubClient{}, openPolicy(), "")
	sock := NewMockSocket()

	router.Handle(context.Background(), sock, directMsg("m1", "  !ping  "))

	sent := sock.AllSent()
	if len(sent) != 2 || sent[0].Text != "🏓 Pong!" {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestRouter_RecoversPanic(t *testing.T) {
	router, _ := newTestRouter(t, &stubClient{}, openPolicy(), "")
	router.commands.Register(Command{Name: "boom", Run: func(*CommandContext) (string, error) {
		panic("kaboom")
	}})
	sock := NewMockSocket()

	router.Handle(context.Background(), sock, directMsg("m1", "!boom"))

	last, ok := sock.LastSent()
	if !ok || last.Text != replyCommandFailed {
		t.Errorf("reply = %+v", last)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("abcdefghij", 4); got != "abcd..." {
		t.Errorf("got %q", got)
	}
	// é is two bytes; a cut inside it backs off to the rune start.
	got := truncate("héllo wörld", 2)
	if got != "h..." || !utf8.ValidString(got) {
		t.Errorf("got %q, want %q", got, "h...")
	}
}
