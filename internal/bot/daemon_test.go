package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/fortysix/internal/config"
	"github.com/zulandar/fortysix/internal/metrics"
)

func testDaemonConfig() *config.Config {
	cfg := config.Default()
	cfg.Bot.PhoneNumber = "+1 555 010 0046"
	cfg.AI.APIKey = "test"
	cfg.AI.QueryPrefixEnabled = true
	return &cfg
}

func TestNewDaemon_Validation(t *testing.T) {
	cfg := testDaemonConfig()
	tr := NewMockTransport()
	store := newFakeStore(true)
	client := &stubClient{}

	cases := map[string]DaemonOpts{
		"config":    {Transport: tr, Store: store, Client: client},
		"transport": {Config: cfg, Store: store, Client: client},
		"store":     {Config: cfg, Transport: tr, Client: client},
		"client":    {Config: cfg, Transport: tr, Store: store},
	}
	for name, opts := range cases {
		_, err := NewDaemon(opts)
		if err == nil || !strings.Contains(err.Error(), name) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestDaemon_AnswersQuery(t *testing.T) {
	cfg := testDaemonConfig()
	tr := NewMockTransport()
	m := metrics.New()
	d, err := NewDaemon(DaemonOpts{
		Config:       cfg,
		Transport:    tr,
		Store:        newFakeStore(true),
		Client:       &stubClient{answer: "4"},
		SystemPrompt: config.DefaultSystemPrompt,
		Version:      "test",
		Metrics:      m,
		Clock:        &fakeClock{},
	})
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	sock := nextSocket(t, tr)
	sock.Emit(OpenEvent{Self: botAddr, Name: "Forty Six"})
	sock.EmitMessage(directMsg("m1", "?What is 2+2?"))

	waitFor(t, "answer", func() bool {
		for _, s := range sock.AllSent() {
			if s.Text == "4" && s.Addr == userAddr && s.QuotedID == "m1" {
				return true
			}
		}
		return false
	})

	h := d.Health()
	if !h.Connected || h.State != "open" || h.Sessions != 1 || h.Self != botAddr || h.Version != "test" {
		t.Errorf("Health = %+v", h)
	}
	if d.Sessions().Len(userAddr) != 2 {
		t.Errorf("session turns = %d", d.Sessions().Len(userAddr))
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "fortysix_sessions_active" {
			found = f.GetMetric()[0].GetGauge().GetValue() == 1
		}
	}
	if !found {
		t.Error("sessions_active gauge missing or wrong")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_StatusListenFailureStops(t *testing.T) {
	cfg := testDaemonConfig()
	cfg.Status.Addr = "127.0.0.1:-1"
	tr := NewMockTransport()
	d, err := NewDaemon(DaemonOpts{
		Config:    cfg,
		Transport: tr,
		Store:     newFakeStore(true),
		Client:    &stubClient{},
		Clock:     &fakeClock{},
	})
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "status") {
			t.Errorf("Run = %v, want status error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_LoggedOut(t *testing.T) {
	cfg := testDaemonConfig()
	tr := NewMockTransport()
	d, err := NewDaemon(DaemonOpts{
		Config:    cfg,
		Transport: tr,
		Store:     newFakeStore(true),
		Client:    &stubClient{},
		Clock:     &fakeClock{},
	})
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()
	nextSocket(t, tr).Emit(CloseEvent{StatusCode: StatusLoggedOut})

	select {
	case err := <-errCh:
		if err != ErrLoggedOut {
			t.Errorf("Run = %v, want ErrLoggedOut", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if d.Supervisor().ConnectionState() != StateLoggedOut {
		t.Errorf("state = %v", d.Supervisor().ConnectionState())
	}
}
