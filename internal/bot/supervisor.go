package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zulandar/fortysix/internal/credstore"
	"github.com/zulandar/fortysix/internal/metrics"
)

// State is the connection state owned by the Supervisor.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingPairing
	StateOpen
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingPairing:
		return "awaiting-pairing"
	case StateOpen:
		return "open"
	case StateLoggedOut:
		return "logged-out"
	default:
		return "disconnected"
	}
}

// Pairing methods.
const (
	PairingCode = "code"
	PairingQR   = "qr"
)

// Backoff computes reconnect delays: attempt * Base, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the delay before reconnect attempt n (n >= 1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * b.Base
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// CredentialStore is the persistence the Supervisor needs.
type CredentialStore interface {
	Load() *credstore.State
	Save(u credstore.Update) bool
	EnsureLabel() (string, bool)
	Exists() bool
}

// Clock schedules the supervisor's timers.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Defaults for SupervisorOpts.
const (
	DefaultBackoffBase  = 2 * time.Second
	DefaultBackoffMax   = 30 * time.Second
	DefaultPairingDelay = 5 * time.Second
	DefaultPairingRetry = 5 * time.Second
	DefaultRestartDelay = 15 * time.Second
)

// SupervisorOpts holds parameters for creating a Supervisor.
type SupervisorOpts struct {
	Transport Transport
	Store     CredentialStore
	Handler   Handler

	PairingMethod string // PairingCode (default) or PairingQR
	Phone         string // digits only; required for PairingCode

	Backoff      Backoff
	PairingDelay time.Duration // wait after connecting before asking for a code
	PairingRetry time.Duration // wait before asking again after a failed request
	RestartDelay time.Duration // wait after a failed setup

	// Welcome sends a one-time notification to the bot's own chat on the
	// first open of the process.
	Welcome bool
	BotName string
	Prefix  string

	OnPairingCode func(code string)
	OnQR          func(code string)
	OnOpen        func(info OpenInfo)

	Metrics *metrics.Metrics // optional
	Logger  *zap.Logger
	Clock   Clock // defaults to wall time
}

// OpenInfo describes a completed handshake.
type OpenInfo struct {
	Self   string
	Number string
	Name   string
	Label  string
}

// Supervisor owns the socket lifecycle: connect, pairing, reconnect with
// backoff, terminal logout. All state transitions happen on the goroutine
// running Run; message handling is handed to a Dispatcher.
type Supervisor struct {
	opts       SupervisorOpts
	dispatcher *Dispatcher
	clock      Clock
	log        *zap.Logger

	// Loop-owned.
	attempts int
	welcomed bool

	mu    sync.Mutex
	state State
	self  string
	label string

	bg sync.WaitGroup
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(opts SupervisorOpts) (*Supervisor, error) {
	if opts.Transport == nil {
		return nil, errorf("supervisor: transport is required")
	}
	if opts.Store == nil {
		return nil, errorf("supervisor: credential store is required")
	}
	if opts.Handler == nil {
		return nil, errorf("supervisor: handler is required")
	}
	switch opts.PairingMethod {
	case "":
		opts.PairingMethod = PairingCode
	case PairingCode, PairingQR:
	default:
		return nil, errorf("supervisor: unknown pairing method %q", opts.PairingMethod)
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff.Base = DefaultBackoffBase
	}
	if opts.Backoff.Max <= 0 {
		opts.Backoff.Max = DefaultBackoffMax
	}
	if opts.PairingDelay < 0 {
		opts.PairingDelay = DefaultPairingDelay
	}
	if opts.PairingRetry <= 0 {
		opts.PairingRetry = DefaultPairingRetry
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Supervisor{
		opts:       opts,
		dispatcher: NewDispatcher(opts.Handler),
		clock:      clock,
		log:        log.Named("supervisor"),
	}, nil
}

// ConnectionState returns the current state.
func (s *Supervisor) ConnectionState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Self returns the bot's own normalized address, or "" before the first open.
func (s *Supervisor) Self() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// SessionLabel returns the session label, or "" before the first open.
func (s *Supervisor) SessionLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label
}

// CredentialsSaved reports whether credentials exist on disk.
func (s *Supervisor) CredentialsSaved() bool {
	return s.opts.Store.Exists()
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.Debug("state", zap.Stringer("from", prev), zap.Stringer("to", st))
	}
	s.opts.Metrics.SetConnectionState(st.String())
}

// setupError marks failures before or while establishing a socket. They
// restart the supervisor after RestartDelay instead of the backoff.
type setupError struct{ err error }

func (e *setupError) Error() string { return "setup: " + e.err.Error() }
func (e *setupError) Unwrap() error { return e.err }

// closeError is a retryable socket close.
type closeError struct {
	status int
	reason string
}

func (e *closeError) Error() string {
	if e.reason == "" {
		return fmt.Sprintf("connection closed (status %d)", e.status)
	}
	return fmt.Sprintf("connection closed (status %d): %s", e.status, e.reason)
}

// Run connects and keeps the connection alive until ctx is cancelled (nil),
// the device is logged out (ErrLoggedOut) or pairing is impossible
// (ErrMissingPhoneNumber). It waits for in-flight message handlers before
// returning.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.bg.Wait()
	defer s.dispatcher.Wait()

	for {
		err := s.runSocket(ctx)
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return nil
		}

		var delay time.Duration
		var setup *setupError
		switch {
		case errors.Is(err, ErrLoggedOut):
			s.setState(StateLoggedOut)
			s.log.Warn("device logged out; credentials must be cleared before restarting")
			return ErrLoggedOut
		case errors.Is(err, ErrMissingPhoneNumber):
			s.setState(StateDisconnected)
			return err
		case errors.As(err, &setup):
			delay = s.opts.RestartDelay
			s.log.Error("connection setup failed", zap.Error(err), zap.Duration("retry_in", delay))
		default:
			s.attempts++
			delay = s.opts.Backoff.Delay(s.attempts)
			s.opts.Metrics.ReconnectScheduled()
			s.log.Warn("connection closed, reconnecting",
				zap.Error(err),
				zap.Int("attempt", s.attempts),
				zap.Duration("delay", delay))
		}
		s.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(delay):
		}
	}
}

type pairingResult struct {
	code string
	err  error
}

// runSocket drives one connection attempt from Connect until the socket
// ends. Panics are converted to setup errors.
func (s *Supervisor) runSocket(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("supervisor panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			err = &setupError{err: fmt.Errorf("panic: %v", p)}
		}
	}()

	s.setState(StateConnecting)
	auth := s.opts.Store.Load()
	registered := auth.Registered()
	if auth == nil {
		s.log.Info("no saved session, pairing required")
	}

	sock, err := s.opts.Transport.Connect(ctx, auth)
	if err != nil {
		return &setupError{err: err}
	}
	defer sock.Close()

	sockCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		pairingLatch bool
		pairTimer    <-chan time.Time
		pairResults  = make(chan pairingResult, 1)
	)
	schedulePairing := func(d time.Duration) {
		pairingLatch = true
		pairTimer = s.clock.After(d)
	}

	events := sock.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-pairTimer:
			pairTimer = nil
			phone := s.opts.Phone
			s.log.Info("requesting pairing code", zap.String("phone", "+"+phone))
			s.bg.Add(1)
			go func() {
				defer s.bg.Done()
				code, err := sock.RequestPairingCode(sockCtx, phone)
				select {
				case pairResults <- pairingResult{code: code, err: err}:
				case <-sockCtx.Done():
				}
			}()

		case res := <-pairResults:
			if res.err != nil {
				s.opts.Metrics.PairingRequested("error")
				s.log.Warn("pairing code request failed",
					zap.Error(res.err),
					zap.Duration("retry_in", s.opts.PairingRetry))
				pairingLatch = false
				schedulePairing(s.opts.PairingRetry)
				continue
			}
			s.opts.Metrics.PairingRequested("ok")
			s.log.Info("pairing code issued")
			if s.opts.OnPairingCode != nil {
				s.opts.OnPairingCode(res.code)
			}

		case ev, ok := <-events:
			if !ok {
				return &closeError{status: StatusConnectionLost, reason: "event stream ended"}
			}
			switch ev := ev.(type) {
			case ConnectingEvent:
				if ev.Registered || registered {
					continue
				}
				s.setState(StateAwaitingPairing)
				if s.opts.PairingMethod == PairingQR {
					continue
				}
				if s.opts.Phone == "" {
					return ErrMissingPhoneNumber
				}
				if !pairingLatch {
					schedulePairing(s.opts.PairingDelay)
				}

			case QREvent:
				s.setState(StateAwaitingPairing)
				if s.opts.OnQR != nil {
					s.opts.OnQR(ev.Code)
				}

			case OpenEvent:
				pairingLatch = false
				pairTimer = nil
				registered = true
				s.handleOpen(sockCtx, sock, ev)

			case CloseEvent:
				if ev.LoggedOut() {
					return ErrLoggedOut
				}
				return &closeError{status: ev.StatusCode, reason: ev.Reason}

			case CredsEvent:
				if !s.opts.Store.Save(ev.Update) {
					s.opts.Metrics.CredentialSaveFailed()
					s.log.Warn("credential update not persisted; continuing in memory")
				}

			case MessageEvent:
				s.dispatcher.Submit(ctx, sock, ev.Envelope)
			}
		}
	}
}

// handleOpen applies the side effects of a completed handshake.
func (s *Supervisor) handleOpen(ctx context.Context, sock Socket, ev OpenEvent) {
	s.attempts = 0
	var self string
	if strings.TrimSpace(ev.Self) != "" {
		self = NormalizeUser(ev.Self)
	}
	label, ok := s.opts.Store.EnsureLabel()
	if !ok {
		s.log.Warn("session label kept in memory only")
	}

	s.mu.Lock()
	s.self = self
	s.label = label
	s.mu.Unlock()
	s.setState(StateOpen)

	info := OpenInfo{Self: self, Number: NumberOf(self), Name: ev.Name, Label: label}
	s.log.Info("connected",
		zap.String("number", info.Number),
		zap.String("name", info.Name),
		zap.String("session", label))
	if s.opts.OnOpen != nil {
		s.opts.OnOpen(info)
	}

	if !s.opts.Welcome || s.welcomed {
		return
	}
	if self == "" {
		s.log.Warn("own address unknown, welcome message deferred")
		return
	}
	s.welcomed = true
	text := s.welcomeText(info)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if err := sock.SendText(ctx, self, text, ""); err != nil {
			s.log.Warn("could not send welcome message", zap.Error(err))
		}
	}()
}

func (s *Supervisor) welcomeText(info OpenInfo) string {
	name := s.opts.BotName
	if name == "" {
		name = "Forty Six"
	}
	return fmt.Sprintf("✅ *%s Online!*\n\n🔑 Session: `%s`\n📱 Number: %s\n⏰ Connected: %s\n\nType %shelp for commands",
		name, info.Label, info.Number, time.Now().Format("2006-01-02 15:04:05"), s.opts.Prefix)
}
