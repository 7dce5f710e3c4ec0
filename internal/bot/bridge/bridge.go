// Package bridge implements bot.Transport over a websocket to a WhatsApp
// bridge sidecar. The sidecar owns the WhatsApp wire protocol and exchanges
// JSON frames with this package.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zulandar/fortysix/internal/bot"
	"github.com/zulandar/fortysix/internal/credstore"
)

// ErrClosed is returned by requests on a socket that has been torn down.
var ErrClosed = errors.New("bridge: socket closed")

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	eventBuffer             = 64
)

// Opts configures a Transport.
type Opts struct {
	URL              string
	HandshakeTimeout time.Duration // defaults to 10s
	WriteTimeout     time.Duration // defaults to 10s
	Logger           *zap.Logger
}

// Transport dials the bridge once per Connect.
type Transport struct {
	url          string
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	log          *zap.Logger
}

// New creates a Transport.
func New(opts Opts) (*Transport, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("bridge: url is required")
	}
	hs := opts.HandshakeTimeout
	if hs <= 0 {
		hs = defaultHandshakeTimeout
	}
	wt := opts.WriteTimeout
	if wt <= 0 {
		wt = defaultWriteTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		url:          opts.URL,
		dialer:       &websocket.Dialer{HandshakeTimeout: hs},
		writeTimeout: wt,
		log:          log.Named("bridge"),
	}, nil
}

// Connect dials the bridge and hands it the stored auth state. Lifecycle
// events follow on the returned socket's Events channel.
func (t *Transport) Connect(ctx context.Context, auth *credstore.State) (bot.Socket, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", t.url, err)
	}
	s := &socket{
		conn:         conn,
		writeTimeout: t.writeTimeout,
		events:       make(chan bot.Event, eventBuffer),
		pending:      make(map[string]chan inFrame),
		done:         make(chan struct{}),
		readDone:     make(chan struct{}),
		log:          t.log,
	}
	if err := s.write(outFrame{Type: frameConnect, ID: uuid.NewString(), Auth: auth}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bridge: handshake: %w", err)
	}
	go s.readLoop()
	return s, nil
}

// socket is one websocket session with the bridge.
type socket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	log          *zap.Logger

	writeMu sync.Mutex

	events   chan bot.Event
	done     chan struct{}
	readDone chan struct{}

	mu      sync.Mutex
	closed  bool
	pending map[string]chan inFrame

	closeOnce sync.Once
}

func (s *socket) Events() <-chan bot.Event { return s.events }

func (s *socket) SendText(ctx context.Context, addr, text, quotedID string) error {
	_, err := s.request(ctx, outFrame{Type: frameSendText, To: addr, Text: text, QuotedID: quotedID})
	return err
}

func (s *socket) SendPresence(ctx context.Context, addr string, p bot.Presence) error {
	_, err := s.request(ctx, outFrame{Type: framePresence, To: addr, State: string(p)})
	return err
}

func (s *socket) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	res, err := s.request(ctx, outFrame{Type: framePairingCode, Phone: phone})
	if err != nil {
		return "", err
	}
	if res.Code == "" {
		return "", fmt.Errorf("bridge: pairing_code: empty code")
	}
	return res.Code, nil
}

// Close tears the socket down, fails pending requests and waits for the
// read loop to exit. The events channel is closed afterwards.
func (s *socket) Close() error {
	s.closeOnce.Do(func() {
		s.teardown()
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		s.conn.Close()
	})
	<-s.readDone
	return nil
}

// teardown marks the socket closed and wakes every waiter.
func (s *socket) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	s.pending = nil
}

func (s *socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// request writes f with a fresh id and waits for the matching result frame.
func (s *socket) request(ctx context.Context, f outFrame) (inFrame, error) {
	f.ID = uuid.NewString()
	ch := make(chan inFrame, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return inFrame{}, ErrClosed
	}
	s.pending[f.ID] = ch
	s.mu.Unlock()
	defer s.forget(f.ID)

	if err := s.write(f); err != nil {
		if s.isClosed() {
			return inFrame{}, ErrClosed
		}
		return inFrame{}, fmt.Errorf("bridge: %s: %w", f.Type, err)
	}

	select {
	case res := <-ch:
		if !res.OK {
			msg := res.Error
			if msg == "" {
				msg = "request failed"
			}
			return res, fmt.Errorf("bridge: %s: %s", f.Type, msg)
		}
		return res, nil
	case <-ctx.Done():
		return inFrame{}, ctx.Err()
	case <-s.done:
		return inFrame{}, ErrClosed
	}
}

func (s *socket) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		delete(s.pending, id)
	}
}

func (s *socket) write(f outFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop owns the events channel. A read failure not caused by Close is
// reported as a lost connection before the channel is closed.
func (s *socket) readLoop() {
	defer close(s.readDone)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				s.log.Debug("read", zap.Error(err))
				s.teardown()
				s.emitFinal(bot.CloseEvent{StatusCode: bot.StatusConnectionLost, Reason: err.Error()})
			}
			return
		}

		var f inFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warn("malformed frame", zap.Error(err))
			continue
		}
		if f.Type == frameResult {
			s.resolve(f)
			continue
		}
		ev, ok := toEvent(f)
		if !ok {
			s.log.Debug("ignored frame", zap.String("type", f.Type), zap.String("state", f.State))
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// emitFinal delivers ev after teardown, dropping it if nobody is reading.
func (s *socket) emitFinal(ev bot.Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event buffer full, dropping close event")
	}
}

func (s *socket) resolve(f inFrame) {
	s.mu.Lock()
	ch, ok := s.pending[f.ID]
	s.mu.Unlock()
	if !ok {
		s.log.Debug("result for unknown request", zap.String("id", f.ID))
		return
	}
	select {
	case ch <- f:
	default:
	}
}
