// Package bot connects a WhatsApp linked-device session to the command router
// and the AI query gate.
package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zulandar/fortysix/internal/credstore"
)

// Sentinel errors.
var (
	// ErrLoggedOut is returned by Supervisor.Run when the account unlinked
	// this device. The stored credentials are useless from then on.
	ErrLoggedOut = errors.New("bot: device logged out")
	// ErrMissingPhoneNumber is returned when pairing by code is needed but no
	// phone number is configured.
	ErrMissingPhoneNumber = errors.New("bot: phone number required for pairing")
	// ErrNotConnected is returned by sockets used after teardown.
	ErrNotConnected = errors.New("bot: not connected")
)

// Transport opens sockets to the WhatsApp network. Each Connect returns a new
// Socket; the supervisor never holds more than one at a time.
type Transport interface {
	Connect(ctx context.Context, auth *credstore.State) (Socket, error)
}

// Sender is the part of a Socket message handlers use.
type Sender interface {
	// SendText delivers text to addr, quoting quotedID when non-empty.
	SendText(ctx context.Context, addr, text, quotedID string) error
	// SendPresence updates the chat presence shown to addr.
	SendPresence(ctx context.Context, addr string, p Presence) error
}

// Socket is one live connection.
type Socket interface {
	Sender

	// Events delivers lifecycle, credential and message events in order.
	// The channel is closed after the socket is torn down.
	Events() <-chan Event

	// RequestPairingCode asks for a code that links this device to phone.
	RequestPairingCode(ctx context.Context, phone string) (string, error)

	// Close tears the socket down. Pending and later requests fail fast.
	Close() error
}

// Presence is a chat presence state.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
	PresenceAvailable Presence = "available"
)

// Disconnect status codes reported with a close event.
const (
	StatusLoggedOut          = 401
	StatusConnectionLost     = 408
	StatusConnectionClosed   = 428
	StatusConnectionReplaced = 440
	StatusBadSession         = 500
	StatusRestartRequired    = 515
)

// Event is one of the typed transport events below.
type Event interface {
	isEvent()
}

// ConnectingEvent reports the handshake started. Registered is false when the
// credentials have not been paired with an account yet.
type ConnectingEvent struct {
	Registered bool
}

// QREvent carries a QR payload for the QR pairing flow.
type QREvent struct {
	Code string
}

// OpenEvent reports a completed handshake.
type OpenEvent struct {
	Self string // own address, possibly with a device suffix
	Name string
}

// CloseEvent reports the socket closed.
type CloseEvent struct {
	StatusCode int
	Reason     string
}

// CredsEvent carries a credential change that must be persisted.
type CredsEvent struct {
	Update credstore.Update
}

// MessageEvent carries one inbound message.
type MessageEvent struct {
	Envelope Envelope
}

func (ConnectingEvent) isEvent() {}
func (QREvent) isEvent()         {}
func (OpenEvent) isEvent()       {}
func (CloseEvent) isEvent()      {}
func (CredsEvent) isEvent()      {}
func (MessageEvent) isEvent()    {}

// LoggedOut reports whether the close is terminal.
func (e CloseEvent) LoggedOut() bool { return e.StatusCode == StatusLoggedOut }

// Envelope is an inbound message.
type Envelope struct {
	ID          string
	Chat        string // conversation address replies go to
	Participant string // sender within a group; empty in direct chats
	FromMe      bool
	PushName    string
	Text        string
	Timestamp   time.Time
}

// IsGroup reports whether the message was posted in a group.
func (e Envelope) IsGroup() bool { return IsGroupAddr(e.Chat) }

// Sender returns the address of the author.
func (e Envelope) Sender() string {
	if e.Participant != "" {
		return e.Participant
	}
	return e.Chat
}

// SessionKey returns the conversation history key: the participant in
// groups, the chat address in direct chats.
func (e Envelope) SessionKey() string {
	if e.IsGroup() {
		return e.Sender()
	}
	return e.Chat
}

const (
	groupSuffix = "@g.us"
	userServer  = "s.whatsapp.net"
)

// IsGroupAddr reports whether addr is a group address.
func IsGroupAddr(addr string) bool { return strings.HasSuffix(addr, groupSuffix) }

// NormalizeUser strips the device suffix from a user address:
// "15550100046:7@s.whatsapp.net" becomes "15550100046@s.whatsapp.net".
func NormalizeUser(addr string) string {
	user, server, ok := strings.Cut(addr, "@")
	if !ok {
		server = userServer
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user + "@" + server
}

// NumberOf returns the phone-number part of a user address.
func NumberOf(addr string) string {
	user, _, _ := strings.Cut(addr, "@")
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user
}
