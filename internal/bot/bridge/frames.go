package bridge

import (
	"encoding/json"
	"time"

	"github.com/zulandar/fortysix/internal/bot"
	"github.com/zulandar/fortysix/internal/credstore"
)

// Client → bridge frame types.
const (
	frameConnect     = "connect"
	frameSendText    = "send_text"
	framePresence    = "presence"
	framePairingCode = "pairing_code"
)

// Bridge → client frame types.
const (
	frameConnection = "connection"
	frameCreds      = "creds"
	frameMessage    = "message"
	frameResult     = "result"
)

// Connection states carried by connection frames.
const (
	stateConnecting = "connecting"
	stateQR         = "qr"
	stateOpen       = "open"
	stateClose      = "close"
)

// outFrame is a request written to the bridge.
type outFrame struct {
	Type     string           `json:"type"`
	ID       string           `json:"id"`
	Auth     *credstore.State `json:"auth,omitempty"`
	To       string           `json:"to,omitempty"`
	Text     string           `json:"text,omitempty"`
	QuotedID string           `json:"quoted_id,omitempty"`
	State    string           `json:"state,omitempty"`
	Phone    string           `json:"phone,omitempty"`
}

// inFrame is the union of everything the bridge sends.
type inFrame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// connection
	State      string    `json:"state,omitempty"`
	Registered bool      `json:"registered,omitempty"`
	QR         string    `json:"qr,omitempty"`
	Me         *identity `json:"me,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`

	// creds
	Creds map[string]json.RawMessage `json:"creds,omitempty"`
	Keys  map[string]json.RawMessage `json:"keys,omitempty"`

	// message
	Message *wireMessage `json:"message,omitempty"`

	// result
	OK    bool   `json:"ok,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

type identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type wireMessage struct {
	ID          string `json:"id"`
	Chat        string `json:"chat"`
	Participant string `json:"participant,omitempty"`
	FromMe      bool   `json:"from_me,omitempty"`
	PushName    string `json:"push_name,omitempty"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestamp"` // unix seconds
}

// toEvent maps a non-result frame to a bot event. ok is false for frames
// that carry no event.
func toEvent(f inFrame) (bot.Event, bool) {
	switch f.Type {
	case frameConnection:
		switch f.State {
		case stateConnecting:
			return bot.ConnectingEvent{Registered: f.Registered}, true
		case stateQR:
			return bot.QREvent{Code: f.QR}, true
		case stateOpen:
			ev := bot.OpenEvent{}
			if f.Me != nil {
				ev.Self, ev.Name = f.Me.ID, f.Me.Name
			}
			return ev, true
		case stateClose:
			return bot.CloseEvent{StatusCode: f.StatusCode, Reason: f.Error}, true
		}
	case frameCreds:
		if len(f.Creds) == 0 && len(f.Keys) == 0 {
			return nil, false
		}
		return bot.CredsEvent{Update: credstore.Update{Creds: f.Creds, Keys: f.Keys}}, true
	case frameMessage:
		if f.Message == nil {
			return nil, false
		}
		m := f.Message
		env := bot.Envelope{
			ID:          m.ID,
			Chat:        m.Chat,
			Participant: m.Participant,
			FromMe:      m.FromMe,
			PushName:    m.PushName,
			Text:        m.Text,
		}
		if m.Timestamp > 0 {
			env.Timestamp = time.Unix(m.Timestamp, 0)
		}
		return bot.MessageEvent{Envelope: env}, true
	}
	return nil, false
}
