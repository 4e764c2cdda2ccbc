// Package transport implements the pluggable providers behind a session:
// the pairing-based socket variant over WebSocket and the credentialed
// REST variant over plain HTTP.
package transport

import (
	"encoding/json"
	"time"

	"courier/cmd/internal/gateway"
)

// Subprotocol is negotiated on the socket handshake. The server must echo
// it back or the dial is rejected.
const Subprotocol = "courier.transport.v1"

// ProtocolVersion is carried in every envelope's "v" field.
const ProtocolVersion = 1

// Envelope types, server to client.
const (
	TypePairChallenge = "pair.challenge"
	TypeSessionOpen   = "session.open"
	TypeMessage       = "message"
	TypeDisconnect    = "disconnect"
	TypeSendAck       = "send.ack"
	TypeSendErr       = "send.err"
)

// Envelope types, client to server.
const (
	TypeSendText        = "send.text"
	TypeSendMedia       = "send.media"
	TypeSendInteractive = "send.interactive"
	TypeLogout          = "logout"
)

// Envelope is the framing shared by both directions of the socket protocol.
// ID correlates a client send with its ack or error.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PairChallengePayload carries the code a device must confirm to link.
type PairChallengePayload struct {
	Code string `json:"code"`
}

// SessionOpenPayload announces a completed handshake.
type SessionOpenPayload struct {
	SelfID string `json:"self_id"`
}

// DisconnectPayload announces an imminent server-side close. Reason
// "logged_out" means credentials were revoked; anything else is recoverable.
type DisconnectPayload struct {
	Reason string `json:"reason"`
}

// SendAckPayload confirms the send referenced by Ref.
type SendAckPayload struct {
	Ref   string `json:"ref"`
	MsgID string `json:"msg_id"`
}

// SendErrPayload rejects the send referenced by Ref.
type SendErrPayload struct {
	Ref       string `json:"ref"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Permanent bool   `json:"permanent,omitempty"`
}

// SendTextPayload is the client body for TypeSendText.
type SendTextPayload struct {
	Target string `json:"target"`
	Text   string `json:"text"`
}

// SendMediaPayload is the client body for TypeSendMedia. Data marshals as
// base64; URL lets the server fetch the bytes itself.
type SendMediaPayload struct {
	Target   string `json:"target"`
	Kind     string `json:"kind"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	FileName string `json:"file_name,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// SendInteractivePayload is the client body for TypeSendInteractive.
type SendInteractivePayload struct {
	Target string              `json:"target"`
	Prompt gateway.Interactive `json:"prompt"`
}
