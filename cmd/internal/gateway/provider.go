package gateway

import (
	"context"
	"encoding/json"
)

// ProviderKind is the transport variant a provider implements.
// Variants are declared, never probed: callers match on Kind exhaustively.
type ProviderKind string

const (
	// KindSocket is the interactive pairing-based transport. Stateful,
	// requires a live persistent connection and reconnection handling.
	KindSocket ProviderKind = "socket"

	// KindRest is the stateless credentialed request/response transport.
	KindRest ProviderKind = "rest"
)

// TransportConfig carries the credentials and addresses for either variant.
type TransportConfig struct {
	// Socket variant.
	SocketAddress string `json:"socket_address,omitempty"`
	DeviceName    string `json:"device_name,omitempty"`

	// REST variant. Both fields must be set for the variant to be usable.
	RestBaseURL string `json:"rest_base_url,omitempty"`
	RestToken   string `json:"rest_token,omitempty"`
}

// Kind returns the variant this config selects: rest when usable REST
// credentials are present, socket otherwise.
func (c TransportConfig) Kind() ProviderKind {
	if c.RestBaseURL != "" && c.RestToken != "" {
		return KindRest
	}
	return KindSocket
}

// Merge returns c overlaid with the non-zero fields of patch.
func (c TransportConfig) Merge(patch TransportConfig) TransportConfig {
	if patch.SocketAddress != "" {
		c.SocketAddress = patch.SocketAddress
	}
	if patch.DeviceName != "" {
		c.DeviceName = patch.DeviceName
	}
	if patch.RestBaseURL != "" {
		c.RestBaseURL = patch.RestBaseURL
	}
	if patch.RestToken != "" {
		c.RestToken = patch.RestToken
	}
	return c
}

// IsZero reports whether no field of c is set.
func (c TransportConfig) IsZero() bool {
	return c == TransportConfig{}
}

// DisconnectReason classifies a transport disconnect.
type DisconnectReason string

const (
	// ReasonRecoverable covers network drops and server restarts; the
	// session schedules a reconnection with backoff.
	ReasonRecoverable DisconnectReason = "recoverable"

	// ReasonLoggedOut is an explicit deauthorization; the session is purged
	// and never reconnects.
	ReasonLoggedOut DisconnectReason = "logged_out"
)

// Event is one item in a session's inbox. Exactly one field is non-nil.
// Providers push events; the session owns the single consumer loop.
type Event struct {
	Open    *OpenEvent
	Closed  *ClosedEvent
	Pairing *PairingEvent
	Message *MessageEvent
}

// OpenEvent reports a completed connect (socket: handshake and pairing done).
type OpenEvent struct {
	// SelfID is the transport's own identity, used to recognize
	// self-originated traffic.
	SelfID string
}

// ClosedEvent reports a disconnect and its classification.
type ClosedEvent struct {
	Reason DisconnectReason
	Err    error
}

// PairingEvent carries the ephemeral pairing challenge a device must confirm.
type PairingEvent struct {
	Challenge string
}

// MessageEvent carries a raw inbound transport event. FromSelf and
// HasContent are cheap pre-parsed hints so the session can decide whether
// the event deserves a delivery job without normalizing it.
type MessageEvent struct {
	Raw        json.RawMessage
	FromSelf   bool
	HasContent bool
}

// Provider is the pluggable transport behind one session.
//
// Init starts the connect/pairing handshake for the socket variant; progress
// and inbound traffic are reported through Events. The REST variant reports
// itself open from Init and never disconnects. Send methods are synchronous
// and return the transport-assigned message id. Logout tears the provider
// down and closes the Events channel; a provider is not reusable afterwards.
type Provider interface {
	Kind() ProviderKind

	Init(ctx context.Context) error
	SendText(ctx context.Context, target, text string) (string, error)
	SendMedia(ctx context.Context, target string, kind ContentKind, m Media) (string, error)
	SendInteractive(ctx context.Context, target string, in Interactive) (string, error)
	Logout(ctx context.Context) error

	Events() <-chan Event
}

// ProviderFactory builds a Provider of the correct variant for a transport
// config. Configuration problems are reported synchronously as *ConfigError.
type ProviderFactory interface {
	New(sessionID string, cfg TransportConfig) (Provider, error)
}

// ProviderFactoryFunc adapts a function to ProviderFactory.
type ProviderFactoryFunc func(sessionID string, cfg TransportConfig) (Provider, error)

// New implements ProviderFactory.
func (f ProviderFactoryFunc) New(sessionID string, cfg TransportConfig) (Provider, error) {
	return f(sessionID, cfg)
}
