package gateway

import "errors"

// Failure taxonomy for transport and delivery errors.
//
// Transient is the default classification: anything that is not explicitly
// permanent (network failures, 5xx responses, media-fetch and normalization
// errors) is retried up to the relevant ceiling.
var (
	// ErrTransientTransport marks retriable failures: network errors and
	// 5xx-class responses.
	ErrTransientTransport = errors.New("transient transport error")

	// ErrPermanentTransport marks 4xx-class responses and explicit protocol
	// rejections. Jobs failing with it are dropped and alerted, never retried.
	ErrPermanentTransport = errors.New("permanent transport error")

	// ErrAuthTerminated marks an explicit deauthorization by the transport.
	// The session and its persisted credentials are purged; there is no
	// recovery short of pairing again from scratch.
	ErrAuthTerminated = errors.New("authentication terminated")

	// ErrNotFound is returned by lookups and updates for unknown session ids.
	ErrNotFound = errors.New("session not found")
)

// ConfigError reports missing or invalid transport configuration.
// It is surfaced synchronously to the caller; no session is created.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentTransport) || errors.Is(err, ErrAuthTerminated)
}
