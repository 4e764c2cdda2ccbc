package transport

import (
	"log/slog"

	"courier/cmd/internal/gateway"
)

// NewFactory returns the production provider factory. renderQR controls
// whether socket pairing challenges are also drawn as a terminal QR code.
func NewFactory(log *slog.Logger, renderQR bool) gateway.ProviderFactory {
	return gateway.ProviderFactoryFunc(func(sessionID string, cfg gateway.TransportConfig) (gateway.Provider, error) {
		switch cfg.Kind() {
		case gateway.KindRest:
			return NewRestProvider(log, sessionID, cfg), nil
		default:
			if cfg.SocketAddress == "" {
				return nil, &gateway.ConfigError{Reason: "socket transport requires an address"}
			}
			return NewSocketProvider(log, sessionID, cfg, renderQR), nil
		}
	})
}
